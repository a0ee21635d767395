package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"portfolio/internal/accounts"
	"portfolio/internal/database"
	"portfolio/internal/events"
	"portfolio/internal/testutil"
)

type staticChecker struct {
	blocked map[string]bool
	err     error
}

func (s staticChecker) IsBlocked(_ context.Context, ip string) (bool, error) {
	return s.blocked[ip], s.err
}

type memoryGate struct {
	keys map[string]bool
}

func (g *memoryGate) SetNX(_ context.Context, key string, _ any, _ time.Duration) *redis.BoolCmd {
	if g.keys[key] {
		return redis.NewBoolResult(false, nil)
	}
	g.keys[key] = true
	return redis.NewBoolResult(true, nil)
}

type recordingPublisher struct {
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, event events.Event) error {
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

type profileStub struct {
	profile *database.Profile
	err     error
}

func (s profileStub) ProfileByUserID(context.Context, uint) (*database.Profile, error) {
	return s.profile, s.err
}

func serve(r http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestBlacklistMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	gate := &memoryGate{keys: map[string]bool{}}
	pub := &recordingPublisher{}

	r := gin.New()
	r.Use(BlacklistMiddleware(staticChecker{blocked: map[string]bool{"192.0.2.1": true}}, gate, pub, nil))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/v1/forum/posts", func(c *gin.Context) { c.Status(http.StatusOK) })

	if w := serve(r, "/health"); w.Code != http.StatusOK {
		t.Fatalf("expected health to bypass blacklist, got %d", w.Code)
	}

	w := serve(r, "/v1/forum/posts")
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil || body["error"] != "Access denied." {
		t.Fatalf("unexpected body %q", w.Body.String())
	}
	serve(r, "/v1/forum/posts")

	if len(pub.events) != 1 || pub.events[0].Type != events.TypeBlacklistBlocked {
		t.Fatalf("expected a single alert event, got %+v", pub.events)
	}
}

func TestBlacklistMiddleware_ForwardedIPv6Spellings(t *testing.T) {
	gin.SetMode(gin.TestMode)
	blacklist, err := accounts.NewBlacklist(testutil.NewTestDB(t), 16, time.Minute)
	if err != nil {
		t.Fatalf("new blacklist: %v", err)
	}
	if _, err := blacklist.Add(context.Background(), "2001:DB8:0:0::1", "scanner"); err != nil {
		t.Fatalf("add: %v", err)
	}
	gate := &memoryGate{keys: map[string]bool{}}
	pub := &recordingPublisher{}

	r := gin.New()
	if err := r.SetTrustedProxies([]string{"10.0.0.1"}); err != nil {
		t.Fatalf("trusted proxies: %v", err)
	}
	r.Use(BlacklistMiddleware(blacklist, gate, pub, nil))
	r.GET("/v1/forum/posts", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, xff := range []string{"2001:db8::1", "2001:DB8::1", "2001:db8:0:0::1"} {
		req := httptest.NewRequest(http.MethodGet, "/v1/forum/posts", nil)
		req.RemoteAddr = "10.0.0.1:4321"
		req.Header.Set("X-Forwarded-For", xff)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusForbidden {
			t.Fatalf("xff %s: expected 403, got %d", xff, w.Code)
		}
	}
	if len(pub.events) != 1 || !gate.keys[blacklistAlertKeyPrefix+"2001:db8::1"] {
		t.Fatalf("expected one alert under the canonical ip, got %d events and keys %v", len(pub.events), gate.keys)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/forum/posts", nil)
	req.RemoteAddr = "10.0.0.1:4321"
	req.Header.Set("X-Forwarded-For", "2001:db8::2")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected other address to pass, got %d", w.Code)
	}
}

func TestBlacklistMiddleware_LookupFailureAllows(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(BlacklistMiddleware(staticChecker{err: errors.New("db down")}, nil, nil, nil))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	if w := serve(r, "/"); w.Code != http.StatusOK {
		t.Fatalf("expected request to pass, got %d", w.Code)
	}
}

func TestRequireStaffMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		name    string
		setUser bool
		stub    profileStub
		want    int
	}{
		{name: "anonymous", want: http.StatusUnauthorized},
		{name: "member", setUser: true, stub: profileStub{profile: &database.Profile{}}, want: http.StatusForbidden},
		{name: "staff", setUser: true, stub: profileStub{profile: &database.Profile{IsStaff: true}}, want: http.StatusOK},
		{name: "superuser", setUser: true, stub: profileStub{profile: &database.Profile{IsSuperuser: true}}, want: http.StatusOK},
		{name: "missing profile", setUser: true, stub: profileStub{err: errors.New("not found")}, want: http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := gin.New()
			if tc.setUser {
				r.Use(func(c *gin.Context) { c.Set("userID", uint(1)) })
			}
			r.Use(RequireStaffMiddleware(tc.stub))
			r.GET("/", func(c *gin.Context) {
				if _, ok := c.Get(ProfileContextKey); !ok {
					t.Errorf("expected profile in context")
				}
				c.Status(http.StatusOK)
			})
			if w := serve(r, "/"); w.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, w.Code)
			}
		})
	}
}

func TestRequirePasswordChangeCompletedMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) { c.Set("mustChangePassword", true) })
	r.Use(RequirePasswordChangeCompletedMiddleware())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	if w := serve(r, "/"); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}
