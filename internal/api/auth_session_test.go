package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"portfolio/internal/database"
	"portfolio/internal/tasks"
)

func doWithCookie(t *testing.T, r http.Handler, method, path string, body any, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func refreshCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == refreshTokenCookieName {
			return c
		}
	}
	t.Fatalf("no %s cookie in response: %v", refreshTokenCookieName, w.Header()["Set-Cookie"])
	return nil
}

func loginAs(t *testing.T, r http.Handler, username, password string) *httptest.ResponseRecorder {
	t.Helper()
	w := doJSON(t, r, http.MethodPost, "/login", map[string]any{"username": username, "password": password})
	if w.Code != http.StatusOK {
		t.Fatalf("login %s: expected 200, got %d: %s", username, w.Code, w.Body.String())
	}
	return w
}

func TestRefresh_RotatesAndRejectsRevoked(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "ada")
	_, client := newMemoryRedis(t)
	r := newAuthRouterWithRedis(t, env, client, AuthOptions{}, nil)

	original := refreshCookie(t, loginAs(t, r, "ada", testPassword))

	w := doWithCookie(t, r, http.MethodPost, "/refresh", nil, original)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if token, _ := decodeBody(t, w)["access_token"].(string); token == "" {
		t.Fatalf("expected new access token")
	}
	rotated := refreshCookie(t, w)
	if rotated.Value == original.Value {
		t.Fatalf("expected a new refresh token")
	}

	if w := doWithCookie(t, r, http.MethodPost, "/refresh", nil, original); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected revoked token to be rejected, got %d", w.Code)
	}
	if w := doWithCookie(t, r, http.MethodPost, "/refresh", nil, rotated); w.Code != http.StatusOK {
		t.Fatalf("expected rotated token to work, got %d: %s", w.Code, w.Body.String())
	}
	if w := doWithCookie(t, r, http.MethodPost, "/refresh", nil, nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}
}

func TestLogout_RevokesAndClearsCookie(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "ada")
	_, client := newMemoryRedis(t)
	r := newAuthRouterWithRedis(t, env, client, AuthOptions{}, nil)

	cookie := refreshCookie(t, loginAs(t, r, "ada", testPassword))

	w := doWithCookie(t, r, http.MethodPost, "/logout", nil, cookie)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	cleared := refreshCookie(t, w)
	if cleared.Value != "" || cleared.MaxAge >= 0 {
		t.Fatalf("expected cleared cookie, got %+v", cleared)
	}
	if w := doWithCookie(t, r, http.MethodPost, "/refresh", nil, cookie); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected logged-out token to be rejected, got %d", w.Code)
	}
	if w := doWithCookie(t, r, http.MethodPost, "/logout", nil, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without token, got %d", w.Code)
	}
}

func TestChangePassword_ClearsForcedChange(t *testing.T) {
	env := newTestEnv(t)
	ada := env.register(t, "ada")
	if err := env.db.Model(&database.User{}).Where("id = ?", ada.UserID).Update("must_change_password", true).Error; err != nil {
		t.Fatalf("force change: %v", err)
	}
	_, client := newMemoryRedis(t)
	r := newAuthRouterWithRedis(t, env, client, AuthOptions{}, ada)

	login := loginAs(t, r, "ada", testPassword)
	if decodeBody(t, login)["must_change_password"] != true {
		t.Fatalf("expected must_change_password in login response: %s", login.Body.String())
	}
	cookie := refreshCookie(t, login)

	w := doJSON(t, r, http.MethodPost, "/change-password", map[string]any{
		"current_password": testPassword,
		"new_password":     testPassword,
		"confirm_password": testPassword,
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unchanged password, got %d", w.Code)
	}
	w = doJSON(t, r, http.MethodPost, "/change-password", map[string]any{
		"current_password": "wrong-password",
		"new_password":     "brand-new-secret",
		"confirm_password": "brand-new-secret",
	})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong current password, got %d", w.Code)
	}

	w = doWithCookie(t, r, http.MethodPost, "/change-password", map[string]any{
		"current_password": testPassword,
		"new_password":     "brand-new-secret",
		"confirm_password": "brand-new-secret",
	}, cookie)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if decodeBody(t, w)["must_change_password"] != false {
		t.Fatalf("expected flag cleared in response: %s", w.Body.String())
	}
	var user database.User
	if err := env.db.First(&user, ada.UserID).Error; err != nil {
		t.Fatalf("load user: %v", err)
	}
	if user.MustChangePassword {
		t.Fatalf("expected must_change_password cleared")
	}
	if w := doWithCookie(t, r, http.MethodPost, "/refresh", nil, cookie); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected pre-change refresh token to be revoked, got %d", w.Code)
	}
	loginAs(t, r, "ada", "brand-new-secret")
}

func TestPasswordReset_TokenIsSingleUse(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "ada")
	mr, client := newMemoryRedis(t)
	r := newAuthRouterWithRedis(t, env, client, AuthOptions{PasswordResetTTL: time.Hour}, nil)

	w := doJSON(t, r, http.MethodPost, "/password-reset", map[string]any{"email": "nobody@example.com"})
	if w.Code != http.StatusAccepted || len(env.queue.tasks) != 0 {
		t.Fatalf("expected 202 without task, got %d and %d tasks", w.Code, len(env.queue.tasks))
	}
	w = doJSON(t, r, http.MethodPost, "/password-reset", map[string]any{"email": "ADA@example.com"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
	if got := env.queue.types(); len(got) != 1 || got[0] != tasks.TypeEmailPasswordReset {
		t.Fatalf("expected password reset task, got %v", got)
	}

	var token string
	for _, key := range mr.Keys() {
		if strings.HasPrefix(key, passwordResetKeyPrefix) {
			token = strings.TrimPrefix(key, passwordResetKeyPrefix)
			if ttl := mr.TTL(key); ttl <= 0 || ttl > time.Hour {
				t.Fatalf("unexpected reset token ttl %s", ttl)
			}
		}
	}
	if token == "" {
		t.Fatalf("expected reset token in redis, keys %v", mr.Keys())
	}

	confirm := func(token string) int {
		return doJSON(t, r, http.MethodPost, "/password-reset/confirm", map[string]any{
			"token":     token,
			"password1": "reset-secret-99",
			"password2": "reset-secret-99",
		}).Code
	}
	if code := confirm("unknown-token"); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown token, got %d", code)
	}
	if code := confirm(token); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if code := confirm(token); code != http.StatusBadRequest {
		t.Fatalf("expected used token to be rejected, got %d", code)
	}
	loginAs(t, r, "ada", "reset-secret-99")
}

func TestLogin_RateLimitAndLockout(t *testing.T) {
	t.Run("rate limit", func(t *testing.T) {
		env := newTestEnv(t)
		env.register(t, "ada")
		_, client := newMemoryRedis(t)
		r := newAuthRouterWithRedis(t, env, client, AuthOptions{LoginRateLimitPerHour: 2}, nil)

		loginAs(t, r, "ada", testPassword)
		loginAs(t, r, "ada", testPassword)
		w := doJSON(t, r, http.MethodPost, "/login", map[string]any{"username": "ada", "password": testPassword})
		if w.Code != http.StatusTooManyRequests || decodeBody(t, w)["error"] != "rate limit exceeded" {
			t.Fatalf("expected 429 rate limit, got %d: %s", w.Code, w.Body.String())
		}
	})

	t.Run("lockout", func(t *testing.T) {
		env := newTestEnv(t)
		env.register(t, "ada")
		_, client := newMemoryRedis(t)
		r := newAuthRouterWithRedis(t, env, client, AuthOptions{LoginLockThreshold: 2, LoginLockTTL: time.Minute}, nil)

		for i := 0; i < 2; i++ {
			w := doJSON(t, r, http.MethodPost, "/login", map[string]any{"username": "ada", "password": "wrong"})
			if w.Code != http.StatusUnauthorized {
				t.Fatalf("attempt %d: expected 401, got %d", i, w.Code)
			}
		}
		w := doJSON(t, r, http.MethodPost, "/login", map[string]any{"username": "ada", "password": testPassword})
		if w.Code != http.StatusTooManyRequests || decodeBody(t, w)["error"] != "account temporarily locked" {
			t.Fatalf("expected 429 lockout, got %d: %s", w.Code, w.Body.String())
		}
	})
}
