package api

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/minio/minio-go/v7"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"portfolio/internal/accounts"
	"portfolio/internal/auth"
	"portfolio/internal/database"
	"portfolio/internal/events"
	"portfolio/internal/forum"
	"portfolio/internal/resume"
	"portfolio/internal/testutil"
)

const testPassword = "correct-horse-battery"

type fakeQueue struct {
	tasks []*asynq.Task
	opts  [][]asynq.Option
	err   error
}

func (q *fakeQueue) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if q.err != nil {
		return nil, q.err
	}
	q.tasks = append(q.tasks, task)
	q.opts = append(q.opts, opts)
	return &asynq.TaskInfo{ID: fmt.Sprintf("task-%d", len(q.tasks)), Type: task.Type()}, nil
}

func (q *fakeQueue) types() []string {
	out := make([]string, 0, len(q.tasks))
	for _, t := range q.tasks {
		out = append(out, t.Type())
	}
	return out
}

type fakeStore struct {
	uploaded map[string][]byte
	deleted  []string
	prefixes []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{uploaded: map[string][]byte{}}
}

func (s *fakeStore) UploadFile(_ context.Context, objectName string, reader io.Reader, _ int64, _ string) (*minio.UploadInfo, error) {
	b, _ := io.ReadAll(reader)
	s.uploaded[objectName] = b
	return &minio.UploadInfo{Key: objectName}, nil
}

func (s *fakeStore) PresignDownload(_ context.Context, objectKey string, _ time.Duration, filename string) (string, error) {
	return "https://storage.invalid/" + objectKey + "?filename=" + filename, nil
}

func (s *fakeStore) DeleteObject(_ context.Context, objectKey string) error {
	s.deleted = append(s.deleted, objectKey)
	delete(s.uploaded, objectKey)
	return nil
}

func (s *fakeStore) DeletePrefix(_ context.Context, prefix string) error {
	s.prefixes = append(s.prefixes, prefix)
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *fakePublisher) Publish(_ context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

var (
	authServiceOnce sync.Once
	sharedAuth      *auth.AuthService
	authServiceErr  error
)

func newTestAuthService(t *testing.T) *auth.AuthService {
	t.Helper()
	authServiceOnce.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			authServiceErr = err
			return
		}
		privPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
		pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
		if err != nil {
			authServiceErr = err
			return
		}
		pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
		sharedAuth, authServiceErr = auth.NewAuthService(privPEM, pubPEM, time.Minute, time.Hour)
	})
	if authServiceErr != nil {
		t.Fatalf("new auth service: %v", authServiceErr)
	}
	return sharedAuth
}

// 指向不可达地址，使依赖 redis 的分支走失败路径。
func newUnreachableRedis(t *testing.T) redis.UniversalClient {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0", MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// newMemoryRedis 启动进程内 redis，用于需要真实命令语义的流程。
func newMemoryRedis(t *testing.T) (*miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

type testEnv struct {
	db        *gorm.DB
	accounts  *accounts.Service
	blacklist *accounts.Blacklist
	forum     *forum.Service
	resumes   *resume.Service
	queue     *fakeQueue
	store     *fakeStore
	events    *fakePublisher
	logger    *slog.Logger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	RegisterValidators()

	db := testutil.NewTestDB(t)
	blacklist, err := accounts.NewBlacklist(db, 64, time.Minute)
	if err != nil {
		t.Fatalf("new blacklist: %v", err)
	}
	return &testEnv{
		db:        db,
		accounts:  accounts.NewService(db, nil, time.Hour),
		blacklist: blacklist,
		forum:     forum.NewService(db, 20),
		resumes:   resume.NewService(db),
		queue:     &fakeQueue{},
		store:     newFakeStore(),
		events:    &fakePublisher{},
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func (e *testEnv) register(t *testing.T, username string) *database.Profile {
	t.Helper()
	hash, err := auth.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	profile, err := e.accounts.Register(context.Background(), accounts.RegisterInput{
		Username:     username,
		Email:        username + "@example.com",
		FirstName:    "Test",
		LastName:     username,
		PasswordHash: hash,
		IP:           "10.0.0.1",
	})
	if err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	return profile
}

// routerAs 返回一个以指定用户身份访问的路由；profile 为 nil 时为匿名访问。
func routerAs(profile *database.Profile) *gin.Engine {
	r := gin.New()
	if profile != nil {
		userID := profile.UserID
		r.Use(func(c *gin.Context) {
			c.Set("userID", userID)
			c.Next()
		})
	}
	return r
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch v := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
	return out
}

func mustLookup(t *testing.T, name string) resume.Kind {
	t.Helper()
	kind, err := resume.LookupKind(name)
	if err != nil {
		t.Fatalf("lookup %s: %v", name, err)
	}
	return kind
}
