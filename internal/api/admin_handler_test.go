package api

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"

	"portfolio/internal/database"
)

func newAdminRouter(env *testEnv, profile *database.Profile) *gin.Engine {
	h := NewAdminHandler(env.accounts, env.blacklist, env.logger)
	r := routerAs(profile)
	r.GET("/blacklist", h.ListBlacklist)
	r.POST("/blacklist", h.AddBlacklist)
	r.DELETE("/blacklist/:id", h.RemoveBlacklist)
	r.GET("/profiles/:id/ips", h.ProfileIPs)
	r.POST("/profiles/:id/blacklist", h.BlockProfile)
	r.PUT("/profiles/:id/approval", h.SetApproval)
	return r
}

func TestAdminBlacklist_AddAndRemove(t *testing.T) {
	env := newTestEnv(t)
	admin := env.register(t, "root")
	r := newAdminRouter(env, admin)

	w := doJSON(t, r, http.MethodPost, "/blacklist", map[string]any{"ip": "203.0.113.9", "reason": "spam"})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	id := decodeBody(t, w)["id"].(string)

	if w := doJSON(t, r, http.MethodPost, "/blacklist", map[string]any{"ip": "203.0.113.9"}); w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate, got %d", w.Code)
	}
	if w := doJSON(t, r, http.MethodPost, "/blacklist", map[string]any{"ip": "not-an-ip"}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid ip, got %d", w.Code)
	}

	w = doJSON(t, r, http.MethodGet, "/blacklist", nil)
	if items, _ := decodeBody(t, w)["items"].([]any); len(items) != 1 {
		t.Fatalf("expected one entry, got %v", items)
	}

	if w := doJSON(t, r, http.MethodDelete, "/blacklist/"+id, nil); w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if w := doJSON(t, r, http.MethodDelete, "/blacklist/"+id, nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", w.Code)
	}
}

func TestAdminBlockProfile_BlacklistsKnownIPs(t *testing.T) {
	env := newTestEnv(t)
	admin := env.register(t, "root")
	target := env.register(t, "mallory")
	r := newAdminRouter(env, admin)

	w := doJSON(t, r, http.MethodGet, fmt.Sprintf("/profiles/%s/ips", target.ID), nil)
	if items, _ := decodeBody(t, w)["items"].([]any); w.Code != http.StatusOK || len(items) != 1 {
		t.Fatalf("expected one ip, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, r, http.MethodPost, fmt.Sprintf("/profiles/%s/blacklist", target.ID), nil)
	if w.Code != http.StatusOK || decodeBody(t, w)["added"] != float64(1) {
		t.Fatalf("expected one ip added, got %d: %s", w.Code, w.Body.String())
	}
	if w := doJSON(t, r, http.MethodGet, "/profiles/not-a-uuid/ips", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for malformed id, got %d", w.Code)
	}
}

func TestAdminSetApproval(t *testing.T) {
	env := newTestEnv(t)
	admin := env.register(t, "root")
	target := env.register(t, "ada")
	r := newAdminRouter(env, admin)
	path := fmt.Sprintf("/profiles/%s/approval", target.ID)

	if w := doJSON(t, r, http.MethodPut, path, map[string]any{}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without is_approved, got %d", w.Code)
	}
	if w := doJSON(t, r, http.MethodPut, path, map[string]any{"is_approved": true}); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var reloaded database.Profile
	if err := env.db.First(&reloaded, "id = ?", target.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !reloaded.IsApproved {
		t.Fatalf("expected profile to be approved")
	}
}
