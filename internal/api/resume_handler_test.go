package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"

	"portfolio/internal/database"
	"portfolio/internal/tasks"
)

func newResumeRouter(env *testEnv, profile *database.Profile) *gin.Engine {
	h := NewResumeHandler(env.resumes, env.accounts, env.queue, env.store, env.logger)
	r := routerAs(profile)
	r.GET("/dashboard", h.Dashboard)
	r.GET("/resumes", h.ListResumes)
	r.POST("/resumes", h.CreateResume)
	r.GET("/resumes/:id", h.GetResume)
	r.PUT("/resumes/:id", h.UpdateResume)
	r.DELETE("/resumes/:id", h.DeleteResume)
	r.GET("/resumes/:id/sections/:section", h.LinkedSection)
	r.GET("/resumes/:id/print", h.PrintResume)
	r.POST("/resumes/:id/download", h.DownloadResume)
	r.GET("/resumes/:id/download-link", h.GetDownloadLink)
	return r
}

func TestCreateResume_ReturnsEditURL(t *testing.T) {
	env := newTestEnv(t)
	ada := env.register(t, "ada")
	r := newResumeRouter(env, ada)

	if w := doJSON(t, r, http.MethodPost, "/resumes", map[string]any{"summary": "no title"}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without title, got %d", w.Code)
	}

	w := doJSON(t, r, http.MethodPost, "/resumes", map[string]any{"title": "Backend", "summary": "Go"})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	created := body["resume"].(map[string]any)
	want := fmt.Sprintf("/v1/resumes/%d", uint(created["id"].(float64)))
	if body["edit_url"] != want || w.Header().Get("Location") != want {
		t.Fatalf("expected edit url %s, got %v / %s", want, body["edit_url"], w.Header().Get("Location"))
	}

	w = doJSON(t, r, http.MethodGet, "/dashboard", nil)
	if got := decodeBody(t, w)["active_resume_id"]; got != created["id"] {
		t.Fatalf("expected new resume to be active, got %v", got)
	}
}

func TestGetResume_ForeignOwnerIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	ada := env.register(t, "ada")
	bob := env.register(t, "bob")
	bobs, _ := env.resumes.CreateResume(context.Background(), bob, "Bob's", "")
	r := newResumeRouter(env, ada)

	for _, path := range []string{
		fmt.Sprintf("/resumes/%d", bobs.ID),
		fmt.Sprintf("/resumes/%d/print", bobs.ID),
		fmt.Sprintf("/resumes/%d/sections/skill", bobs.ID),
		"/resumes/abc",
	} {
		if w := doJSON(t, r, http.MethodGet, path, nil); w.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", path, w.Code)
		}
	}
	if w := doJSON(t, r, http.MethodDelete, fmt.Sprintf("/resumes/%d", bobs.ID), nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on foreign delete, got %d", w.Code)
	}
}

func TestGetResume_MarksActiveAndPrints(t *testing.T) {
	env := newTestEnv(t)
	ada := env.register(t, "ada")
	ctx := context.Background()
	first, _ := env.resumes.CreateResume(ctx, ada, "First", "")
	env.resumes.CreateResume(ctx, ada, "Second", "")
	skill := &database.Skill{Name: "Go"}
	skill.ResumeIDs = []uint{first.ID}
	if err := env.resumes.AddItem(ctx, ada, mustLookup(t, "skill"), skill, nil); err != nil {
		t.Fatalf("add: %v", err)
	}
	r := newResumeRouter(env, ada)

	w := doJSON(t, r, http.MethodGet, fmt.Sprintf("/resumes/%d", first.ID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var reloaded database.Profile
	env.db.First(&reloaded, "id = ?", ada.ID)
	if reloaded.ActiveResumeID == nil || *reloaded.ActiveResumeID != first.ID {
		t.Fatalf("expected resume %d active, got %v", first.ID, reloaded.ActiveResumeID)
	}

	w = doJSON(t, r, http.MethodGet, fmt.Sprintf("/resumes/%d/sections/skill", first.ID), nil)
	if items, _ := decodeBody(t, w)["items"].([]any); len(items) != 1 {
		t.Fatalf("expected one linked skill, got %v", items)
	}

	w = doJSON(t, r, http.MethodGet, fmt.Sprintf("/resumes/%d/print", first.ID), nil)
	if w.Code != http.StatusOK || !strings.HasPrefix(w.Header().Get("Content-Type"), "text/html") {
		t.Fatalf("expected html, got %d %s", w.Code, w.Header().Get("Content-Type"))
	}
	if !strings.Contains(w.Body.String(), "Go") {
		t.Fatalf("expected printed skill in output")
	}
}

func TestDownloadResume_EnqueuesPDFTask(t *testing.T) {
	env := newTestEnv(t)
	ada := env.register(t, "ada")
	created, _ := env.resumes.CreateResume(context.Background(), ada, "Backend", "")
	r := newResumeRouter(env, ada)

	w := doJSON(t, r, http.MethodGet, fmt.Sprintf("/resumes/%d/download-link", created.ID), nil)
	if w.Code != http.StatusNotFound || decodeBody(t, w)["error"] != "pdf not generated yet" {
		t.Fatalf("expected 404 before generation, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, r, http.MethodPost, fmt.Sprintf("/resumes/%d/download", created.ID), nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	if decodeBody(t, w)["task_id"] != "task-1" {
		t.Fatalf("expected task id in response: %s", w.Body.String())
	}
	if got := env.queue.types(); len(got) != 1 || got[0] != tasks.TypePDFGenerate {
		t.Fatalf("expected pdf task, got %v", got)
	}
	var retries any
	for _, opt := range env.queue.opts[0] {
		if opt.Type() == asynq.MaxRetryOpt {
			retries = opt.Value()
		}
	}
	if retries != 5 {
		t.Fatalf("expected max retry 5, got %v", retries)
	}

	if _, err := env.resumes.SetPdfKey(context.Background(), created.ID, "resumes/pdf/x.pdf"); err != nil {
		t.Fatalf("set pdf key: %v", err)
	}
	w = doJSON(t, r, http.MethodGet, fmt.Sprintf("/resumes/%d/download-link", created.ID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if url, _ := decodeBody(t, w)["url"].(string); !strings.Contains(url, "resumes/pdf/x.pdf") {
		t.Fatalf("unexpected url %q", url)
	}
}

func TestDeleteResume_RemovesPDFAndMovesActive(t *testing.T) {
	env := newTestEnv(t)
	ada := env.register(t, "ada")
	ctx := context.Background()
	older, _ := env.resumes.CreateResume(ctx, ada, "Older", "")
	newer, _ := env.resumes.CreateResume(ctx, ada, "Newer", "")
	if _, err := env.resumes.SetPdfKey(ctx, newer.ID, "resumes/pdf/newer.pdf"); err != nil {
		t.Fatalf("set pdf key: %v", err)
	}
	r := newResumeRouter(env, ada)

	w := doJSON(t, r, http.MethodDelete, fmt.Sprintf("/resumes/%d", newer.ID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := decodeBody(t, w)["active_resume_id"]; got == nil || uint(got.(float64)) != older.ID {
		t.Fatalf("expected active resume %d, got %v", older.ID, got)
	}
	if len(env.store.deleted) != 1 || env.store.deleted[0] != "resumes/pdf/newer.pdf" {
		t.Fatalf("expected pdf deleted, got %v", env.store.deleted)
	}
}
