package resume

import (
	"context"
	"errors"
	"strings"
	"testing"

	"gorm.io/gorm"

	"portfolio/internal/database"
	"portfolio/internal/testutil"
)

func newProfile(t *testing.T, db *gorm.DB, username string) *database.Profile {
	t.Helper()
	user := database.User{Username: username, Email: username + "@example.com", IsActive: true}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	profile := database.Profile{
		UserID:      user.ID,
		Username:    username,
		Email:       user.Email,
		FName:       "Ada",
		LName:       "Lovelace",
		MobilePhone: "5551234567",
		Preference:  database.PreferenceMobile,
	}
	if err := db.Create(&profile).Error; err != nil {
		t.Fatalf("create profile: %v", err)
	}
	return &profile
}

func mustKind(t *testing.T, name string) Kind {
	t.Helper()
	k, err := LookupKind(name)
	if err != nil {
		t.Fatalf("lookup %s: %v", name, err)
	}
	return k
}

func linkedIDs(t *testing.T, svc *Service, resume *database.Resume, kind Kind) []uint {
	t.Helper()
	items, err := svc.LinkedItems(context.Background(), resume, kind)
	if err != nil {
		t.Fatalf("linked items: %v", err)
	}
	ids := make([]uint, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.Base().ID)
	}
	return ids
}

func TestLookupKind(t *testing.T) {
	if _, err := LookupKind("nope"); !errors.Is(err, ErrUnknownSection) {
		t.Fatalf("expected ErrUnknownSection, got %v", err)
	}
	k := mustKind(t, "Additional-Info")
	if k.Plural != "additional_infos" {
		t.Fatalf("unexpected kind %+v", k)
	}
	if _, ok := k.New().(*database.AdditionalInfo); !ok {
		t.Fatalf("unexpected item type %T", k.New())
	}
	if len(Kinds) != 9 {
		t.Fatalf("expected 9 kinds, got %d", len(Kinds))
	}
}

func TestCreateResume_MarksActive(t *testing.T) {
	db := testutil.NewTestDB(t)
	svc := NewService(db)
	profile := newProfile(t, db, "ada")

	resume, err := svc.CreateResume(context.Background(), profile, "Backend", "summary")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if profile.ActiveResumeID == nil || *profile.ActiveResumeID != resume.ID {
		t.Fatalf("in-memory profile not updated")
	}
	var stored database.Profile
	db.First(&stored, "id = ?", profile.ID)
	if stored.ActiveResumeID == nil || *stored.ActiveResumeID != resume.ID {
		t.Fatalf("active resume not persisted")
	}

	if _, err := svc.CreateResume(context.Background(), profile, "  ", ""); !errors.Is(err, ErrTitleRequired) {
		t.Fatalf("expected ErrTitleRequired, got %v", err)
	}
}

func TestAddItem_LinkPrecedence(t *testing.T) {
	db := testutil.NewTestDB(t)
	svc := NewService(db)
	ctx := context.Background()
	ada := newProfile(t, db, "ada")
	eve := newProfile(t, db, "eve")
	skills := mustKind(t, "skill")

	first, _ := svc.CreateResume(ctx, ada, "First", "")
	second, _ := svc.CreateResume(ctx, ada, "Second", "") // 当前简历
	foreign, _ := svc.CreateResume(ctx, eve, "Foreign", "")

	// 当前简历上下文
	auto := &database.Skill{Name: "Go"}
	if err := svc.AddItem(ctx, ada, skills, auto, nil); err != nil {
		t.Fatalf("add auto: %v", err)
	}
	if got := linkedIDs(t, svc, second, skills); len(got) != 1 || got[0] != auto.ID {
		t.Fatalf("expected auto-link to active resume, got %v", got)
	}

	// 路由中的简历优先于当前简历
	routed := &database.Skill{Name: "SQL"}
	if err := svc.AddItem(ctx, ada, skills, routed, &first.ID); err != nil {
		t.Fatalf("add routed: %v", err)
	}
	if got := linkedIDs(t, svc, first, skills); len(got) != 1 || got[0] != routed.ID {
		t.Fatalf("expected link to route resume, got %v", got)
	}

	// 显式 resume_ids 优先于路由
	explicit := &database.Skill{Name: "Rust", SectionBase: database.SectionBase{ResumeIDs: []uint{first.ID, second.ID}}}
	if err := svc.AddItem(ctx, ada, skills, explicit, &first.ID); err != nil {
		t.Fatalf("add explicit: %v", err)
	}
	if len(explicit.ResumeIDs) != 2 {
		t.Fatalf("expected two links, got %v", explicit.ResumeIDs)
	}

	// 他人的简历
	bad := &database.Skill{Name: "Evil", SectionBase: database.SectionBase{ResumeIDs: []uint{foreign.ID}}}
	if err := svc.AddItem(ctx, ada, skills, bad, nil); !errors.Is(err, ErrInvalidResumeLinks) {
		t.Fatalf("expected ErrInvalidResumeLinks, got %v", err)
	}
	if err := svc.AddItem(ctx, ada, skills, &database.Skill{Name: "x"}, &foreign.ID); !errors.Is(err, ErrResumeNotFound) {
		t.Fatalf("expected ErrResumeNotFound, got %v", err)
	}

	items, err := svc.ListItems(ctx, ada.ID, skills)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("failed adds must not persist, got %d items", len(items))
	}
}

func TestAddItem_UnlinkedWithoutContext(t *testing.T) {
	db := testutil.NewTestDB(t)
	svc := NewService(db)
	ctx := context.Background()
	ada := newProfile(t, db, "ada")
	kind := mustKind(t, "interest")

	item := &database.Interest{Name: "Chess"}
	if err := svc.AddItem(ctx, ada, kind, item, nil); err != nil {
		t.Fatalf("add: %v", err)
	}
	got, err := svc.GetItem(ctx, ada.ID, kind, item.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ids := got.Base().ResumeIDs; ids == nil || len(ids) != 0 {
		t.Fatalf("expected empty link list, got %v", ids)
	}
}

func TestAddItem_ValidatesDates(t *testing.T) {
	db := testutil.NewTestDB(t)
	svc := NewService(db)
	ada := newProfile(t, db, "ada")

	start, _ := database.ParseDate("2020-05-01")
	end, _ := database.ParseDate("2019-01-01")
	item := &database.Education{InstitutionName: "MIT", StartDate: &start, EndDate: &end}
	err := svc.AddItem(context.Background(), ada, mustKind(t, "education"), item, nil)
	if !errors.Is(err, database.ErrEndBeforeStart) {
		t.Fatalf("expected ErrEndBeforeStart, got %v", err)
	}
}

func TestUpdateItem_ReplacesLinksOnlyWhenPresent(t *testing.T) {
	db := testutil.NewTestDB(t)
	svc := NewService(db)
	ctx := context.Background()
	ada := newProfile(t, db, "ada")
	kind := mustKind(t, "project")

	first, _ := svc.CreateResume(ctx, ada, "First", "")
	second, _ := svc.CreateResume(ctx, ada, "Second", "")

	item := &database.Project{Title: "Compiler"}
	if err := svc.AddItem(ctx, ada, kind, item, &first.ID); err != nil {
		t.Fatalf("add: %v", err)
	}

	loaded, _ := svc.GetItem(ctx, ada.ID, kind, item.ID)
	project := loaded.(*database.Project)
	project.Title = "Optimizing Compiler"
	project.ResumeIDs = nil
	if err := svc.UpdateItem(ctx, ada, kind, project); err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(project.ResumeIDs) != 1 || project.ResumeIDs[0] != first.ID {
		t.Fatalf("links must be kept when absent, got %v", project.ResumeIDs)
	}

	project.ResumeIDs = []uint{second.ID}
	if err := svc.UpdateItem(ctx, ada, kind, project); err != nil {
		t.Fatalf("update links: %v", err)
	}
	if got := linkedIDs(t, svc, first, kind); len(got) != 0 {
		t.Fatalf("expected link to first removed, got %v", got)
	}
	if got := linkedIDs(t, svc, second, kind); len(got) != 1 {
		t.Fatalf("expected link to second, got %v", got)
	}

	project.ResumeIDs = []uint{}
	if err := svc.UpdateItem(ctx, ada, kind, project); err != nil {
		t.Fatalf("clear links: %v", err)
	}
	if len(project.ResumeIDs) != 0 {
		t.Fatalf("expected links cleared, got %v", project.ResumeIDs)
	}
}

func TestDeleteItem_ReturnsRedirect(t *testing.T) {
	db := testutil.NewTestDB(t)
	svc := NewService(db)
	ctx := context.Background()
	ada := newProfile(t, db, "ada")
	eve := newProfile(t, db, "eve")
	kind := mustKind(t, "award")

	zeta, _ := svc.CreateResume(ctx, ada, "Zeta", "")
	alpha, _ := svc.CreateResume(ctx, ada, "Alpha", "")

	linked := &database.Award{Title: "Turing", SectionBase: database.SectionBase{ResumeIDs: []uint{zeta.ID, alpha.ID}}}
	if err := svc.AddItem(ctx, ada, kind, linked, nil); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := svc.DeleteItem(ctx, eve.ID, kind, linked.ID); !errors.Is(err, ErrItemNotFound) {
		t.Fatalf("foreign delete must be not found, got %v", err)
	}
	redirect, err := svc.DeleteItem(ctx, ada.ID, kind, linked.ID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if redirect == nil || *redirect != alpha.ID {
		t.Fatalf("expected redirect to first resume by title, got %v", redirect)
	}

	db.Model(&database.Profile{}).Where("id = ?", ada.ID).UpdateColumn("active_resume_id", nil)
	ada.ActiveResumeID = nil
	loose := &database.Award{Title: "Loose"}
	if err := svc.AddItem(ctx, ada, kind, loose, nil); err != nil {
		t.Fatalf("add loose: %v", err)
	}
	redirect, err = svc.DeleteItem(ctx, ada.ID, kind, loose.ID)
	if err != nil || redirect != nil {
		t.Fatalf("unlinked item should have no redirect, got %v %v", redirect, err)
	}
}

func TestDeleteResume_KeepsItemsAndReassignsActive(t *testing.T) {
	db := testutil.NewTestDB(t)
	svc := NewService(db)
	ctx := context.Background()
	ada := newProfile(t, db, "ada")
	kind := mustKind(t, "experience")

	older, _ := svc.CreateResume(ctx, ada, "Older", "")
	current, _ := svc.CreateResume(ctx, ada, "Current", "")
	item := &database.Experience{JobTitle: "Engineer"}
	if err := svc.AddItem(ctx, ada, kind, item, nil); err != nil {
		t.Fatalf("add: %v", err)
	}

	deleted, err := svc.DeleteResume(ctx, ada, current.ID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if deleted.ID != current.ID {
		t.Fatalf("unexpected deleted resume %d", deleted.ID)
	}
	if ada.ActiveResumeID == nil || *ada.ActiveResumeID != older.ID {
		t.Fatalf("active resume should fall back to the remaining one, got %v", ada.ActiveResumeID)
	}
	if _, err := svc.GetItem(ctx, ada.ID, kind, item.ID); err != nil {
		t.Fatalf("section item must survive resume deletion: %v", err)
	}

	if _, err := svc.DeleteResume(ctx, ada, older.ID); err != nil {
		t.Fatalf("delete last: %v", err)
	}
	if ada.ActiveResumeID != nil {
		t.Fatalf("active resume should be cleared, got %v", *ada.ActiveResumeID)
	}
	if _, err := svc.DeleteResume(ctx, ada, older.ID); !errors.Is(err, ErrResumeNotFound) {
		t.Fatalf("expected ErrResumeNotFound, got %v", err)
	}
}

func TestReorder_IsAtomic(t *testing.T) {
	db := testutil.NewTestDB(t)
	svc := NewService(db)
	ctx := context.Background()
	ada := newProfile(t, db, "ada")
	eve := newProfile(t, db, "eve")
	kind := mustKind(t, "language")

	en := &database.Language{Name: "English"}
	fr := &database.Language{Name: "French"}
	foreign := &database.Language{Name: "German"}
	for _, l := range []*database.Language{en, fr} {
		if err := svc.AddItem(ctx, ada, kind, l, nil); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	if err := svc.AddItem(ctx, eve, kind, foreign, nil); err != nil {
		t.Fatalf("add foreign: %v", err)
	}

	err := svc.Reorder(ctx, ada.ID, kind, []OrderEntry{{ID: fr.ID, Position: 0}, {ID: foreign.ID, Position: 1}})
	if !errors.Is(err, ErrItemNotFound) {
		t.Fatalf("expected ErrItemNotFound, got %v", err)
	}
	var stored database.Language
	db.First(&stored, fr.ID)
	if stored.Position != 0 {
		t.Fatalf("unexpected position %d", stored.Position)
	}

	if err := svc.Reorder(ctx, ada.ID, kind, []OrderEntry{{ID: en.ID, Position: 3}, {ID: fr.ID, Position: -1}}); !errors.Is(err, ErrInvalidPosition) {
		t.Fatalf("expected ErrInvalidPosition, got %v", err)
	}
	db.First(&stored, en.ID)
	if stored.Position != 0 {
		t.Fatalf("failed reorder must roll back, got position %d", stored.Position)
	}

	if err := svc.Reorder(ctx, ada.ID, kind, []OrderEntry{{ID: en.ID, Position: 2}, {ID: fr.ID, Position: 1}}); err != nil {
		t.Fatalf("reorder: %v", err)
	}
	items, _ := svc.ListItems(ctx, ada.ID, kind)
	if items[0].Label() != "French" || items[1].Label() != "English" {
		t.Fatalf("unexpected order: %s, %s", items[0].Label(), items[1].Label())
	}
}

func TestDashboard_ListsEveryKind(t *testing.T) {
	db := testutil.NewTestDB(t)
	svc := NewService(db)
	ctx := context.Background()
	ada := newProfile(t, db, "ada")

	if _, err := svc.CreateResume(ctx, ada, "CV", ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.AddItem(ctx, ada, mustKind(t, "skill"), &database.Skill{Name: "Go"}, nil); err != nil {
		t.Fatalf("add: %v", err)
	}

	dash, err := svc.Dashboard(ctx, ada.ID)
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if len(dash.Resumes) != 1 || len(dash.Sections) != len(Kinds) {
		t.Fatalf("unexpected dashboard: %d resumes, %d sections", len(dash.Resumes), len(dash.Sections))
	}
	if len(dash.Sections["skills"]) != 1 {
		t.Fatalf("expected one skill, got %d", len(dash.Sections["skills"]))
	}
}

func TestPrintHTML(t *testing.T) {
	db := testutil.NewTestDB(t)
	svc := NewService(db)
	ctx := context.Background()
	ada := newProfile(t, db, "ada")

	resume, _ := svc.CreateResume(ctx, ada, "CV", "Builds <things>")
	if err := svc.AddItem(ctx, ada, mustKind(t, "experience"), &database.Experience{JobTitle: "Engineer", CompanyName: "Analytical", IsCurrent: true}, nil); err != nil {
		t.Fatalf("add: %v", err)
	}

	html, err := svc.PrintHTML(ctx, ada, resume)
	if err != nil {
		t.Fatalf("print: %v", err)
	}
	out := string(html)
	for _, want := range []string{"Ada Lovelace", "(555) 123-4567", "<h2>Experience</h2>", "Engineer", "Builds &lt;things&gt;"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
	if strings.Contains(out, "<h2>Skills</h2>") {
		t.Fatalf("empty sections must be skipped")
	}
}
