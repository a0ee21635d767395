package forum

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"portfolio/internal/database"
	"portfolio/internal/testutil"
)

func createProfile(t *testing.T, db *gorm.DB, username string, staff bool) *database.Profile {
	t.Helper()
	user := database.User{Username: username, Email: username + "@example.com", IsActive: true}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	profile := database.Profile{
		UserID:   user.ID,
		Username: username,
		Email:    user.Email,
		FName:    "F" + username,
		LName:    "L" + username,
		IsStaff:  staff,
	}
	if err := db.Create(&profile).Error; err != nil {
		t.Fatalf("create profile: %v", err)
	}
	return &profile
}

func TestPostLifecycle(t *testing.T) {
	db := testutil.NewTestDB(t)
	svc := NewService(db, 20)
	ctx := context.Background()
	ada := createProfile(t, db, "ada", false)
	grace := createProfile(t, db, "grace", false)

	post, err := svc.CreatePost(ctx, ada, " Hello ", "first *post*")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if post.Subject != "Hello" || post.Username != "ada" || post.FName != "Fada" {
		t.Fatalf("author fields not denormalized: %+v", post)
	}

	if _, err := svc.UpdatePost(ctx, grace, post.ID, "hijack", "x"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	updated, err := svc.UpdatePost(ctx, ada, post.ID, "Hello again", "edited")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Subject != "Hello again" {
		t.Fatalf("unexpected subject %q", updated.Subject)
	}

	if _, err := svc.CreateComment(ctx, grace, post.ID, nil, "nice"); err != nil {
		t.Fatalf("comment: %v", err)
	}

	items, page, err := svc.ListPosts(ctx, 1, 500)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.PageSize != MaxPageSize || page.Total != 1 {
		t.Fatalf("unexpected page meta: %+v", page)
	}
	if len(items) != 1 || items[0].CommentCount != 1 {
		t.Fatalf("expected one post with one comment, got %+v", items)
	}

	if err := svc.DeletePost(ctx, grace, post.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if err := svc.DeletePost(ctx, ada, post.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	var comments int64
	db.Model(&database.Comment{}).Count(&comments)
	if comments != 0 {
		t.Fatalf("comments must be deleted with post, got %d", comments)
	}
	if _, err := svc.GetPost(ctx, post.ID); !errors.Is(err, ErrPostNotFound) {
		t.Fatalf("expected ErrPostNotFound, got %v", err)
	}
}

func TestListPosts_NewestFirstWithPaging(t *testing.T) {
	db := testutil.NewTestDB(t)
	svc := NewService(db, 2)
	ctx := context.Background()
	ada := createProfile(t, db, "ada", false)

	var ids []uuid.UUID
	for _, subject := range []string{"one", "two", "three"} {
		p, err := svc.CreatePost(ctx, ada, subject, "body")
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		ids = append(ids, p.ID)
	}
	// 显式拉开时间，避免同一时刻创建导致顺序不稳定。
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range ids {
		db.Model(&database.Post{}).Where("id = ?", id).Update("created_at", base.AddDate(0, 0, i))
	}

	items, page, err := svc.ListPosts(ctx, 1, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.PageSize != 2 || len(items) != 2 {
		t.Fatalf("expected default page size 2, got %+v / %d", page, len(items))
	}
	if items[0].Subject != "three" || items[1].Subject != "two" {
		t.Fatalf("expected newest first, got %s, %s", items[0].Subject, items[1].Subject)
	}

	items, _, _ = svc.ListPosts(ctx, 2, 0)
	if len(items) != 1 || items[0].Subject != "one" {
		t.Fatalf("unexpected second page: %+v", items)
	}
}

func TestCreateComment_ReplyMustBelongToPost(t *testing.T) {
	db := testutil.NewTestDB(t)
	svc := NewService(db, 20)
	ctx := context.Background()
	ada := createProfile(t, db, "ada", false)

	first, _ := svc.CreatePost(ctx, ada, "first", "body")
	second, _ := svc.CreatePost(ctx, ada, "second", "body")
	created, err := svc.CreateComment(ctx, ada, first.ID, nil, "root")
	if err != nil {
		t.Fatalf("comment: %v", err)
	}

	parentID := created.Comment.ID
	if _, err := svc.CreateComment(ctx, ada, second.ID, &parentID, "cross"); !errors.Is(err, ErrCommentNotFound) {
		t.Fatalf("expected ErrCommentNotFound, got %v", err)
	}
	reply, err := svc.CreateComment(ctx, ada, first.ID, &parentID, "reply")
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if reply.Parent == nil || reply.Comment.ParentID == nil || *reply.Comment.ParentID != parentID {
		t.Fatalf("reply not linked to parent: %+v", reply.Comment)
	}
	if _, err := svc.CreateComment(ctx, ada, first.ID, nil, "   "); !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("expected ErrEmptyContent, got %v", err)
	}
}

func TestDeleteComment_RemovesSubtree(t *testing.T) {
	db := testutil.NewTestDB(t)
	svc := NewService(db, 20)
	ctx := context.Background()
	ada := createProfile(t, db, "ada", false)
	grace := createProfile(t, db, "grace", false)
	admin := createProfile(t, db, "root", true)

	post, _ := svc.CreatePost(ctx, ada, "post", "body")
	root, _ := svc.CreateComment(ctx, grace, post.ID, nil, "root")
	rootID := root.Comment.ID
	child, _ := svc.CreateComment(ctx, ada, post.ID, &rootID, "child")
	childID := child.Comment.ID
	if _, err := svc.CreateComment(ctx, grace, post.ID, &childID, "grandchild"); err != nil {
		t.Fatalf("grandchild: %v", err)
	}
	sibling, _ := svc.CreateComment(ctx, ada, post.ID, nil, "sibling")

	if _, err := svc.DeleteComment(ctx, ada, rootID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	n, err := svc.DeleteComment(ctx, admin, rootID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 deleted, got %d", n)
	}

	remaining, _ := svc.PostComments(ctx, post.ID)
	if len(remaining) != 1 || remaining[0].ID != sibling.Comment.ID {
		t.Fatalf("only the sibling should remain, got %+v", remaining)
	}
}

func TestUpdateComment_AuthorOnly(t *testing.T) {
	db := testutil.NewTestDB(t)
	svc := NewService(db, 20)
	ctx := context.Background()
	ada := createProfile(t, db, "ada", false)
	admin := createProfile(t, db, "root", true)

	post, _ := svc.CreatePost(ctx, ada, "post", "body")
	c, _ := svc.CreateComment(ctx, ada, post.ID, nil, "typo")

	if _, err := svc.UpdateComment(ctx, admin, c.Comment.ID, "x"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("staff must not edit others' comments, got %v", err)
	}
	got, err := svc.UpdateComment(ctx, ada, c.Comment.ID, "fixed")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Text != "fixed" {
		t.Fatalf("unexpected text %q", got.Text)
	}
}

func TestNotificationRecipient(t *testing.T) {
	postAuthor, parentAuthor, commenter := uuid.New(), uuid.New(), uuid.New()
	post := &database.Post{ProfileID: &postAuthor}
	parent := &database.Comment{ProfileID: &parentAuthor}

	cases := []struct {
		name   string
		parent *database.Comment
		author *uuid.UUID
		want   *uuid.UUID
	}{
		{name: "reply notifies parent author", parent: parent, author: &commenter, want: &parentAuthor},
		{name: "reply to self falls back to post author", parent: parent, author: &parentAuthor, want: &postAuthor},
		{name: "top level notifies post author", parent: nil, author: &commenter, want: &postAuthor},
		{name: "own post no notification", parent: nil, author: &postAuthor, want: nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := NotificationRecipient(post, tc.parent, &database.Comment{ProfileID: tc.author})
			if (got == nil) != (tc.want == nil) || (got != nil && *got != *tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}

	detached := &database.Post{}
	if got := NotificationRecipient(detached, nil, &database.Comment{ProfileID: &commenter}); got != nil {
		t.Fatalf("deleted post author must not be notified, got %v", got)
	}
}
