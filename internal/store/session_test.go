package store

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestSessionRepository_CreateAndGet(t *testing.T) {
	repo := newTestStore(t).Sessions()

	created := time.Date(2026, 3, 14, 18, 30, 0, 0, time.UTC)
	sess := &Session{
		UserEmail:     "priya@example.com",
		Exercise:      "push_up",
		Count:         12,
		Frames:        450,
		SkippedFrames: 31,
		Source:        SourceVideo,
		Duration:      42 * time.Second,
		CreatedAt:     created,
	}
	if err := repo.Create(sess); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if sess.ID == "" {
		t.Fatal("Create() should assign an ID")
	}
	if sess.Date != "2026-03-14" {
		t.Errorf("Date defaulted to %q, want 2026-03-14", sess.Date)
	}

	got, err := repo.GetByID(sess.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}

	opt := cmpopts.EquateApproxTime(time.Second)
	if diff := cmp.Diff(sess, got, opt); diff != "" {
		t.Errorf("GetByID() mismatch (-want +got):\n%s", diff)
	}
}

func TestSessionRepository_GetByID_NotFound(t *testing.T) {
	repo := newTestStore(t).Sessions()

	if _, err := repo.GetByID("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID() error = %v, want ErrNotFound", err)
	}
}

func TestSessionRepository_CreateInvalid(t *testing.T) {
	repo := newTestStore(t).Sessions()

	tests := []struct {
		name string
		sess Session
	}{
		{"no email", Session{Exercise: "squat", Source: SourceLive}},
		{"bad email", Session{UserEmail: "not-an-email", Exercise: "squat", Source: SourceLive}},
		{"negative count", Session{UserEmail: "a@b.co", Exercise: "squat", Count: -1, Source: SourceLive}},
		{"bad date", Session{UserEmail: "a@b.co", Exercise: "squat", Date: "14/03/2026", Source: SourceLive}},
		{"bad source", Session{UserEmail: "a@b.co", Exercise: "squat", Source: "webcam"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := repo.Create(&tt.sess); !errors.Is(err, ErrInvalidSession) {
				t.Errorf("Create() error = %v, want ErrInvalidSession", err)
			}
		})
	}

	// Unknown exercises are rejected by the schema.
	err := repo.Create(&Session{UserEmail: "a@b.co", Exercise: "lunge", Source: SourceManual})
	if err == nil {
		t.Error("Create() with an unknown exercise should fail")
	}
}

func TestSessionRepository_ListByUser(t *testing.T) {
	repo := newTestStore(t).Sessions()

	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	entries := []*Session{
		{UserEmail: "a@b.co", Exercise: "squat", Count: 10, Source: SourceLive, CreatedAt: base},
		{UserEmail: "a@b.co", Exercise: "push_up", Count: 5, Source: SourceLive, CreatedAt: base.Add(48 * time.Hour)},
		{UserEmail: "a@b.co", Exercise: "squat", Count: 7, Source: SourceVideo, CreatedAt: base.Add(time.Hour)},
		{UserEmail: "other@b.co", Exercise: "squat", Count: 99, Source: SourceLive, CreatedAt: base},
	}
	for _, e := range entries {
		if err := repo.Create(e); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	list, err := repo.ListByUser("a@b.co", 0)
	if err != nil {
		t.Fatalf("ListByUser() error = %v", err)
	}

	var counts []int
	for _, s := range list {
		counts = append(counts, s.Count)
	}
	if diff := cmp.Diff([]int{5, 7, 10}, counts); diff != "" {
		t.Errorf("ListByUser() order mismatch (-want +got):\n%s", diff)
	}

	limited, err := repo.ListByUser("a@b.co", 2)
	if err != nil {
		t.Fatalf("ListByUser() error = %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("ListByUser(limit=2) returned %d sessions", len(limited))
	}

	none, err := repo.ListByUser("nobody@b.co", 0)
	if err != nil {
		t.Fatalf("ListByUser() error = %v", err)
	}
	if len(none) != 0 {
		t.Errorf("unknown user has %d sessions", len(none))
	}
}

func TestSessionRepository_Summary(t *testing.T) {
	repo := newTestStore(t).Sessions()

	add := func(date, exercise string, count int) {
		t.Helper()
		err := repo.Create(&Session{UserEmail: "a@b.co", Exercise: exercise, Date: date, Count: count, Source: SourceManual})
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}
	add("2026-06-01", "squat", 10)
	add("2026-06-01", "squat", 15)
	add("2026-06-01", "push_up", 8)
	add("2026-06-03", "shoulder_press", 6)

	got, err := repo.Summary("a@b.co")
	if err != nil {
		t.Fatalf("Summary() error = %v", err)
	}

	want := []DaySummary{
		{Date: "2026-06-03", Exercises: map[string]int{"shoulder_press": 6}},
		{Date: "2026-06-01", Exercises: map[string]int{"squat": 25, "push_up": 8}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Summary() mismatch (-want +got):\n%s", diff)
	}
}

func TestSessionRepository_Delete(t *testing.T) {
	repo := newTestStore(t).Sessions()

	sess := &Session{UserEmail: "a@b.co", Exercise: "squat", Count: 1, Source: SourceLive}
	if err := repo.Create(sess); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := repo.Delete(sess.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := repo.Delete(sess.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete() error = %v, want ErrNotFound", err)
	}
	if _, err := repo.GetByID(sess.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID() after Delete error = %v, want ErrNotFound", err)
	}
}
