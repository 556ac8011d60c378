package annotations

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/opencoding/backend/internal/auth"
	"github.com/opencoding/backend/internal/storage/models"
	"github.com/opencoding/backend/internal/storage/sqlite"
	"github.com/opencoding/backend/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.InitNop()
	os.Exit(m.Run())
}

func newTestService(t *testing.T) (*Service, *sqlite.Client) {
	t.Helper()

	db, err := sqlite.NewClient(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema failed: %v", err)
	}

	return NewService(db, nil), db
}

func addTrace(t *testing.T, db *sqlite.Client, traceID string) {
	t.Helper()

	err := db.InsertTrace(&models.Trace{
		TraceID:     traceID,
		FlowSession: "s1",
		TurnNumber:  1,
		TotalTurns:  1,
		UserMessage: "hi",
		AIResponse:  "hello",
		ImportedAt:  time.Now(),
		ImportedBy:  "importer",
	})
	if err != nil {
		t.Fatalf("InsertTrace failed: %v", err)
	}
}

var testCaller = &auth.Identity{UserID: "user_1", Email: "a@example.com"}

func TestSaveCreatesThenUpdates(t *testing.T) {
	service, db := newTestService(t)
	addTrace(t, db, "t1")

	saved, created, err := service.Save(context.Background(), &SaveRequest{
		TraceID:          "t1",
		HolisticPassFail: models.RatingFail,
		FirstFailureNote: "missed the question",
	}, testCaller)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if !created {
		t.Fatal("expected first save to create")
	}
	if saved.Version != 1 {
		t.Fatalf("expected version 1, got %d", saved.Version)
	}

	for i := 2; i <= 4; i++ {
		saved, created, err = service.Save(context.Background(), &SaveRequest{
			TraceID:          "t1",
			HolisticPassFail: models.RatingFail,
			FirstFailureNote: "still wrong",
		}, testCaller)
		if err != nil {
			t.Fatalf("save %d failed: %v", i, err)
		}
		if created {
			t.Fatalf("save %d should update, not create", i)
		}
		if saved.Version != i {
			t.Fatalf("expected version %d, got %d", i, saved.Version)
		}
	}
}

func TestSavePassClearsFailureNote(t *testing.T) {
	service, db := newTestService(t)
	addTrace(t, db, "t1")

	saved, _, err := service.Save(context.Background(), &SaveRequest{
		TraceID:          "t1",
		HolisticPassFail: models.RatingPass,
		FirstFailureNote: "should not be stored",
	}, testCaller)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if saved.FirstFailureNote != "" {
		t.Errorf("expected failure note cleared on Pass, got %q", saved.FirstFailureNote)
	}

	stored, err := db.GetAnnotation("t1", testCaller.UserID)
	if err != nil {
		t.Fatalf("GetAnnotation failed: %v", err)
	}
	if stored.FirstFailureNote != "" {
		t.Errorf("stored failure note should be empty, got %q", stored.FirstFailureNote)
	}
}

func TestSaveUnknownTrace(t *testing.T) {
	service, _ := newTestService(t)

	_, _, err := service.Save(context.Background(), &SaveRequest{
		TraceID:          "ghost",
		HolisticPassFail: models.RatingPass,
	}, testCaller)
	if !errors.Is(err, sqlite.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveValidation(t *testing.T) {
	service, db := newTestService(t)
	addTrace(t, db, "t1")

	cases := []struct {
		name string
		req  SaveRequest
	}{
		{"missing trace id", SaveRequest{HolisticPassFail: models.RatingPass}},
		{"bad rating", SaveRequest{TraceID: "t1", HolisticPassFail: "Maybe"}},
		{"empty rating", SaveRequest{TraceID: "t1"}},
		{"long failure note", SaveRequest{
			TraceID:          "t1",
			HolisticPassFail: models.RatingFail,
			FirstFailureNote: strings.Repeat("x", maxFailureNoteLen+1),
		}},
		{"long open codes", SaveRequest{
			TraceID:          "t1",
			HolisticPassFail: models.RatingPass,
			OpenCodes:        strings.Repeat("x", maxOpenCodesLen+1),
		}},
		{"long comments", SaveRequest{
			TraceID:            "t1",
			HolisticPassFail:   models.RatingPass,
			CommentsHypotheses: strings.Repeat("x", maxCommentsLen+1),
		}},
	}

	for _, tc := range cases {
		_, _, err := service.Save(context.Background(), &tc.req, testCaller)
		var validationErr *ValidationError
		if !errors.As(err, &validationErr) {
			t.Errorf("%s: expected ValidationError, got %v", tc.name, err)
		}
	}
}

func TestStats(t *testing.T) {
	service, db := newTestService(t)
	addTrace(t, db, "t1")
	addTrace(t, db, "t2")

	for _, tc := range []struct{ trace, rating string }{
		{"t1", models.RatingPass},
		{"t2", models.RatingFail},
	} {
		_, _, err := service.Save(context.Background(), &SaveRequest{
			TraceID:          tc.trace,
			HolisticPassFail: tc.rating,
		}, testCaller)
		if err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	stats, err := service.Stats(context.Background(), testCaller.UserID)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.TotalAnnotations != 2 || stats.PassCount != 1 || stats.FailCount != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if stats.PassRate != 50 {
		t.Errorf("expected pass rate 50, got %v", stats.PassRate)
	}
}

func TestBulkImport(t *testing.T) {
	service, db := newTestService(t)
	addTrace(t, db, "t1")
	addTrace(t, db, "t2")

	records := []BulkRecord{
		{SaveRequest: SaveRequest{TraceID: "t1", HolisticPassFail: models.RatingPass}},
		{SaveRequest: SaveRequest{TraceID: "t2", HolisticPassFail: models.RatingFail}, UserID: "user_2"},
		{SaveRequest: SaveRequest{TraceID: "ghost", HolisticPassFail: models.RatingPass}},
		{SaveRequest: SaveRequest{TraceID: "t1", HolisticPassFail: models.RatingFail}},
	}

	result, err := service.BulkImport(context.Background(), records, testCaller)
	if err != nil {
		t.Fatalf("BulkImport failed: %v", err)
	}

	if result.Imported != 2 {
		t.Errorf("expected 2 imported, got %d", result.Imported)
	}
	if result.Updated != 1 {
		t.Errorf("expected 1 updated, got %d", result.Updated)
	}
	if result.SkippedNoTrace != 1 {
		t.Errorf("expected 1 skipped, got %d", result.SkippedNoTrace)
	}
	if len(result.Details) != 4 {
		t.Errorf("expected a detail per record, got %d", len(result.Details))
	}

	// The explicit user_id on the second record must win over the caller.
	a, err := db.GetAnnotation("t2", "user_2")
	if err != nil {
		t.Fatalf("GetAnnotation failed: %v", err)
	}
	if a.HolisticPassFail != models.RatingFail {
		t.Errorf("unexpected annotation for user_2: %+v", a)
	}
}
