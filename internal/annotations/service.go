package annotations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opencoding/backend/internal/auth"
	"github.com/opencoding/backend/internal/cache/redis"
	"github.com/opencoding/backend/internal/metrics"
	"github.com/opencoding/backend/internal/storage/models"
	"github.com/opencoding/backend/internal/storage/sqlite"
	"github.com/opencoding/backend/pkg/logger"
)

const (
	maxFailureNoteLen = 256
	maxOpenCodesLen   = 500
	maxCommentsLen    = 1000
)

// ValidationError reports a rejected submission field.
type ValidationError struct {
	Detail string
}

func (e *ValidationError) Error() string {
	return e.Detail
}

// SaveRequest is one complete annotation submission. Updates replace the
// stored record wholesale; omitted fields are cleared, not kept.
type SaveRequest struct {
	TraceID            string `json:"trace_id"`
	HolisticPassFail   string `json:"holistic_pass_fail"`
	FirstFailureNote   string `json:"first_failure_note"`
	OpenCodes          string `json:"open_codes"`
	CommentsHypotheses string `json:"comments_hypotheses"`
}

type BulkRecord struct {
	SaveRequest
	UserID string `json:"user_id"`
}

type BulkResult struct {
	Imported       int      `json:"imported"`
	Updated        int      `json:"updated"`
	SkippedNoTrace int      `json:"skipped_no_trace"`
	Details        []string `json:"details"`
}

type Service struct {
	db    *sqlite.Client
	cache *redis.Client
}

func NewService(db *sqlite.Client, cache *redis.Client) *Service {
	return &Service{db: db, cache: cache}
}

// Save validates a submission and writes it as the caller's single
// annotation for the trace: version 1 on first save, a full replace with
// a version bump afterwards. Returns true when a new record was created.
func (s *Service) Save(ctx context.Context, req *SaveRequest, caller *auth.Identity) (*models.Annotation, bool, error) {
	if err := validate(req); err != nil {
		return nil, false, err
	}

	// A failure note is only meaningful when the trace is marked failing.
	if req.HolisticPassFail == models.RatingPass {
		req.FirstFailureNote = ""
	}

	exists, err := s.db.TraceExists(req.TraceID)
	if err != nil {
		return nil, false, err
	}
	if !exists {
		return nil, false, fmt.Errorf("trace %s: %w", req.TraceID, sqlite.ErrNotFound)
	}

	now := time.Now()
	annotation := &models.Annotation{
		ID:                 uuid.NewString(),
		TraceID:            req.TraceID,
		UserID:             caller.UserID,
		HolisticPassFail:   req.HolisticPassFail,
		FirstFailureNote:   req.FirstFailureNote,
		OpenCodes:          req.OpenCodes,
		CommentsHypotheses: req.CommentsHypotheses,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	created, err := s.db.UpsertAnnotation(annotation)
	if err != nil {
		return nil, false, err
	}

	outcome := "updated"
	if created {
		outcome = "created"
	}
	metrics.AnnotationsSaved.WithLabelValues(annotation.HolisticPassFail, outcome).Inc()

	if err := s.cache.InvalidateStats(ctx, caller.UserID); err != nil {
		logger.Warn("Failed to invalidate stats cache", zap.Error(err))
	}

	return annotation, created, nil
}

// ForTrace returns the caller's annotation on a trace, or ErrNotFound.
func (s *Service) ForTrace(traceID, userID string) (*models.Annotation, error) {
	return s.db.GetAnnotation(traceID, userID)
}

// Stats computes the caller's annotation totals and recent activity,
// served from cache when a fresh copy exists.
func (s *Service) Stats(ctx context.Context, userID string) (*models.UserStats, error) {
	var cached models.UserStats
	hit, err := s.cache.GetStats(ctx, userID, &cached)
	if err != nil {
		logger.Warn("Failed to read stats cache", zap.Error(err))
	}
	if hit {
		return &cached, nil
	}

	stats, err := s.db.UserStats(userID)
	if err != nil {
		return nil, err
	}

	if err := s.cache.SetStats(ctx, userID, stats); err != nil {
		logger.Warn("Failed to write stats cache", zap.Error(err))
	}

	return stats, nil
}

// BulkImport replays exported annotation records through the same upsert
// path. Records whose trace is absent are skipped and reported, matching
// the CSV pipeline's partial-success policy.
func (s *Service) BulkImport(ctx context.Context, records []BulkRecord, caller *auth.Identity) (*BulkResult, error) {
	result := &BulkResult{Details: []string{}}

	for _, record := range records {
		userID := record.UserID
		if userID == "" {
			userID = caller.UserID
		}

		saved, created, err := s.Save(ctx, &record.SaveRequest, &auth.Identity{UserID: userID})
		if errors.Is(err, sqlite.ErrNotFound) {
			result.SkippedNoTrace++
			result.Details = append(result.Details, fmt.Sprintf("SKIP: trace %s not found", record.TraceID))
			continue
		}
		if err != nil {
			return nil, err
		}

		if created {
			result.Imported++
			result.Details = append(result.Details, fmt.Sprintf("INSERT: %s (%s)", saved.TraceID, saved.HolisticPassFail))
		} else {
			result.Updated++
			result.Details = append(result.Details, fmt.Sprintf("UPDATE: %s (%s)", saved.TraceID, saved.HolisticPassFail))
		}
	}

	return result, nil
}

func validate(req *SaveRequest) error {
	if req.TraceID == "" {
		return &ValidationError{Detail: "trace_id is required"}
	}
	if req.HolisticPassFail != models.RatingPass && req.HolisticPassFail != models.RatingFail {
		return &ValidationError{Detail: "holistic_pass_fail must be Pass or Fail"}
	}
	if len(req.FirstFailureNote) > maxFailureNoteLen {
		return &ValidationError{Detail: fmt.Sprintf("first_failure_note exceeds %d characters", maxFailureNoteLen)}
	}
	if len(req.OpenCodes) > maxOpenCodesLen {
		return &ValidationError{Detail: fmt.Sprintf("open_codes exceeds %d characters", maxOpenCodesLen)}
	}
	if len(req.CommentsHypotheses) > maxCommentsLen {
		return &ValidationError{Detail: fmt.Sprintf("comments_hypotheses exceeds %d characters", maxCommentsLen)}
	}
	return nil
}
