package traces

import (
	"github.com/opencoding/backend/internal/importer"
	"github.com/opencoding/backend/internal/storage/models"
	"github.com/opencoding/backend/internal/storage/sqlite"
)

type Service struct {
	db              *sqlite.Client
	importer        *importer.Importer
	defaultPageSize int
	maxPageSize     int
}

func NewService(db *sqlite.Client, imp *importer.Importer, defaultPageSize, maxPageSize int) *Service {
	return &Service{
		db:              db,
		importer:        imp,
		defaultPageSize: defaultPageSize,
		maxPageSize:     maxPageSize,
	}
}

// List returns one page of traces. page_size is clamped to the configured
// maximum rather than rejected.
func (s *Service) List(page, pageSize int) (*models.TracePage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = s.defaultPageSize
	}
	if pageSize > s.maxPageSize {
		pageSize = s.maxPageSize
	}

	total, err := s.db.CountTraces()
	if err != nil {
		return nil, err
	}

	traces, err := s.db.ListTraces((page-1)*pageSize, pageSize)
	if err != nil {
		return nil, err
	}
	if traces == nil {
		traces = []models.Trace{}
	}

	return &models.TracePage{
		Traces:     traces,
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: (total + pageSize - 1) / pageSize,
	}, nil
}

// Get returns a trace with every earlier turn of its flow session.
func (s *Service) Get(traceID string) (*models.TraceWithContext, error) {
	return s.db.GetTrace(traceID)
}

// Adjacent returns the trace ids next to traceID in the listing order.
func (s *Service) Adjacent(traceID string) (*models.AdjacentTraces, error) {
	return s.db.AdjacentTraces(traceID)
}

// NextUnannotated returns the first trace the user has not annotated yet,
// or "" when none remain.
func (s *Service) NextUnannotated(userID string) (string, error) {
	return s.db.NextUnannotated(userID)
}

// ImportCSV runs the upload through the import pipeline.
func (s *Service) ImportCSV(filename string, data []byte, importedBy string) (*models.ImportSummary, error) {
	return s.importer.Import(filename, data, importedBy)
}
