package importer

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/opencoding/backend/internal/metrics"
	"github.com/opencoding/backend/internal/storage/models"
	"github.com/opencoding/backend/internal/storage/sqlite"
	"github.com/opencoding/backend/pkg/logger"
)

var (
	ErrNotCSV   = errors.New("file must be a CSV")
	ErrTooLarge = errors.New("file exceeds maximum upload size")
)

// FormatError wraps a CSV parse failure so handlers can map it to a 400.
type FormatError struct {
	Err error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid CSV format: %v", e.Err)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

// MissingColumnsError reports which canonical columns are absent after
// aliasing, together with everything that was actually found, so callers
// can fix header names without server-side debugging.
type MissingColumnsError struct {
	Missing []string
	Found   []string
}

func (e *MissingColumnsError) Error() string {
	return fmt.Sprintf("missing required columns after mapping: %s. Available: %s",
		strings.Join(e.Missing, ", "), strings.Join(e.Found, ", "))
}

// columnAliases maps known alternate header spellings to canonical field
// names. Headers not listed here pass through unchanged into metadata.
var columnAliases = map[string]string{
	"Turn_Number":            "turn_number",
	"Total_Turns_in_Session": "total_turns",
	"Flow Session":           "flow_session",
	"body.user_message":      "user_message",
	"response.text_output":   "ai_response",
	"id":                     "trace_id",
}

var requiredColumns = []string{
	"trace_id", "flow_session", "turn_number", "total_turns",
	"user_message", "ai_response",
}

type Importer struct {
	db            *sqlite.Client
	maxBytes      int
	strictNumbers bool
}

func NewImporter(db *sqlite.Client, maxBytes int, strictNumbers bool) *Importer {
	return &Importer{
		db:            db,
		maxBytes:      maxBytes,
		strictNumbers: strictNumbers,
	}
}

// Import parses an uploaded CSV and stores one trace per row. Rows whose
// trace_id already exists are skipped, not overwritten; partial success is
// reported in the summary rather than treated as failure.
func (i *Importer) Import(filename string, data []byte, importedBy string) (*models.ImportSummary, error) {
	if !strings.HasSuffix(strings.ToLower(filename), ".csv") {
		return nil, ErrNotCSV
	}
	if i.maxBytes > 0 && len(data) > i.maxBytes {
		return nil, ErrTooLarge
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, &FormatError{Err: err}
	}
	if len(records) == 0 {
		return nil, &FormatError{Err: errors.New("empty file")}
	}

	columns := make([]string, len(records[0]))
	for idx, name := range records[0] {
		name = strings.TrimSpace(name)
		if canonical, ok := columnAliases[name]; ok {
			name = canonical
		}
		columns[idx] = name
	}

	logger.Info("CSV columns mapped", zap.Strings("columns", columns))

	if missing := missingColumns(columns); len(missing) > 0 {
		return nil, &MissingColumnsError{Missing: missing, Found: columns}
	}

	rows := records[1:]
	summary := &models.ImportSummary{Total: len(rows)}
	now := time.Now()

	for rowNum, record := range rows {
		metadata := make(models.Metadata, len(columns))
		for idx, col := range columns {
			if idx < len(record) {
				metadata[col] = coerceValue(record[idx])
			}
		}

		turnNumber, tnOK := coerceInt(metadata["turn_number"])
		totalTurns, ttOK := coerceInt(metadata["total_turns"])
		if i.strictNumbers && (!tnOK || !ttOK) {
			summary.Failed++
			logger.Warn("Row rejected: unparseable turn counters", zap.Int("row", rowNum+1))
			continue
		}

		trace := &models.Trace{
			TraceID:     coerceString(metadata["trace_id"]),
			FlowSession: coerceString(metadata["flow_session"]),
			TurnNumber:  turnNumber,
			TotalTurns:  totalTurns,
			UserMessage: coerceString(metadata["user_message"]),
			AIResponse:  coerceString(metadata["ai_response"]),
			Metadata:    metadata,
			ImportedAt:  now,
			ImportedBy:  importedBy,
		}

		exists, err := i.db.TraceExists(trace.TraceID)
		if err != nil {
			return nil, err
		}
		if exists {
			summary.Skipped++
			metrics.TracesSkipped.Inc()
			logger.Debug("Skipping duplicate trace", zap.String("trace_id", trace.TraceID))
			continue
		}

		if err := i.db.InsertTrace(trace); err != nil {
			return nil, err
		}
		summary.Imported++
		metrics.TracesImported.Inc()
	}

	logger.Info("CSV import finished",
		zap.Int("imported", summary.Imported),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
		zap.Int("total", summary.Total),
	)

	return summary, nil
}

func missingColumns(columns []string) []string {
	present := make(map[string]bool, len(columns))
	for _, c := range columns {
		present[c] = true
	}

	var missing []string
	for _, required := range requiredColumns {
		if !present[required] {
			missing = append(missing, required)
		}
	}
	return missing
}

// coerceValue types a raw CSV cell: empty cells become nil, numerics become
// int or float64, NaN and infinities become nil, everything else stays a
// string.
func coerceValue(raw string) interface{} {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		return f
	}
	return raw
}

func coerceInt(v interface{}) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case float64:
		return int(x), true
	default:
		return 0, false
	}
}

func coerceString(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	default:
		return fmt.Sprintf("%v", x)
	}
}
