package models

import "time"

const (
	RatingPass = "Pass"
	RatingFail = "Fail"
)

// Trace is one imported turn of a logged conversation. Traces are written
// once by the CSV importer and never modified through the API.
type Trace struct {
	TraceID     string    `json:"trace_id"`
	FlowSession string    `json:"flow_session"`
	TurnNumber  int       `json:"turn_number"`
	TotalTurns  int       `json:"total_turns"`
	UserMessage string    `json:"user_message"`
	AIResponse  string    `json:"ai_response"`
	Metadata    Metadata  `json:"metadata"`
	ImportedAt  time.Time `json:"imported_at"`
	ImportedBy  string    `json:"imported_by"`
}

// ContextTurn is an earlier turn of the same flow session, returned
// alongside a trace so reviewers see the conversation so far.
type ContextTurn struct {
	TurnNumber  int    `json:"turn_number"`
	UserMessage string `json:"user_message"`
	AIResponse  string `json:"ai_response"`
}

type TraceWithContext struct {
	Trace
	Context []ContextTurn `json:"context"`
}

type TracePage struct {
	Traces     []Trace `json:"traces"`
	Page       int     `json:"page"`
	PageSize   int     `json:"page_size"`
	Total      int     `json:"total"`
	TotalPages int     `json:"total_pages"`
}

// AdjacentTraces holds the neighbours of a trace under the listing order
// (flow_session desc, turn_number asc). Nil means the trace is at an end.
type AdjacentTraces struct {
	Previous *string `json:"previous"`
	Next     *string `json:"next"`
}

// Annotation is one evaluator's judgment on one trace. At most one exists
// per (trace_id, user_id); updates replace the whole record and bump
// version while keeping created_at.
type Annotation struct {
	ID                 string    `json:"id"`
	TraceID            string    `json:"trace_id"`
	UserID             string    `json:"user_id"`
	HolisticPassFail   string    `json:"holistic_pass_fail"`
	FirstFailureNote   string    `json:"first_failure_note,omitempty"`
	OpenCodes          string    `json:"open_codes,omitempty"`
	CommentsHypotheses string    `json:"comments_hypotheses,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
	Version            int       `json:"version"`
}

type RecentAnnotation struct {
	ID               string    `json:"id"`
	TraceID          string    `json:"trace_id"`
	HolisticPassFail string    `json:"holistic_pass_fail"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type UserStats struct {
	TotalAnnotations int                `json:"total_annotations"`
	PassCount        int                `json:"pass_count"`
	FailCount        int                `json:"fail_count"`
	PassRate         float64            `json:"pass_rate"`
	Recent           []RecentAnnotation `json:"recent_annotations"`
}

// User mirrors an identity-provider account.
type User struct {
	ProviderID string    `json:"provider_id"`
	Email      string    `json:"email"`
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type ImportSummary struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
	Total    int `json:"total"`
}
