package store

import (
	"encoding/json"
	"time"
)

// ExecutionRecord is one completed agent invocation. Records are immutable once
// written; only QualityScore and Metadata may be patched afterwards.
type ExecutionRecord struct {
	ID              int64
	AgentID         string
	SessionID       string
	UserID          *string
	Input           json.RawMessage // opaque, never interpreted by the engine
	Output          json.RawMessage // opaque, never interpreted by the engine
	Metadata        json.RawMessage // opaque, never interpreted by the engine
	CreatedTs       time.Time       // UTC, millisecond precision
	TokensUsed      int64
	Cost            float64 // decimal currency units
	ExecutionTimeMs int64
	Success         bool
	ErrorMessage    *string
	QualityScore    *float64 // 0-100
}

// ExecutionSortField names a sortable execution record column.
type ExecutionSortField string

const (
	SortByTimestamp     ExecutionSortField = "timestamp"
	SortByCost          ExecutionSortField = "cost"
	SortByExecutionTime ExecutionSortField = "execution_time"
	SortByScore         ExecutionSortField = "score"
)

// FindExecutionRecord specifies the conditions for finding execution records.
// Results are ordered by SortBy (default timestamp) and then by id in the same
// direction, so same-timestamp records keep their insertion order.
type FindExecutionRecord struct {
	ID          *int64
	AgentID     *string
	SessionID   *string
	UserID      *string
	StartTime   *time.Time // inclusive
	EndTime     *time.Time // exclusive
	SuccessOnly bool
	SortBy      ExecutionSortField
	SortDesc    bool
	Limit       int
	Offset      int
}

// UpdateExecutionRecord specifies the post-hoc feedback patch for a record.
type UpdateExecutionRecord struct {
	ID           int64
	QualityScore *float64
	Metadata     json.RawMessage
}

// DeleteExecutionRecords specifies the conditions for deleting execution records.
type DeleteExecutionRecords struct {
	BeforeTime *time.Time // Delete records older than this time
}

// SortColumn returns the SQL column for the sort field.
func (f ExecutionSortField) SortColumn() string {
	switch f {
	case SortByCost:
		return "cost"
	case SortByExecutionTime:
		return "execution_time_ms"
	case SortByScore:
		return "COALESCE(quality_score, -1)"
	default:
		return "created_ts"
	}
}

// Valid reports whether f is empty or a known sort field.
func (f ExecutionSortField) Valid() bool {
	switch f {
	case "", SortByTimestamp, SortByCost, SortByExecutionTime, SortByScore:
		return true
	}
	return false
}

// EncodeBlob converts an opaque payload into its stored text form.
func EncodeBlob(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "null"
	}
	return string(raw)
}

// DecodeBlob converts a stored payload back, mapping SQL/JSON null to nil.
func DecodeBlob(s string) json.RawMessage {
	if s == "" || s == "null" {
		return nil
	}
	return json.RawMessage(s)
}
