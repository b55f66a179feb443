// Package workflow moves records between departments: it evaluates the push
// conditions of a department pair, copies matching records into the target
// department and keeps a history of every attempt.
package workflow

import (
	"math"
	"time"

	"github.com/liamcoop/tripflow/condition"
	"github.com/liamcoop/tripflow/internal/validate"
)

// Status is the state of one push attempt.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusPending   Status = "pending"
	StatusCancelled Status = "cancelled"
)

// HistoryEntry records one push attempt.
type HistoryEntry struct {
	ID                 string    `json:"id"`
	RecordID           string    `json:"record_id" validate:"required"`
	SourceDepartmentID int64     `json:"source_department_id" validate:"gt=0"`
	TargetDepartmentID int64     `json:"target_department_id" validate:"gt=0"`
	TargetRecordID     string    `json:"target_record_id,omitempty"`
	Status             Status    `json:"status" validate:"oneof=success failed pending cancelled"`
	ErrorMessage       string    `json:"error_message,omitempty" validate:"required_if=Status failed"`
	PushedBy           string    `json:"pushed_by,omitempty"`
	PushedAt           time.Time `json:"pushed_at"`
}

// Validate checks the entry; a failed entry must carry an error message.
func (h *HistoryEntry) Validate() error {
	return validate.Struct(h)
}

// Filter selects history entries. Zero values match everything.
type Filter struct {
	RecordID           string
	SourceDepartmentID int64
	TargetDepartmentID int64
	Status             Status
	// Limit caps the result; 0 means DefaultHistoryLimit.
	Limit int
}

// DefaultHistoryLimit is the page size when Filter.Limit is 0.
const DefaultHistoryLimit = 100

func (f Filter) limit() int {
	if f.Limit <= 0 {
		return DefaultHistoryLimit
	}
	return f.Limit
}

func (f Filter) matches(h *HistoryEntry) bool {
	return (f.RecordID == "" || h.RecordID == f.RecordID) &&
		(f.SourceDepartmentID == 0 || h.SourceDepartmentID == f.SourceDepartmentID) &&
		(f.TargetDepartmentID == 0 || h.TargetDepartmentID == f.TargetDepartmentID) &&
		(f.Status == "" || h.Status == f.Status)
}

// Statistics summarises push attempts.
type Statistics struct {
	Total      int `json:"total_pushes"`
	Successful int `json:"successful_pushes"`
	Failed     int `json:"failed_pushes"`
	// SuccessRate is a percentage rounded to two decimals; 0 when Total is 0.
	SuccessRate float64 `json:"success_rate"`
}

func newStatistics(total, successful, failed int) Statistics {
	s := Statistics{Total: total, Successful: successful, Failed: failed}
	if total > 0 {
		s.SuccessRate = math.Round(float64(successful)/float64(total)*100*100) / 100
	}
	return s
}

// PushRequest asks for one record to be pushed.
type PushRequest struct {
	RecordID           string         `json:"record_id" validate:"required"`
	SourceDepartmentID int64          `json:"source_department_id" validate:"gt=0"`
	TargetDepartmentID int64          `json:"target_department_id" validate:"gt=0,nefield=SourceDepartmentID"`
	Data               map[string]any `json:"record_data"`
	PushedBy           string         `json:"pushed_by,omitempty"`
	// FieldMapping renames source fields to target fields.
	FieldMapping map[string]string `json:"field_mapping,omitempty"`
}

// Validate checks the request's identifiers.
func (r *PushRequest) Validate() error {
	return validate.Struct(r)
}

// Outcome is the result of AutoPush.
type Outcome struct {
	Matched     bool             `json:"matched"`
	Pushed      bool             `json:"pushed"`
	NewRecordID string           `json:"new_record_id,omitempty"`
	Conditions  int              `json:"conditions"`
	Steps       []condition.Step `json:"steps,omitempty"`
}
