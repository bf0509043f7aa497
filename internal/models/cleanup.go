package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// CleanupStatus is the outcome recorded for a cleanup execution.
type CleanupStatus string

const (
	CleanupCompleted CleanupStatus = "COMPLETED"
	CleanupPartial   CleanupStatus = "PARTIAL"
	CleanupFailed    CleanupStatus = "FAILED"
)

// Cleanup defaults and bounds for manual and scheduled runs.
const (
	DefaultCleanupMonths   = 24
	DefaultCleanupMaxTerms = 10
	MinCleanupMonths       = 6
	MaxCleanupMonths       = 120
	MinCleanupTerms        = 1
	MaxCleanupTerms        = 50
)

// CleanupParams configures a single cleanup execution.
type CleanupParams struct {
	MonthsThreshold int  `json:"monthsThreshold" validate:"gte=6,lte=120"`
	MaxTermsPerRun  int  `json:"maxBimestresPerExecution" validate:"gte=1,lte=50"`
	DebugMode       bool `json:"debugMode"`
	PerformBackup   bool `json:"performBackup"`
}

// CleanupCandidate is an inactive term eligible for removal.
type CleanupCandidate struct {
	Term
	MonthsSinceEnd int `db:"months_since_end" json:"months_since_end"`
}

// TableCounts maps a table name to the number of rows removed from it.
type TableCounts map[string]int64

// Value implements driver.Valuer storing counts as JSON.
func (c TableCounts) Value() (driver.Value, error) {
	if c == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(c)
}

// Scan implements sql.Scanner.
func (c *TableCounts) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*c = TableCounts{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported table counts type %T", src)
	}
	out := TableCounts{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return err
	}
	*c = out
	return nil
}

// Total sums all table counts.
func (c TableCounts) Total() int64 {
	var total int64
	for _, n := range c {
		total += n
	}
	return total
}

// CleanupExecutionLog is the append-only audit row of a cleanup execution.
type CleanupExecutionLog struct {
	ID                  string         `db:"id" json:"id"`
	ExecutionID         string         `db:"execution_id" json:"execution_id"`
	ExecutedAt          time.Time      `db:"executed_at" json:"executed_at"`
	Status              CleanupStatus  `db:"status" json:"status"`
	TermsIdentified     int            `db:"terms_identified" json:"bimestres_identified"`
	TermsDeleted        int            `db:"terms_deleted" json:"bimestres_deleted"`
	TotalRecordsDeleted int64          `db:"total_records_deleted" json:"total_records_deleted"`
	ExecutionSeconds    float64        `db:"execution_seconds" json:"execution_time_seconds"`
	DebugMode           bool           `db:"debug_mode" json:"debug_mode"`
	MonthsThreshold     int            `db:"months_threshold" json:"months_threshold"`
	MaxTermsPerRun      int            `db:"max_terms_per_run" json:"max_bimestres_per_execution"`
	PerformBackup       bool           `db:"perform_backup" json:"perform_backup"`
	Trigger             string         `db:"trigger_source" json:"trigger"`
	ErrorMessage        *string        `db:"error_message" json:"error_message,omitempty"`
	TableCounts         TableCounts    `db:"table_counts" json:"table_counts"`
	ProcessedTermIDs    pq.StringArray `db:"processed_term_ids" json:"bimestres_processed_ids"`
	TableErrors         pq.StringArray `db:"table_errors" json:"table_errors,omitempty"`
}

// CleanupHistoryItem is a summarised log row for history listings.
type CleanupHistoryItem struct {
	ExecutionID         string        `db:"execution_id" json:"execution_id"`
	ExecutedAt          time.Time     `db:"executed_at" json:"executed_at"`
	Status              CleanupStatus `db:"status" json:"status"`
	TermsDeleted        int           `db:"terms_deleted" json:"bimestres_deleted"`
	TotalRecordsDeleted int64         `db:"total_records_deleted" json:"total_records_deleted"`
	ExecutionSeconds    float64       `db:"execution_seconds" json:"execution_time_seconds"`
	Trigger             string        `db:"trigger_source" json:"trigger"`
}

// CleanupTrigger values recorded in the log.
const (
	CleanupTriggerManual    = "MANUAL"
	CleanupTriggerScheduled = "SCHEDULED"
)
