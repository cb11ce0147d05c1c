package jobs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// TerminalStatuses never transition again once written.
var TerminalStatuses = []string{StatusCompleted, StatusFailed, StatusCancelled}

func IsTerminal(status string) bool {
	for _, s := range TerminalStatuses {
		if s == status {
			return true
		}
	}
	return false
}

const (
	TypeProcessText  = "process_text"
	TypeProcessFile  = "process_file"
	TypeCrawlWebsite = "crawl_website"
)

// AllTypes lists every job type the worker must handle.
var AllTypes = []string{TypeProcessText, TypeProcessFile, TypeCrawlWebsite}

const (
	PriorityLow    = 1
	PriorityNormal = 5
	PriorityHigh   = 10
	PriorityUrgent = 20
)

const DefaultMaxAttempts = 3

// Progress is the structured progress snapshot stored on a Job and pushed to
// realtime subscribers.
type Progress struct {
	Step    string         `json:"step"`
	Percent float64        `json:"percent"`
	Detail  map[string]any `json:"detail,omitempty"`
}

type Job struct {
	ID           uuid.UUID                     `gorm:"type:uuid;primaryKey" json:"id"`
	DataSourceID uuid.UUID                     `gorm:"type:uuid;column:data_source_id;not null;index" json:"data_source_id"`
	Type         string                        `gorm:"column:type;not null;index" json:"type"`
	Priority     int                           `gorm:"column:priority;not null;index" json:"priority"`
	Status       string                        `gorm:"column:status;not null;index" json:"status"`
	Progress     datatypes.JSONType[Progress]  `gorm:"column:progress" json:"progress"`
	Result       datatypes.JSON                `gorm:"column:result" json:"result,omitempty"`
	ErrorMessage string                        `gorm:"column:error_message" json:"error_message,omitempty"`
	Attempts     int                           `gorm:"column:attempts;not null" json:"attempts"`
	MaxAttempts  int                           `gorm:"column:max_attempts;not null" json:"max_attempts"`
	ScheduledFor *time.Time                    `gorm:"column:scheduled_for;index" json:"scheduled_for,omitempty"`
	StartedAt    *time.Time                    `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt  *time.Time                    `gorm:"column:completed_at;index" json:"completed_at,omitempty"`
	LockedAt     *time.Time                    `gorm:"column:locked_at;index" json:"locked_at,omitempty"`
	HeartbeatAt  *time.Time                    `gorm:"column:heartbeat_at;index" json:"heartbeat_at,omitempty"`
	CreatedAt    time.Time                     `gorm:"not null;index" json:"created_at"`
	UpdatedAt    time.Time                     `gorm:"not null" json:"updated_at"`
}

func (Job) TableName() string { return "ingest_job" }

func (j *Job) BeforeCreate(tx *gorm.DB) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	if j.Status == "" {
		j.Status = StatusPending
	}
	if j.MaxAttempts <= 0 {
		j.MaxAttempts = DefaultMaxAttempts
	}
	return nil
}

func (j *Job) IsTerminal() bool { return IsTerminal(j.Status) }

// SnapshotProgress returns the decoded progress value.
func (j *Job) SnapshotProgress() Progress { return j.Progress.Data() }
