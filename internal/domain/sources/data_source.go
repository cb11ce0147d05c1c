package sources

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/botforge-backend/internal/domain/jobs"
)

type SourceType string

const (
	TypeText    SourceType = "text"
	TypeFile    SourceType = "file"
	TypeWebsite SourceType = "website"
)

const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

type DataSource struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	AgentID         uuid.UUID      `gorm:"type:uuid;column:agent_id;not null;index" json:"agent_id"`
	Type            SourceType     `gorm:"column:type;not null" json:"type"`
	Name            string         `gorm:"column:name;not null" json:"name"`
	Config          datatypes.JSON `gorm:"column:config" json:"config"`
	StorageKey      string         `gorm:"column:storage_key" json:"storage_key,omitempty"`
	FileSizeBytes   int64          `gorm:"column:file_size_bytes" json:"file_size_bytes,omitempty"`
	Status          string         `gorm:"column:status;not null;index" json:"status"`
	ProcessingJobID *uuid.UUID     `gorm:"type:uuid;column:processing_job_id" json:"processing_job_id,omitempty"`
	ErrorMessage    string         `gorm:"column:error_message" json:"error_message,omitempty"`
	CharCount       *int           `gorm:"column:char_count" json:"char_count,omitempty"`
	ChunkCount      *int           `gorm:"column:chunk_count" json:"chunk_count,omitempty"`
	ProcessedAt     *time.Time     `gorm:"column:processed_at" json:"processed_at,omitempty"`
	CreatedAt       time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"not null" json:"updated_at"`
}

func (DataSource) TableName() string { return "data_source" }

func (d *DataSource) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.Status == "" {
		d.Status = StatusPending
	}
	return nil
}

// SourceConfig is the closed set of per-type source configurations. Only the
// variants in this package implement it.
type SourceConfig interface {
	SourceType() SourceType
	isSourceConfig()
}

type TextConfig struct {
	Content string `json:"content"`
}

type FileConfig struct {
	URL          string `json:"url,omitempty"`
	MimeType     string `json:"mime_type,omitempty"`
	OriginalName string `json:"original_name,omitempty"`
}

type WebsiteConfig struct {
	URL           string `json:"url"`
	CrawlSubpages bool   `json:"crawl_subpages"`
	MaxPages      int    `json:"max_pages,omitempty"`
}

const DefaultMaxPages = 10

func (TextConfig) SourceType() SourceType    { return TypeText }
func (FileConfig) SourceType() SourceType    { return TypeFile }
func (WebsiteConfig) SourceType() SourceType { return TypeWebsite }

func (TextConfig) isSourceConfig()    {}
func (FileConfig) isSourceConfig()    {}
func (WebsiteConfig) isSourceConfig() {}

// EncodeConfig serializes cfg for the config column.
func EncodeConfig(cfg SourceConfig) (datatypes.JSON, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil source config")
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

// DecodeConfig returns the typed config for d.Type.
func (d *DataSource) DecodeConfig() (SourceConfig, error) {
	raw := []byte(d.Config)
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	switch d.Type {
	case TypeText:
		var c TextConfig
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("decode text config: %w", err)
		}
		return c, nil
	case TypeFile:
		var c FileConfig
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("decode file config: %w", err)
		}
		return c, nil
	case TypeWebsite:
		var c WebsiteConfig
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("decode website config: %w", err)
		}
		if c.MaxPages <= 0 {
			c.MaxPages = DefaultMaxPages
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown source type %q", d.Type)
	}
}

// JobTypeFor maps a source type to the job type that ingests it.
func JobTypeFor(t SourceType) (string, error) {
	switch t {
	case TypeText:
		return jobs.TypeProcessText, nil
	case TypeFile:
		return jobs.TypeProcessFile, nil
	case TypeWebsite:
		return jobs.TypeCrawlWebsite, nil
	default:
		return "", fmt.Errorf("unknown source type %q", t)
	}
}

// SourceTypeFor is the inverse of JobTypeFor.
func SourceTypeFor(jobType string) (SourceType, error) {
	switch jobType {
	case jobs.TypeProcessText:
		return TypeText, nil
	case jobs.TypeProcessFile:
		return TypeFile, nil
	case jobs.TypeCrawlWebsite:
		return TypeWebsite, nil
	default:
		return "", fmt.Errorf("unknown job type %q", jobType)
	}
}
