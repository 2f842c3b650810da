package model

import (
	"time"
)

// ExecutionStatus represents the lifecycle state of a crawl execution.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionPaused    ExecutionStatus = "paused"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionCancelled ExecutionStatus = "cancelled"
	ExecutionFailed    ExecutionStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionCompleted || s == ExecutionCancelled
}

// RegionStatus represents the lifecycle state of one region within an execution.
type RegionStatus string

const (
	RegionPending   RegionStatus = "pending"
	RegionRunning   RegionStatus = "running"
	RegionCompleted RegionStatus = "completed"
	RegionFailed    RegionStatus = "failed"
	RegionSkipped   RegionStatus = "skipped"
)

// PageStatus represents the fetch state of a single page in the ledger.
type PageStatus string

const (
	PagePending PageStatus = "pending"
	PageFetched PageStatus = "fetched"
	PageFailed  PageStatus = "failed"
)

// ExecutionKind identifies what an execution crawls. Only doctors today.
type ExecutionKind string

const KindDoctor ExecutionKind = "doctor"

// ExecutionParams carries the user-selected filters for an execution.
type ExecutionParams struct {
	Regions          []string `json:"regions,omitempty"`
	RegistrationType string   `json:"registration_type,omitempty"`
	Situation        string   `json:"situation,omitempty"`
	Municipality     string   `json:"municipality,omitempty"`
	StartPage        int      `json:"start_page,omitempty"`
	MaxResults       int      `json:"max_results,omitempty"`
}

// Execution is one user-requested crawl job spanning one or more regions.
type Execution struct {
	ID          string          `json:"id"`
	Kind        ExecutionKind   `json:"kind"`
	PageSize    int             `json:"page_size"`
	BatchSize   int             `json:"batch_size"`
	Status      ExecutionStatus `json:"status"`
	Params      ExecutionParams `json:"params"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// ExecutionState is one region's slice of an execution. (ExecutionID, Region)
// is unique; TotalPages/TotalRecords stay nil until the discovery fetch.
type ExecutionState struct {
	ID           int64        `json:"id"`
	ExecutionID  string       `json:"execution_id"`
	Region       string       `json:"region"`
	Status       RegionStatus `json:"status"`
	TotalPages   *int         `json:"total_pages,omitempty"`
	TotalRecords *int         `json:"total_records,omitempty"`
	StartedAt    *time.Time   `json:"started_at,omitempty"`
	CompletedAt  *time.Time   `json:"completed_at,omitempty"`
}

// Page is one page of paginated results within an ExecutionState.
type Page struct {
	ExecutionStateID int64      `json:"execution_state_id"`
	PageNumber       int        `json:"page_number"`
	Status           PageStatus `json:"status"`
	RecordsCount     *int       `json:"records_count,omitempty"`
	FetchedAt        *time.Time `json:"fetched_at,omitempty"`
	Error            string     `json:"error,omitempty"`
}
