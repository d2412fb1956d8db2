package ledger

import "time"

// Kind enumerates the pipeline stages that produce a tracked Job.
type Kind string

const (
	KindLibraryScan    Kind = "LibraryScan"
	KindCollectionScan Kind = "CollectionScan"
	KindThumbnail      Kind = "Thumbnail"
	KindCache          Kind = "Cache"
	KindBulkOperation  Kind = "BulkOperation"
	KindMetadata       Kind = "Metadata"
)

// Status is a Job's lifecycle state. Completed/Failed/Cancelled are terminal
// and, once reached, the Job is never mutated again.
type Status string

const (
	StatusPending   Status = "Pending"
	StatusRunning   Status = "Running"
	StatusCompleted Status = "Completed"
	StatusFailed    Status = "Failed"
	StatusCancelled Status = "Cancelled"
)

// IsTerminal reports whether s is one of Completed/Failed/Cancelled.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Progress is a Job's counters. The invariant total = completed + failed +
// skipped + pending holds after every mutation.
type Progress struct {
	Total       int    `json:"total"`
	Completed   int    `json:"completed"`
	Failed      int    `json:"failed"`
	Skipped     int    `json:"skipped"`
	CurrentItem string `json:"currentItem,omitempty"`
}

// Pending derives the remaining-work count from the other three counters.
func (p Progress) Pending() int {
	pending := p.Total - p.Completed - p.Failed - p.Skipped
	if pending < 0 {
		return 0
	}
	return pending
}

// StageCounters tracks derivative sub-progress updated by child jobs (spec
// §3 Job "per-stage counters").
type StageCounters struct {
	ThumbnailsDone int `json:"thumbnailsDone"`
	CacheDone      int `json:"cacheDone"`
}

// Job is one unit of pipeline work, possibly with children.
type Job struct {
	ID            string
	Kind          Kind
	ParentJobID   string
	CorrelationID string
	TargetID      string // libraryId or collectionId this job operates on
	Status        Status
	CreatedAt     time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
	Attempts      int
	TimeoutMs     int64
	Parameters    map[string]any
	Progress      Progress
	Stage         StageCounters
	FailureReason string
}
