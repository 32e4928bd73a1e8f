package pipeline

import (
	"time"

	"github.com/David-Botos/policy-cleaner/pkg/cleaner"
	"github.com/David-Botos/policy-cleaner/pkg/model"
)

// RowJob is one input row handed to a worker
type RowJob struct {
	Raw        model.RawRecord
	EnqueuedAt time.Time
}

// NewRowJob wraps a raw record in a job
func NewRowJob(raw model.RawRecord) RowJob {
	return RowJob{Raw: raw, EnqueuedAt: time.Now()}
}

// RowResult describes how a worker routed one row
type RowResult struct {
	RowID    string
	Ordinal  int
	Accepted bool
	Reason   string // Reject reason, empty when accepted
	Category error  // Reject category, nil when accepted
	Flags    []model.Flag
	Entries  []model.ResolutionEntry
	WorkerID int
	Duration time.Duration
}

// NewRowResult summarises a routing decision
func NewRowResult(out cleaner.Outcome, workerID int, duration time.Duration) RowResult {
	res := RowResult{
		Entries:  out.Entries(),
		WorkerID: workerID,
		Duration: duration,
	}
	switch {
	case out.Cleaned != nil:
		res.RowID = out.Cleaned.RowID
		res.Ordinal = out.Cleaned.Ordinal
		res.Accepted = true
		res.Flags = out.Cleaned.Flags
	case out.Rejected != nil:
		res.RowID = out.Rejected.RowID
		res.Ordinal = out.Rejected.Ordinal
		res.Reason = out.Rejected.Reason
		res.Category = out.Rejected.Category
		res.Flags = out.Rejected.Flags
	}
	return res
}
