package crawl

import (
	"math"
	"time"
)

// ProgressEvent describes one processed batch. The engine emits events;
// consumers (CLI, logs, metrics) format them.
type ProgressEvent struct {
	ExecutionID  string
	Region       string
	FirstPage    int
	LastPage     int
	TotalPages   int
	Records      int
	TotalRecords int
	FailedPages  int
	Percent      float64
	BatchTime    time.Duration
	ETA          time.Duration
}

// ProgressFunc receives progress events. A nil func disables reporting.
type ProgressFunc func(ProgressEvent)

// progressTracker derives percent complete and an ETA from a rolling
// average of batch durations.
type progressTracker struct {
	batchTimes []time.Duration
	delay      time.Duration
	batchSize  int
}

func newProgressTracker(batchSize int, delay time.Duration) *progressTracker {
	return &progressTracker{batchSize: batchSize, delay: delay}
}

func (t *progressTracker) observe(d time.Duration) {
	t.batchTimes = append(t.batchTimes, d)
}

func (t *progressTracker) avgBatchTime() time.Duration {
	if len(t.batchTimes) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range t.batchTimes {
		sum += d
	}
	return sum / time.Duration(len(t.batchTimes))
}

// eta estimates remaining time from the pages still unfetched.
func (t *progressTracker) eta(totalPages, fetchedPages int) time.Duration {
	if totalPages <= 0 || fetchedPages >= totalPages || len(t.batchTimes) == 0 {
		return 0
	}
	remaining := math.Ceil(float64(totalPages-fetchedPages) / float64(t.batchSize))
	return time.Duration(remaining) * (t.avgBatchTime() + t.delay)
}

func percent(fetched, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(fetched)/float64(total)*1000) / 10
}
