package monitoring

import (
	"sync"
	"time"
)

// A ProgressBar counts finished and in-flight work items, such as the
// requests of a traffic generator. It is updated from the simulation
// goroutine and read by the API server.
type ProgressBar struct {
	sync.Mutex
	ID         string
	Name       string
	StartTime  time.Time
	Total      uint64
	Finished   uint64
	InProgress uint64
}

type progressBarStatus struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	StartTime  time.Time `json:"start_time"`
	Total      uint64    `json:"total"`
	Finished   uint64    `json:"finished"`
	InProgress uint64    `json:"in_progress"`
	Percent    float64   `json:"percent"`
	ETASeconds float64   `json:"eta_seconds"`
}

func (b *ProgressBar) status(now time.Time) progressBarStatus {
	b.Lock()
	defer b.Unlock()

	s := progressBarStatus{
		ID:         b.ID,
		Name:       b.Name,
		StartTime:  b.StartTime,
		Total:      b.Total,
		Finished:   b.Finished,
		InProgress: b.InProgress,
	}

	if b.Total == 0 {
		return s
	}

	done := float64(b.Finished) / float64(b.Total)
	s.Percent = done * 100

	if b.Finished > 0 && b.Finished < b.Total {
		elapsed := now.Sub(b.StartTime).Seconds()
		s.ETASeconds = elapsed / done * (1 - done)
	}

	return s
}

// IncrementInProgress records items that started.
func (b *ProgressBar) IncrementInProgress(amount uint64) {
	b.Lock()
	b.InProgress += amount
	b.Unlock()
}

// IncrementFinished records items that finished without being tracked as in
// progress.
func (b *ProgressBar) IncrementFinished(amount uint64) {
	b.Lock()
	b.Finished += amount
	b.Unlock()
}

// MoveInProgressToFinished records in-progress items that finished.
func (b *ProgressBar) MoveInProgressToFinished(amount uint64) {
	b.Lock()
	defer b.Unlock()

	if amount > b.InProgress {
		panic("more items finished than were in progress")
	}

	b.InProgress -= amount
	b.Finished += amount
}
