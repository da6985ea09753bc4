// Package ledger tracks the delivery lifecycle of every email task ever
// submitted, independent of queue membership. The in-memory map is
// authoritative while the process runs; the snapshot on durable storage is a
// best-effort cache used to keep status queries meaningful across restarts.
// Snapshots hold status only, never task payloads, so queued-but-undelivered
// tasks are not resurrected after a crash (at-most-once delivery).
package ledger

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"event-mailer/internal/common/errors"
	"event-mailer/internal/common/logger"
	"event-mailer/internal/models"
)

// Ledger is a mutex-guarded map of task id to delivery status, checkpointed
// to a SnapshotStore.
type Ledger struct {
	mu      sync.RWMutex
	entries map[string]*models.DeliveryStatus
	store   SnapshotStore
	logger  logger.Logger
}

func New(store SnapshotStore, log logger.Logger) *Ledger {
	return &Ledger{
		entries: make(map[string]*models.DeliveryStatus),
		store:   store,
		logger:  log,
	}
}

// Record inserts or overwrites the entry for a task id.
func (l *Ledger) Record(status *models.DeliveryStatus) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[status.TaskID] = status
}

// Get returns a copy of the entry for a task id, or nil when absent.
func (l *Ledger) Get(taskID string) *models.DeliveryStatus {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if s, ok := l.entries[taskID]; ok {
		return s.Clone()
	}
	return nil
}

// Update applies fn to the entry for taskID under the write lock. It returns
// false when no entry exists.
func (l *Ledger) Update(taskID string, fn func(*models.DeliveryStatus)) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.entries[taskID]
	if !ok {
		return false
	}
	fn(s)
	return true
}

// QueryByBatch returns copies of all entries sharing a batch id. Linear scan;
// acceptable at transactional-mail volume.
func (l *Ledger) QueryByBatch(batchID string) []*models.DeliveryStatus {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []*models.DeliveryStatus
	for _, s := range l.entries {
		if s.BatchID == batchID {
			out = append(out, s.Clone())
		}
	}
	return out
}

// QueryByGroup returns copies of all entries sharing a group id.
func (l *Ledger) QueryByGroup(groupID string) []*models.DeliveryStatus {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []*models.DeliveryStatus
	for _, s := range l.entries {
		if s.GroupID == groupID {
			out = append(out, s.Clone())
		}
	}
	return out
}

// BucketStats is the per-group or per-batch breakdown inside Stats.
type BucketStats struct {
	Total     int `json:"total"`
	Queued    int `json:"queued"`
	Sending   int `json:"sending"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

func (b *BucketStats) count(status string) {
	b.Total++
	switch status {
	case models.StatusQueued:
		b.Queued++
	case models.StatusSending:
		b.Sending++
	case models.StatusSent:
		b.Sent++
	case models.StatusFailed:
		b.Failed++
	case models.StatusCancelled:
		b.Cancelled++
	}
}

// Stats aggregates per-state counts with nested per-group and per-batch
// breakdowns. QueueSize is filled in by the caller, which owns the queue.
type Stats struct {
	Queued    int                    `json:"queued"`
	Sending   int                    `json:"sending"`
	Sent      int                    `json:"sent"`
	Failed    int                    `json:"failed"`
	Cancelled int                    `json:"cancelled"`
	Total     int                    `json:"total"`
	QueueSize int                    `json:"queue_size"`
	Groups    map[string]BucketStats `json:"groups"`
	Batches   map[string]BucketStats `json:"batches"`
}

// Stats computes aggregate counts over every entry.
func (l *Ledger) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := Stats{
		Total:   len(l.entries),
		Groups:  make(map[string]BucketStats),
		Batches: make(map[string]BucketStats),
	}

	for _, s := range l.entries {
		switch s.Status {
		case models.StatusQueued:
			stats.Queued++
		case models.StatusSending:
			stats.Sending++
		case models.StatusSent:
			stats.Sent++
		case models.StatusFailed:
			stats.Failed++
		case models.StatusCancelled:
			stats.Cancelled++
		}

		if s.GroupID != "" {
			b := stats.Groups[s.GroupID]
			b.count(s.Status)
			stats.Groups[s.GroupID] = b
		}
		if s.BatchID != "" {
			b := stats.Batches[s.BatchID]
			b.count(s.Status)
			stats.Batches[s.BatchID] = b
		}
	}

	return stats
}

// Snapshot serializes all entries to the snapshot store as one JSON document
// mapping task id to status record.
func (l *Ledger) Snapshot(ctx context.Context) error {
	l.mu.RLock()
	data, err := json.MarshalIndent(l.entries, "", "  ")
	l.mu.RUnlock()
	if err != nil {
		return errors.NewSnapshotFailedError(err)
	}

	if err := l.store.Save(ctx, data); err != nil {
		return errors.NewSnapshotFailedError(err)
	}
	return nil
}

// Restore loads a prior snapshot into memory. It is idempotent and returns
// nil when no snapshot exists (first run).
func (l *Ledger) Restore(ctx context.Context) error {
	data, err := l.store.Load(ctx)
	if err != nil {
		return errors.NewRestoreFailedError(err)
	}
	if len(data) == 0 {
		return nil
	}

	loaded := make(map[string]*models.DeliveryStatus)
	if err := json.Unmarshal(data, &loaded); err != nil {
		return errors.NewRestoreFailedError(err)
	}

	l.mu.Lock()
	for taskID, s := range loaded {
		l.entries[taskID] = s
	}
	count := len(l.entries)
	l.mu.Unlock()

	l.logger.Info("Restored email status entries", map[string]interface{}{
		"count": count,
	})
	return nil
}

// Prune removes terminal sent/cancelled entries older than the retention
// window and returns the count removed. Failed entries that still have
// attempts left, and anything queued or sending, are never pruned.
func (l *Ledger) Prune(olderThan time.Duration) int {
	cutoff := time.Now().Add(-olderThan)
	removed := 0

	l.mu.Lock()
	for taskID, s := range l.entries {
		if s.Timestamp.Before(cutoff) && (s.Status == models.StatusSent || s.Status == models.StatusCancelled) {
			delete(l.entries, taskID)
			removed++
		}
	}
	l.mu.Unlock()

	return removed
}

// Len returns the number of tracked entries.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
