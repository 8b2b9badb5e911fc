// Package journal keeps a durable local record of the batch in progress, so
// an unclean shutdown can be reconciled with the server on the next start.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/stockmeta/internal/logging"
)

// ErrNoJournal is returned when no journal file exists.
var ErrNoJournal = errors.New("no journal present")

// Record is the persisted journal state. It is created before the first unit
// of paid work starts and updated after every file completion.
type Record struct {
	JobToken     string    `json:"jobToken"`
	FileCount    int       `json:"fileCount"`
	Mode         string    `json:"mode"`
	CreditRate   int64     `json:"creditRate"`
	SuccessCount int       `json:"successCount"`
	FailedCount  int       `json:"failedCount"`
	PhotoCount   int       `json:"photoCount"`
	VideoCount   int       `json:"videoCount"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Unprocessed returns how many files never reported an outcome
func (r *Record) Unprocessed() int {
	remaining := r.FileCount - r.SuccessCount - r.FailedCount
	if remaining < 0 {
		return 0
	}
	return remaining
}

// EstimateRefund is the conservative local refund estimate when the server
// cannot be reached: every unprocessed or failed file refunds at the journal
// rate. Advisory only; the server ledger stays authoritative.
func (r *Record) EstimateRefund() int64 {
	return int64(r.Unprocessed()+r.FailedCount) * r.CreditRate
}

// Journal persists one active Record at a fixed path. Every write goes to a
// temp file first and is renamed into place, so an interrupted write leaves
// the previous state intact.
type Journal struct {
	path string

	mu     sync.Mutex
	record *Record
}

// New creates a journal rooted at path. The file need not exist yet.
func New(path string) *Journal {
	return &Journal{path: path}
}

// Path returns the journal file path
func (j *Journal) Path() string {
	return j.path
}

// Exists reports whether a journal file is present on disk
func (j *Journal) Exists() bool {
	_, err := os.Stat(j.path)
	return err == nil
}

// Create writes the initial record. Must be called before any file is
// processed, so a crash right after reservation is still recoverable.
func (j *Journal) Create(jobToken string, fileCount int, mode string, creditRate int64) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := time.Now()
	j.record = &Record{
		JobToken:   jobToken,
		FileCount:  fileCount,
		Mode:       mode,
		CreditRate: creditRate,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	return j.write()
}

// UpdateProgress records one file's outcome. Called after every completion,
// success or failure.
func (j *Journal) UpdateProgress(success, isVideo bool) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.record == nil {
		return ErrNoJournal
	}

	if success {
		j.record.SuccessCount++
		if isVideo {
			j.record.VideoCount++
		} else {
			j.record.PhotoCount++
		}
	} else {
		j.record.FailedCount++
	}
	j.record.UpdatedAt = time.Now()

	return j.write()
}

// Load reads the record from disk, replacing any in-memory state
func (j *Journal) Load() (*Record, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	data, err := os.ReadFile(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoJournal
		}
		return nil, fmt.Errorf("read journal: %w", err)
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("parse journal: %w", err)
	}

	j.record = &record
	copied := record
	return &copied, nil
}

// Delete removes the journal. Called only after reconciliation with the
// server (normal finalize, recovery finalize, or the offline fallback).
func (j *Journal) Delete() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.record = nil
	if err := os.Remove(j.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete journal: %w", err)
	}
	return nil
}

// write marshals the record to a temp file and renames it into place. The
// rename is atomic on POSIX filesystems.
func (j *Journal) write() error {
	data, err := json.MarshalIndent(j.record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal journal: %w", err)
	}

	dir := filepath.Dir(j.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create journal dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".journal-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp journal: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp journal: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp journal: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp journal: %w", err)
	}

	if err := os.Rename(tmpName, j.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace journal: %w", err)
	}

	return nil
}

// Finalizer reconciles a journaled job with the server.
type Finalizer interface {
	Finalize(ctx context.Context, jobToken string, success, failed, photos, videos int) (refunded, balance int64, err error)
}

// RecoveryResult describes how a leftover journal was resolved.
type RecoveryResult struct {
	Record   *Record
	Refunded int64
	Balance  int64
	// Estimated is true when the server was unreachable and Refunded is the
	// local estimate. The server sweeper settles the real amount later.
	Estimated bool
}

// Recover reconciles a leftover journal on startup. A journal's presence
// means the previous run did not finish cleanly: the journal counters drive a
// recovery finalize, and if the server cannot be reached the local estimate
// is reported instead. The journal is deleted in both cases.
func Recover(ctx context.Context, j *Journal, client Finalizer) (*RecoveryResult, error) {
	record, err := j.Load()
	if err != nil {
		if errors.Is(err, ErrNoJournal) {
			return nil, nil
		}
		return nil, err
	}

	log := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"jobToken":  record.JobToken,
		"success":   record.SuccessCount,
		"failed":    record.FailedCount,
		"fileCount": record.FileCount,
	})
	log.Warn("Unclean shutdown detected, reconciling job")

	result := &RecoveryResult{Record: record}

	refunded, balance, err := client.Finalize(ctx, record.JobToken,
		record.SuccessCount, record.FailedCount, record.PhotoCount, record.VideoCount)
	if err != nil {
		result.Refunded = record.EstimateRefund()
		result.Estimated = true
		log.WithError(err).Warn("Recovery finalize failed, reporting local estimate")
	} else {
		result.Refunded = refunded
		result.Balance = balance
		log.WithFields(map[string]interface{}{"refunded": refunded}).Info("Job reconciled")
	}

	if err := j.Delete(); err != nil {
		return result, err
	}

	return result, nil
}
