package dca

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"

	"tidepool/internal/domain"
)

const (
	executionKeyPrefix  = "dca_execution_"
	walSegmentThreshold = 1000
	walMaxSegments      = 100
	walDirPermissions   = 0o755
)

// Journal is the append-only log of successful DCA executions, one
// record per filled order. Records are never mutated; re-appending the
// same (strategy, order) pair is a no-op so event-driven reconciliation
// stays idempotent.
type Journal struct {
	mu      sync.Mutex
	wal     *gowal.Wal
	records []domain.ExecutionRecord
	seen    map[string]bool
}

// OpenJournal opens the execution journal under dir, replaying existing
// records.
func OpenJournal(dir string) (*Journal, error) {
	walDir := filepath.Join(dir, "dca")
	if err := os.MkdirAll(walDir, walDirPermissions); err != nil {
		return nil, errors.Wrapf(err, "failed to ensure DCA WAL directory %s", walDir)
	}
	wal, err := gowal.NewWAL(gowal.Config{
		Dir:              walDir,
		Prefix:           "log_",
		SegmentThreshold: walSegmentThreshold,
		MaxSegments:      walMaxSegments,
		IsInSyncDiskMode: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to open DCA journal WAL")
	}

	j := &Journal{wal: wal, seen: make(map[string]bool)}
	for msg := range wal.Iterator() {
		var rec domain.ExecutionRecord
		if err := json.Unmarshal(msg.Value, &rec); err != nil {
			continue
		}
		key := recordKey(rec.StrategyID, rec.OrderNumber)
		if j.seen[key] {
			continue
		}
		j.seen[key] = true
		j.records = append(j.records, rec)
	}
	return j, nil
}

// Append persists one execution record. Duplicate (strategy, order)
// pairs are dropped.
func (j *Journal) Append(rec domain.ExecutionRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	key := recordKey(rec.StrategyID, rec.OrderNumber)
	if j.seen[key] {
		return nil
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "failed to marshal execution record")
	}
	if err := j.wal.Write(j.wal.CurrentIndex()+1, executionKeyPrefix+key, data); err != nil {
		return errors.Wrap(err, "failed to persist execution record")
	}

	j.seen[key] = true
	j.records = append(j.records, rec)
	return nil
}

// Records returns the executions logged for a strategy, ordered by
// order number.
func (j *Journal) Records(strategyID string) []domain.ExecutionRecord {
	j.mu.Lock()
	defer j.mu.Unlock()

	out := make([]domain.ExecutionRecord, 0)
	for _, rec := range j.records {
		if rec.StrategyID == strategyID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].OrderNumber < out[k].OrderNumber })
	return out
}

// Close releases the journal WAL.
func (j *Journal) Close() error {
	return j.wal.Close()
}

func recordKey(strategyID string, orderNumber int) string {
	return fmt.Sprintf("%s_%d", strategyID, orderNumber)
}
