package service

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/noah-isme/iep-collab-api/internal/dto"
	"github.com/noah-isme/iep-collab-api/internal/models"
	appErrors "github.com/noah-isme/iep-collab-api/pkg/errors"
)

// ConflictResolver merges operations produced by other replicas into the canonical document.
type ConflictResolver struct {
	store     *DocumentStore
	lifecycle *LifecycleStateMachine
	events    EventEmitter
	persister DocumentPersister
	metrics   *MetricsService
	logger    *zap.Logger
}

// NewConflictResolver constructs the resolver; nil collaborators fall back to no-ops.
func NewConflictResolver(store *DocumentStore, lifecycle *LifecycleStateMachine, events EventEmitter, persister DocumentPersister, metrics *MetricsService, logger *zap.Logger) *ConflictResolver {
	if lifecycle == nil {
		lifecycle = NewLifecycleStateMachine()
	}
	if events == nil {
		events = nopEmitter{}
	}
	if persister == nil {
		persister = nopPersister{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConflictResolver{store: store, lifecycle: lifecycle, events: events, persister: persister, metrics: metrics, logger: logger}
}

// Sync replays the remote operations the document has not seen yet, ordered by (timestamp, author).
// Operations already in the log, superseded field writes and duplicate inserts count as skipped,
// so replaying the same batch twice leaves the document unchanged.
func (r *ConflictResolver) Sync(ctx context.Context, id, actor string, remote []models.OperationRecord) (*dto.SyncResult, error) {
	result := &dto.SyncResult{Failed: []dto.FailedOperation{}}

	type candidate struct {
		record models.OperationRecord
		op     models.Operation
	}
	candidates := make([]candidate, 0, len(remote))
	for _, record := range remote {
		op, err := record.Operation()
		if err != nil {
			result.Failed = append(result.Failed, dto.FailedOperation{OperationType: record.Type, Path: record.Path, Error: err.Error()})
			continue
		}
		candidates = append(candidates, candidate{record: op.Record(0), op: op})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i].op, candidates[j].op
		if a.Timestamp.Equal(b.Timestamp) {
			return a.Author < b.Author
		}
		return a.Timestamp.Before(b.Timestamp)
	})

	doc, err := r.store.WithDocument(id, func(txn *DocumentTxn) error {
		current := txn.Document()
		if !r.lifecycle.CanEdit(current.Status) {
			return appErrors.Clone(appErrors.ErrStateConflict, "document is "+string(current.Status)+" and cannot accept remote edits")
		}
		seen := make(map[string]struct{}, len(candidates))
		for _, c := range candidates {
			txn.Observe(c.op.Timestamp)
			key := c.record.DedupKey()
			if _, dup := seen[key]; dup || txn.Log().Contains(c.record) {
				result.Skipped++
				continue
			}
			seen[key] = struct{}{}
			err := txn.Apply(c.op)
			switch {
			case err == nil:
				result.Applied++
			case appErrors.HasCode(err, ErrSuperseded.Code), appErrors.HasCode(err, ErrDuplicateElement.Code):
				result.Skipped++
			default:
				result.Failed = append(result.Failed, dto.FailedOperation{OperationType: c.op.Type, Path: c.record.Path, Error: err.Error()})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result.Changed = result.Applied > 0
	result.Version = doc.Version
	r.metrics.RecordSync(result.Applied, result.Skipped, len(result.Failed))
	if result.Changed {
		r.persister.Persist(doc)
		r.events.Emit(newEvent(models.EventIEPUpdated, doc, actor, map[string]interface{}{
			"source":  "sync",
			"applied": result.Applied,
			"version": doc.Version,
		}))
	}
	r.logger.Debug("sync completed",
		zap.String("iep_id", id),
		zap.Int("applied", result.Applied),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", len(result.Failed)),
	)
	return result, nil
}

// ResolveConflicts reorders the op log by wall-clock timestamp. Document state is not rebuilt.
func (r *ConflictResolver) ResolveConflicts(ctx context.Context, id string) error {
	_, err := r.store.WithDocument(id, func(txn *DocumentTxn) error {
		txn.Log().SortByTimestamp()
		return nil
	})
	return err
}
