package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/iep-collab-api/internal/models"
	"github.com/noah-isme/iep-collab-api/pkg/jobs"
)

// SnapshotStore persists document images.
type SnapshotStore interface {
	Upsert(ctx context.Context, snapshot *models.DocumentSnapshot) error
	LoadAll(ctx context.Context) ([]models.DocumentSnapshot, error)
}

// DocumentPersister receives a copy of every document after it changes.
type DocumentPersister interface {
	Persist(doc *models.IEPDocument)
}

// SnapshotWriter writes document snapshots off the request path. Each write captures the
// document as it is when the write runs, so a burst of changes lands as its newest state.
type SnapshotWriter struct {
	store   SnapshotStore
	docs    *DocumentStore
	queue   *jobs.Queue
	metrics *MetricsService
	logger  *zap.Logger
}

// NewSnapshotWriter constructs the writer for documents held in docs; call Start before persisting.
func NewSnapshotWriter(store SnapshotStore, docs *DocumentStore, cfg jobs.QueueConfig) *SnapshotWriter {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	w := &SnapshotWriter{store: store, docs: docs, logger: cfg.Logger}
	w.queue = jobs.NewQueue("iep-snapshots", w.write, cfg)
	return w
}

// WithMetrics records upsert timings on metrics.
func (w *SnapshotWriter) WithMetrics(metrics *MetricsService) *SnapshotWriter {
	w.metrics = metrics
	return w
}

// Start launches the writer workers.
func (w *SnapshotWriter) Start(ctx context.Context) {
	w.queue.Start(ctx)
}

// Stop halts the writer workers.
func (w *SnapshotWriter) Stop() {
	w.queue.Stop()
}

// Persist schedules a write of the document. Writes still queued for the same document collapse into one.
func (w *SnapshotWriter) Persist(doc *models.IEPDocument) {
	if doc == nil {
		return
	}
	if err := w.queue.TryEnqueue(jobs.Job{ID: doc.ID, Key: doc.ID, Type: "snapshot", Payload: doc.ID}); err != nil {
		w.logger.Warn("snapshot not scheduled", zap.String("iep_id", doc.ID), zap.Uint64("version", doc.Version), zap.Error(err))
	}
}

// Restore loads every persisted snapshot into the document store and returns how many were installed.
func (w *SnapshotWriter) Restore(ctx context.Context) (int, error) {
	start := time.Now()
	snapshots, err := w.store.LoadAll(ctx)
	w.metrics.ObserveDBQuery("snapshot_load_all", time.Since(start))
	if err != nil {
		return 0, err
	}
	restored := 0
	for _, snapshot := range snapshots {
		image, err := decodeSnapshot(snapshot.Payload)
		if err != nil {
			w.logger.Warn("skipping unreadable snapshot", zap.String("iep_id", snapshot.ID), zap.Error(err))
			continue
		}
		w.docs.RestoreImage(*image)
		restored++
	}
	return restored, nil
}

func (w *SnapshotWriter) write(ctx context.Context, job jobs.Job) error {
	id, ok := job.Payload.(string)
	if !ok {
		w.logger.Error("unexpected snapshot payload", zap.String("job_id", job.ID))
		return nil
	}
	image, ok := w.docs.Image(id)
	if !ok {
		w.logger.Warn("snapshot skipped for unknown document", zap.String("iep_id", id))
		return nil
	}
	snapshot, err := encodeSnapshot(image)
	if err != nil {
		w.logger.Error("encode snapshot", zap.String("iep_id", id), zap.Error(err))
		return nil
	}
	start := time.Now()
	err = w.store.Upsert(ctx, snapshot)
	w.metrics.ObserveDBQuery("snapshot_upsert", time.Since(start))
	if err != nil {
		return fmt.Errorf("persist snapshot %s v%d: %w", snapshot.ID, snapshot.Version, err)
	}
	w.logger.Debug("snapshot written", zap.String("iep_id", snapshot.ID), zap.Int64("version", snapshot.Version))
	return nil
}

func encodeSnapshot(image *DocumentImage) (*models.DocumentSnapshot, error) {
	payload, err := json.Marshal(image)
	if err != nil {
		return nil, err
	}
	doc := image.Document
	return &models.DocumentSnapshot{
		ID:        doc.ID,
		StudentID: doc.StudentID,
		Status:    string(doc.Status),
		Version:   int64(doc.Version),
		Payload:   payload,
		UpdatedAt: doc.UpdatedAt,
	}, nil
}

// decodeSnapshot reads an image payload; payloads holding a bare document restore without history.
func decodeSnapshot(payload []byte) (*DocumentImage, error) {
	var image DocumentImage
	if err := json.Unmarshal(payload, &image); err != nil {
		return nil, err
	}
	if image.Document != nil {
		return &image, nil
	}
	var doc models.IEPDocument
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, err
	}
	return &DocumentImage{Document: &doc}, nil
}

type nopPersister struct{}

func (nopPersister) Persist(*models.IEPDocument) {}
