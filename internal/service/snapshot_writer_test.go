package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/iep-collab-api/internal/models"
	"github.com/noah-isme/iep-collab-api/pkg/jobs"
)

type snapshotStoreStub struct {
	mu       sync.Mutex
	saved    []*models.DocumentSnapshot
	stored   []models.DocumentSnapshot
	loadErr  error
	upserted chan struct{}
}

func (s *snapshotStoreStub) Upsert(ctx context.Context, snapshot *models.DocumentSnapshot) error {
	s.mu.Lock()
	s.saved = append(s.saved, snapshot)
	s.mu.Unlock()
	if s.upserted != nil {
		s.upserted <- struct{}{}
	}
	return nil
}

func (s *snapshotStoreStub) LoadAll(ctx context.Context) ([]models.DocumentSnapshot, error) {
	return s.stored, s.loadErr
}

func TestSnapshotWriterPersistsDocuments(t *testing.T) {
	stub := &snapshotStoreStub{upserted: make(chan struct{}, 1)}
	store := newTestStore()
	writer := NewSnapshotWriter(stub, store, jobs.QueueConfig{Workers: 1}).WithMetrics(NewMetricsService())
	writer.Start(context.Background())
	defer writer.Stop()

	doc := seedDocument(t, store)
	writer.Persist(doc)

	select {
	case <-stub.upserted:
	case <-time.After(2 * time.Second):
		t.Fatal("snapshot not written")
	}
	stub.mu.Lock()
	defer stub.mu.Unlock()
	require.Len(t, stub.saved, 1)
	assert.Equal(t, doc.ID, stub.saved[0].ID)
	assert.Equal(t, string(models.IEPStatusDraft), stub.saved[0].Status)
	assert.Equal(t, int64(1), stub.saved[0].Version)

	var decoded DocumentImage
	require.NoError(t, json.Unmarshal(stub.saved[0].Payload, &decoded))
	require.NotNil(t, decoded.Document)
	assert.Equal(t, "Sam Lee", decoded.Document.StudentName)
	require.Len(t, decoded.Log, 1)
	assert.Equal(t, models.OperationCreate, decoded.Log[0].Type)
}

func TestSnapshotWriterWritesCurrentState(t *testing.T) {
	stub := &snapshotStoreStub{}
	store := newTestStore()
	writer := NewSnapshotWriter(stub, store, jobs.QueueConfig{Workers: 2})
	writer.Start(context.Background())

	stale := seedDocument(t, store)
	require.NoError(t, store.Apply(stale.ID, models.Operation{
		Type: models.OperationUpdate, Path: models.ScalarTarget(models.FieldPlacement),
		Value: raw(t, "inclusion"), Author: "alice", Timestamp: store.Now(),
	}))
	newer, err := store.WithDocument(stale.ID, func(txn *DocumentTxn) error {
		txn.Document().Status = models.IEPStatusPendingApproval
		txn.Document().UpdatedAt = txn.Now()
		return nil
	})
	require.NoError(t, err)

	writer.Persist(newer)
	writer.Persist(stale)
	writer.Stop()

	stub.mu.Lock()
	defer stub.mu.Unlock()
	require.NotEmpty(t, stub.saved)
	for _, saved := range stub.saved {
		assert.Equal(t, int64(2), saved.Version)
		assert.Equal(t, string(models.IEPStatusPendingApproval), saved.Status)
		assert.Equal(t, newer.UpdatedAt, saved.UpdatedAt)
	}
}

func TestSnapshotWriterRestoreKeepsHistory(t *testing.T) {
	stub := &snapshotStoreStub{}
	source := newTestStore()
	writer := NewSnapshotWriter(stub, source, jobs.QueueConfig{Workers: 1})
	writer.Start(context.Background())

	doc := seedDocument(t, source)
	insert := models.Operation{
		Type: models.OperationInsert, Path: models.CollectionTarget(models.CollectionSpecialFactors),
		Value: raw(t, "vision"), Author: "bob", Timestamp: testEpoch.Add(time.Minute),
	}
	require.NoError(t, source.Apply(doc.ID, insert))
	writer.Persist(doc)
	writer.Stop()

	stub.mu.Lock()
	for _, saved := range stub.saved {
		stub.stored = append(stub.stored, *saved)
	}
	stub.mu.Unlock()

	target := newTestStore()
	restored, err := NewSnapshotWriter(stub, target, jobs.QueueConfig{}).Restore(context.Background())
	require.NoError(t, err)
	require.Positive(t, restored)

	image, ok := target.Image(doc.ID)
	require.True(t, ok)
	require.Len(t, image.Log, 2)
	_, err = target.WithDocument(doc.ID, func(txn *DocumentTxn) error {
		assert.True(t, txn.Log().Contains(insert.Record(0)))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"vision"}, image.Document.SpecialFactors)
}

func TestSnapshotWriterRestore(t *testing.T) {
	payload, err := json.Marshal(models.IEPDocument{ID: "iep-7", StudentID: "S7", Status: models.IEPStatusApproved, Version: 9})
	require.NoError(t, err)
	stub := &snapshotStoreStub{stored: []models.DocumentSnapshot{
		{ID: "iep-7", Payload: payload},
		{ID: "broken", Payload: []byte("{")},
	}}
	store := newTestStore()
	writer := NewSnapshotWriter(stub, store, jobs.QueueConfig{})

	restored, err := writer.Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, restored)

	doc, ok := store.Get("iep-7")
	require.True(t, ok)
	assert.Equal(t, uint64(9), doc.Version)
	assert.Equal(t, models.IEPStatusApproved, doc.Status)

	stub.loadErr = errors.New("db down")
	_, err = writer.Restore(context.Background())
	assert.Error(t, err)
}
