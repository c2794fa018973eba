package service

import (
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/iep-collab-api/internal/models"
	appErrors "github.com/noah-isme/iep-collab-api/pkg/errors"
)

const defaultLockShards = 32

// fieldStamp orders writes to a single register: later timestamp wins, author breaks ties.
type fieldStamp struct {
	Timestamp time.Time `json:"ts"`
	Author    string    `json:"author"`
}

func (s fieldStamp) before(other fieldStamp) bool {
	if s.Timestamp.Equal(other.Timestamp) {
		return s.Author < other.Author
	}
	return s.Timestamp.Before(other.Timestamp)
}

type documentEntry struct {
	doc       *models.IEPDocument
	log       *OperationLog
	registers map[string]fieldStamp
}

// DocumentStoreConfig tunes the store.
type DocumentStoreConfig struct {
	RequiredApprovals int
	OpLogLimit        int
	LockShards        int
	Clock             func() time.Time
}

// DocumentStore owns the canonical in-memory state of every IEP document.
// Mutations for one document id are serialised by a sharded mutex; different ids proceed in parallel.
type DocumentStore struct {
	mu      sync.RWMutex
	entries map[string]*documentEntry
	shards  []sync.Mutex

	applier           *OperationApplier
	clock             *monotonicClock
	requiredApprovals int
	opLogLimit        int
}

// NewDocumentStore constructs an empty store.
func NewDocumentStore(lifecycle *LifecycleStateMachine, cfg DocumentStoreConfig) *DocumentStore {
	if cfg.LockShards <= 0 {
		cfg.LockShards = defaultLockShards
	}
	if cfg.RequiredApprovals <= 0 {
		cfg.RequiredApprovals = models.DefaultRequiredApprovals
	}
	if lifecycle == nil {
		lifecycle = NewLifecycleStateMachine()
	}
	clock := newMonotonicClock(cfg.Clock)
	return &DocumentStore{
		entries:           make(map[string]*documentEntry),
		shards:            make([]sync.Mutex, cfg.LockShards),
		applier:           NewOperationApplier(lifecycle, clock.Now),
		clock:             clock,
		requiredApprovals: cfg.RequiredApprovals,
		opLogLimit:        cfg.OpLogLimit,
	}
}

// Now returns a strictly increasing timestamp for locally generated operations.
func (s *DocumentStore) Now() time.Time {
	return s.clock.Now()
}

// Create registers a new draft seeded from the initial scalar fields.
func (s *DocumentStore) Create(initial models.IEPDocument, author string) *models.IEPDocument {
	now := s.clock.Now()
	doc := &models.IEPDocument{
		ID:                    initial.ID,
		StudentID:             initial.StudentID,
		StudentName:           initial.StudentName,
		SchoolYear:            initial.SchoolYear,
		EffectiveDate:         initial.EffectiveDate,
		ExpiryDate:            initial.ExpiryDate,
		PresentLevels:         initial.PresentLevels,
		TransitionServices:    initial.TransitionServices,
		Placement:             initial.Placement,
		SpecialFactors:        append([]string{}, initial.SpecialFactors...),
		Goals:                 []models.Goal{},
		Accommodations:        []models.Accommodation{},
		ApprovalRecords:       []models.ApprovalRecord{},
		Status:                models.IEPStatusDraft,
		Version:               1,
		VectorClock:           models.NewVectorClock(author),
		RequiredApprovalCount: s.requiredApprovals,
		CreatedBy:             author,
		UpdatedBy:             author,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	entry := &documentEntry{doc: doc, log: NewOperationLog(s.opLogLimit), registers: make(map[string]fieldStamp)}
	entry.log.Append(models.OperationRecord{
		Type:      models.OperationCreate,
		Author:    author,
		Timestamp: now,
		Version:   doc.Version,
	})

	s.mu.Lock()
	s.entries[doc.ID] = entry
	s.mu.Unlock()
	return doc.Clone()
}

// DocumentImage is everything needed to rebuild a document entry: the document, the
// operation history used for replay dedup and the last-writer stamp of every field.
type DocumentImage struct {
	Document  *models.IEPDocument      `json:"document"`
	Log       []models.OperationRecord `json:"log,omitempty"`
	Registers map[string]fieldStamp    `json:"registers,omitempty"`
}

// Image captures a consistent copy of the document entry under its lock.
func (s *DocumentStore) Image(id string) (*DocumentImage, bool) {
	entry := s.lookup(id)
	if entry == nil {
		return nil, false
	}
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()
	registers := make(map[string]fieldStamp, len(entry.registers))
	for key, stamp := range entry.registers {
		registers[key] = stamp
	}
	return &DocumentImage{Document: entry.doc.Clone(), Log: entry.log.Entries(), Registers: registers}, true
}

// Restore installs a previously persisted document without history, replacing any in-memory copy.
func (s *DocumentStore) Restore(doc *models.IEPDocument) {
	s.RestoreImage(DocumentImage{Document: doc})
}

// RestoreImage installs a persisted image, rebuilding its operation log and field
// registers so replays of already applied operations are still recognised.
func (s *DocumentStore) RestoreImage(image DocumentImage) {
	doc := image.Document
	if doc == nil || doc.ID == "" {
		return
	}
	restored := doc.Clone()
	if restored.VectorClock == nil {
		restored.VectorClock = models.VectorClock{}
	}
	if restored.RequiredApprovalCount <= 0 {
		restored.RequiredApprovalCount = s.requiredApprovals
	}
	entry := &documentEntry{doc: restored, log: NewOperationLog(s.opLogLimit), registers: make(map[string]fieldStamp, len(image.Registers))}
	s.clock.Observe(restored.UpdatedAt)
	for _, record := range image.Log {
		entry.log.Append(record)
		s.clock.Observe(record.Timestamp)
	}
	for key, stamp := range image.Registers {
		entry.registers[key] = stamp
		s.clock.Observe(stamp.Timestamp)
	}
	s.mu.Lock()
	s.entries[restored.ID] = entry
	s.mu.Unlock()
}

// Get returns a deep copy of the document.
func (s *DocumentStore) Get(id string) (*models.IEPDocument, bool) {
	entry := s.lookup(id)
	if entry == nil {
		return nil, false
	}
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()
	return entry.doc.Clone(), true
}

// List returns copies of all documents, optionally restricted to one student, oldest first.
func (s *DocumentStore) List(studentID string) []models.IEPDocument {
	s.mu.RLock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	docs := make([]models.IEPDocument, 0, len(ids))
	for _, id := range ids {
		doc, ok := s.Get(id)
		if !ok {
			continue
		}
		if studentID != "" && doc.StudentID != studentID {
			continue
		}
		docs = append(docs, *doc)
	}
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].ID < docs[j].ID
		}
		return docs[i].CreatedAt.Before(docs[j].CreatedAt)
	})
	return docs
}

// Apply runs a single operation through the applier under the document lock.
func (s *DocumentStore) Apply(id string, op models.Operation) error {
	_, err := s.WithDocument(id, func(txn *DocumentTxn) error {
		return txn.Apply(op)
	})
	return err
}

// WithDocument executes fn while holding the document lock and returns a copy of the
// resulting state. fn must not perform I/O.
func (s *DocumentStore) WithDocument(id string, fn func(txn *DocumentTxn) error) (*models.IEPDocument, error) {
	entry := s.lookup(id)
	if entry == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "iep document not found")
	}
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()
	err := fn(&DocumentTxn{entry: entry, store: s})
	return entry.doc.Clone(), err
}

func (s *DocumentStore) lookup(id string) *documentEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[id]
}

func (s *DocumentStore) lockFor(id string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &s.shards[h.Sum32()%uint32(len(s.shards))]
}

// DocumentTxn exposes a document to code running under its lock.
type DocumentTxn struct {
	entry *documentEntry
	store *DocumentStore
}

// Document returns the live document; it must not escape the transaction.
func (t *DocumentTxn) Document() *models.IEPDocument {
	return t.entry.doc
}

// Log returns the document's operation log.
func (t *DocumentTxn) Log() *OperationLog {
	return t.entry.log
}

// Apply mutates the document through the operation applier.
func (t *DocumentTxn) Apply(op models.Operation) error {
	return t.store.applier.Apply(t.entry, op)
}

// Now returns the store's monotonic clock reading.
func (t *DocumentTxn) Now() time.Time {
	return t.store.clock.Now()
}

// Observe moves the store clock past a timestamp received from another replica.
func (t *DocumentTxn) Observe(ts time.Time) {
	t.store.clock.Observe(ts)
}

// monotonicClock is a hybrid logical clock: readings follow wall time but never fall
// behind the last reading or any observed remote timestamp.
type monotonicClock struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

func newMonotonicClock(now func() time.Time) *monotonicClock {
	if now == nil {
		now = time.Now
	}
	return &monotonicClock{now: now}
}

func (c *monotonicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts := c.now().UTC()
	if !ts.After(c.last) {
		ts = c.last.Add(time.Nanosecond)
	}
	c.last = ts
	return ts
}

func (c *monotonicClock) Observe(ts time.Time) {
	if ts.IsZero() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if ts.After(c.last) {
		c.last = ts.UTC()
	}
}
