package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/iep-collab-api/internal/dto"
	"github.com/noah-isme/iep-collab-api/internal/models"
	"github.com/noah-isme/iep-collab-api/pkg/approval"
	appErrors "github.com/noah-isme/iep-collab-api/pkg/errors"
)

type authorityStub struct {
	mu       sync.Mutex
	requests []approval.SubmitRequest
	err      error
	delay    time.Duration
	onSubmit func()
}

func (s *authorityStub) Submit(ctx context.Context, req approval.SubmitRequest) (*approval.SubmitResponse, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	if s.onSubmit != nil {
		s.onSubmit()
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return &approval.SubmitResponse{RequestID: "req-" + req.ResourceID, Status: "pending"}, nil
}

type emitterStub struct {
	mu     sync.Mutex
	events []models.Event
}

func (s *emitterStub) Emit(event models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *emitterStub) types() []models.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.EventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Type)
	}
	return out
}

type persisterStub struct {
	mu       sync.Mutex
	versions []uint64
}

func (s *persisterStub) Persist(doc *models.IEPDocument) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.versions = append(s.versions, doc.Version)
}

type auditStub struct {
	mu      sync.Mutex
	actions []string
	err     error
}

func (s *auditStub) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = append(s.actions, log.Action)
	return s.err
}

type serviceFixture struct {
	svc         *IEPService
	store       *DocumentStore
	coordinator *ApprovalCoordinator
	authority   *authorityStub
	events      *emitterStub
	persister   *persisterStub
	audit       *auditStub
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	lifecycle := NewLifecycleStateMachine()
	store := NewDocumentStore(lifecycle, DocumentStoreConfig{Clock: func() time.Time { return testEpoch }})
	f := &serviceFixture{
		store:     store,
		authority: &authorityStub{},
		events:    &emitterStub{},
		persister: &persisterStub{},
		audit:     &auditStub{},
	}
	f.coordinator = NewApprovalCoordinator(f.authority, store, lifecycle, ApprovalCoordinatorConfig{
		RequiredRoles: []string{"SPECIAL_ED_COORDINATOR", "PRINCIPAL"},
	}, nil,
		WithCoordinatorEvents(f.events),
		WithCoordinatorPersister(f.persister),
		WithCoordinatorAudit(f.audit),
	)
	f.svc = NewIEPService(store, lifecycle, f.coordinator, nil, nil, nil,
		WithIEPEvents(f.events),
		WithIEPPersister(f.persister),
		WithIEPAudit(f.audit),
		WithSubmitTimeout(200*time.Millisecond),
	)
	return f
}

func (f *serviceFixture) createComplete(t *testing.T) *models.IEPDocument {
	t.Helper()
	ctx := context.Background()
	doc, err := f.svc.CreateDocument(ctx, dto.CreateIEPRequest{
		StudentID:     "S1",
		StudentName:   "Sam Lee",
		SchoolYear:    "2024-2025",
		PresentLevels: "Reads at grade 2",
	}, "case-manager")
	require.NoError(t, err)
	_, err = f.svc.AddGoal(ctx, doc.ID, dto.GoalInput{Title: "Read at grade level", Description: "Decode multisyllabic words", MeasurableCriteria: "80% accuracy"}, "case-manager")
	require.NoError(t, err)
	_, err = f.svc.AddAccommodation(ctx, doc.ID, dto.AccommodationInput{Title: "Extra time", Description: "1.5x on assessments"}, "case-manager")
	require.NoError(t, err)
	return doc
}

func TestIEPServiceExampleScenario(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	doc := f.createComplete(t)

	result, err := f.svc.SubmitForApproval(ctx, doc.ID, "case-manager")
	require.NoError(t, err)
	assert.Empty(t, result.ValidationErrors)
	assert.Equal(t, "req-"+doc.ID, result.ApprovalRequestID)

	pending, err := f.svc.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IEPStatusPendingApproval, pending.Status)
	assert.Equal(t, 2, pending.PendingApprovalCount)

	require.Len(t, f.authority.requests, 1)
	req := f.authority.requests[0]
	assert.True(t, req.Policy.DualApproval)
	assert.Equal(t, 2, req.Policy.MinimumApprovals)
	assert.Equal(t, []string{"SPECIAL_ED_COORDINATOR", "PRINCIPAL"}, req.Policy.RequiredRoles)
	assert.Equal(t, 1, req.Metadata["goal_count"])

	err = f.coordinator.HandleCallback(ctx, "", dto.ApprovalWebhook{
		EventType: dto.ApprovalEventCompleted,
		Data: dto.ApprovalWebhookData{
			ResourceID: doc.ID,
			Approvals: []dto.ApprovalDecision{
				{ApproverID: "coord-1", ApproverRole: "SPECIAL_ED_COORDINATOR"},
				{ApproverID: "principal-1", ApproverRole: "PRINCIPAL"},
			},
		},
	})
	require.NoError(t, err)

	approved, err := f.svc.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IEPStatusApproved, approved.Status)
	assert.Equal(t, 0, approved.PendingApprovalCount)
	assert.Len(t, approved.ApprovalRecords, 2)
	assert.Equal(t, uint64(3), approved.Version)

	assert.Equal(t, []models.EventType{
		models.EventIEPCreated,
		models.EventGoalAdded,
		models.EventAccommodationAdded,
		models.EventIEPSubmitted,
		models.EventIEPApproved,
	}, f.events.types())
	assert.Equal(t, []string{models.AuditActionIEPSubmit, models.AuditActionIEPApprove}, f.audit.actions)
}

func TestIEPServiceSubmitReportsIncompleteness(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	doc, err := f.svc.CreateDocument(ctx, dto.CreateIEPRequest{StudentID: "S1", StudentName: "Sam", SchoolYear: "2024-2025"}, "cm")
	require.NoError(t, err)

	result, err := f.svc.SubmitForApproval(ctx, doc.ID, "cm")
	require.NoError(t, err)
	assert.NotEmpty(t, result.ValidationErrors)
	assert.Empty(t, f.authority.requests)

	got, _ := f.svc.GetDocument(ctx, doc.ID)
	assert.Equal(t, models.IEPStatusDraft, got.Status)
}

func TestIEPServiceSubmitApprovalFailureLeavesDraft(t *testing.T) {
	f := newServiceFixture(t)
	f.authority.err = errors.New("connection refused")
	doc := f.createComplete(t)

	_, err := f.svc.SubmitForApproval(context.Background(), doc.ID, "cm")
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrApprovalService.Code))

	got, _ := f.svc.GetDocument(context.Background(), doc.ID)
	assert.Equal(t, models.IEPStatusDraft, got.Status)
	assert.Equal(t, uint64(3), got.Version)
}

func TestIEPServiceSubmitTimesOut(t *testing.T) {
	f := newServiceFixture(t)
	f.authority.delay = 2 * time.Second
	doc := f.createComplete(t)

	start := time.Now()
	_, err := f.svc.SubmitForApproval(context.Background(), doc.ID, "cm")
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrApprovalService.Code))
	assert.Less(t, time.Since(start), time.Second)
}

func TestIEPServiceSubmitReportsUnappliedApprovalRequest(t *testing.T) {
	f := newServiceFixture(t)
	doc := f.createComplete(t)
	f.authority.onSubmit = func() {
		_, err := f.store.WithDocument(doc.ID, func(txn *DocumentTxn) error {
			txn.Document().Status = models.IEPStatusArchived
			return nil
		})
		require.NoError(t, err)
	}

	_, err := f.svc.SubmitForApproval(context.Background(), doc.ID, "cm")
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrStateConflict.Code))
	assert.Contains(t, appErrors.FromError(err).Message, "req-"+doc.ID)
	assert.NotContains(t, f.events.types(), models.EventIEPSubmitted)
}

func TestIEPServiceSaveDraftBatchSemantics(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	doc := f.createComplete(t)

	result, err := f.svc.SaveDraft(ctx, doc.ID, []dto.OperationInput{
		{OperationType: models.OperationUpdate, Path: "placement", Value: []byte(`"resource room"`)},
		{OperationType: models.OperationDelete, Path: "goals", Position: intPtr(7)},
		{OperationType: models.OperationUpdate, Path: "goals.0.title", Value: []byte(`"Read fluently"`)},
		{OperationType: "move", Path: "goals"},
		{OperationType: models.OperationUpdate, Path: "nickname", Value: []byte(`"x"`)},
	}, "teacher-1")
	require.NoError(t, err)

	assert.Equal(t, []models.OperationType{models.OperationUpdate, models.OperationUpdate}, result.Applied)
	require.Len(t, result.Failed, 3)
	assert.Equal(t, models.OperationDelete, result.Failed[0].OperationType)
	assert.Equal(t, uint64(5), result.Version)

	got, _ := f.svc.GetDocument(ctx, doc.ID)
	assert.Equal(t, "resource room", got.Placement)
	assert.Equal(t, "Read fluently", got.Goals[0].Title)
	assert.Equal(t, uint64(2), got.VectorClock.Get("teacher-1"))

	types := f.events.types()
	assert.Equal(t, []models.EventType{models.EventGoalUpdated, models.EventIEPUpdated}, types[len(types)-2:])
}

func TestIEPServiceSaveDraftRejectedWhilePending(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	doc := f.createComplete(t)
	_, err := f.svc.SubmitForApproval(ctx, doc.ID, "cm")
	require.NoError(t, err)

	result, err := f.svc.SaveDraft(ctx, doc.ID, []dto.OperationInput{
		{OperationType: models.OperationUpdate, Path: "placement", Value: []byte(`"x"`)},
	}, "teacher-1")
	require.NoError(t, err)
	assert.Empty(t, result.Applied)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, uint64(3), result.Version)

	_, err = f.svc.AddGoal(ctx, doc.ID, dto.GoalInput{Title: "t", Description: "d", MeasurableCriteria: "m"}, "teacher-1")
	assert.True(t, appErrors.HasCode(err, appErrors.ErrStateConflict.Code))
}

func TestIEPServiceNotFoundAndValidation(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.svc.GetDocument(ctx, "missing")
	assert.True(t, appErrors.HasCode(err, appErrors.ErrNotFound.Code))
	_, err = f.svc.SaveDraft(ctx, "missing", nil, "u1")
	assert.True(t, appErrors.HasCode(err, appErrors.ErrNotFound.Code))
	_, err = f.svc.SubmitForApproval(ctx, "missing", "u1")
	assert.True(t, appErrors.HasCode(err, appErrors.ErrNotFound.Code))

	_, err = f.svc.CreateDocument(ctx, dto.CreateIEPRequest{StudentID: "S1"}, "u1")
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation.Code))
	_, err = f.svc.CreateDocument(ctx, dto.CreateIEPRequest{StudentID: "S1", StudentName: "A", SchoolYear: "2024", EffectiveDate: "tomorrow"}, "u1")
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation.Code))

	doc, err := f.svc.CreateDocument(ctx, dto.CreateIEPRequest{StudentID: "S1", StudentName: "A", SchoolYear: "2024"}, "u1")
	require.NoError(t, err)
	_, err = f.svc.AddGoal(ctx, doc.ID, dto.GoalInput{Title: "only a title"}, "u1")
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation.Code))
	_, err = f.svc.SaveDraft(ctx, doc.ID, nil, "")
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation.Code))
}

func TestIEPServiceListHistoryAndArchive(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	doc := f.createComplete(t)
	_, err := f.svc.CreateDocument(ctx, dto.CreateIEPRequest{StudentID: "S2", StudentName: "Kim", SchoolYear: "2024-2025"}, "cm")
	require.NoError(t, err)

	docs, err := f.svc.ListDocuments(ctx, "S1")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, doc.ID, docs[0].ID)

	history, err := f.svc.GetHistory(ctx, doc.ID, 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "goals", history[0].Path)
	assert.Equal(t, "accommodations", history[1].Path)

	_, err = f.svc.Archive(ctx, doc.ID, "admin")
	assert.True(t, appErrors.HasCode(err, appErrors.ErrStateConflict.Code))

	_, err = f.svc.SubmitForApproval(ctx, doc.ID, "cm")
	require.NoError(t, err)
	require.NoError(t, f.coordinator.HandleCallback(ctx, "", dto.ApprovalWebhook{
		EventType: dto.ApprovalEventRejected,
		Data:      dto.ApprovalWebhookData{ResourceID: doc.ID, Rejection: &dto.RejectionDecision{RejectedBy: "principal-1", Reason: "incomplete"}},
	}))
	archived, err := f.svc.Archive(ctx, doc.ID, "admin")
	require.NoError(t, err)
	assert.Equal(t, models.IEPStatusArchived, archived.Status)
	assert.Contains(t, f.audit.actions, models.AuditActionIEPArchive)
	assert.Contains(t, f.events.types(), models.EventIEPArchived)
}

func TestIEPServiceAuditFailureIsSwallowed(t *testing.T) {
	f := newServiceFixture(t)
	f.audit.err = errors.New("db down")
	doc := f.createComplete(t)

	result, err := f.svc.SubmitForApproval(context.Background(), doc.ID, "cm")
	require.NoError(t, err)
	assert.NotEmpty(t, result.ApprovalRequestID)
}
