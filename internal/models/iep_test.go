package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIEPDocumentCloneCopiesApprovalRecords(t *testing.T) {
	responded := time.Date(2024, 9, 2, 10, 0, 0, 0, time.UTC)
	reason := "missing transition plan"
	doc := &IEPDocument{
		ID: "iep-1",
		ApprovalRecords: []ApprovalRecord{
			{ID: "r1", ApproverID: "p1", Status: ApprovalStatusRejected, RespondedAt: &responded, RejectionReason: &reason},
			{ID: "r2", ApproverID: "p2", Status: ApprovalStatusPending},
		},
	}

	clone := doc.Clone()
	require.Len(t, clone.ApprovalRecords, 2)
	*clone.ApprovalRecords[0].RespondedAt = responded.Add(time.Hour)
	*clone.ApprovalRecords[0].RejectionReason = "changed"
	clone.ApprovalRecords[1].Status = ApprovalStatusApproved

	assert.Equal(t, responded, *doc.ApprovalRecords[0].RespondedAt)
	assert.Equal(t, "missing transition plan", *doc.ApprovalRecords[0].RejectionReason)
	assert.Equal(t, ApprovalStatusPending, doc.ApprovalRecords[1].Status)
	assert.Nil(t, clone.ApprovalRecords[1].RespondedAt)
}
