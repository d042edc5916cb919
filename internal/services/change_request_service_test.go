package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/datakite/steward/internal/catalog"
	"github.com/datakite/steward/internal/identity"
	"github.com/datakite/steward/internal/models"
	apperrors "github.com/datakite/steward/pkg/errors"
)

func setupChangeRequestTest(t *testing.T) (*gorm.DB, *ChangeRequestService, *fakeExecutor) {
	t.Helper()

	db := setupServiceTest(t)

	exec := &fakeExecutor{}
	registry, err := catalog.NewRegistry(db, exec)
	require.NoError(t, err)

	audit, err := NewAuditService(db)
	require.NoError(t, err)

	svc, err := NewChangeRequestService(db, registry, audit)
	require.NoError(t, err)

	return db, svc, exec
}

func alicePrincipal() identity.Principal {
	return identity.Principal{Token: "svc.abc", ServiceToken: "svc", CallerToken: "abc", User: "alice", Role: "ANALYST"}
}

func bobPrincipal() identity.Principal {
	return identity.Principal{Token: "svc", ServiceToken: "svc", User: "bob", Role: "STEWARD_ADMIN"}
}

func submitDescription(t *testing.T, svc *ChangeRequestService, target string) *models.ChangeRequest {
	t.Helper()

	request, err := svc.Submit(context.Background(), alicePrincipal(), SubmitChangeInput{
		RequestType:    models.ChangeTypeDescription,
		TargetObject:   target,
		Justification:  "description is stale",
		ProposedChange: json.RawMessage(`{"description":"x"}`),
	})
	require.NoError(t, err)
	return request
}

func TestChangeRequestStartsPending(t *testing.T) {
	_, svc, _ := setupChangeRequestTest(t)

	request := submitDescription(t, svc, "DB.SCH.T1")
	require.Equal(t, models.ChangeStatusPending, request.Status)
	require.Equal(t, "alice", request.Requester)
	require.Nil(t, request.AssignedTo)
	require.Nil(t, request.Approver)
}

func TestChangeRequestSubmitAssignsContact(t *testing.T) {
	db, svc, _ := setupChangeRequestTest(t)

	require.NoError(t, db.Create(&models.Contact{ObjectName: "DB.SCH.T1", ContactName: "carol"}).Error)

	request := submitDescription(t, svc, "DB.SCH.T1")
	require.NotNil(t, request.AssignedTo)
	require.Equal(t, "carol", *request.AssignedTo)
}

func TestChangeRequestSubmitValidation(t *testing.T) {
	_, svc, _ := setupChangeRequestTest(t)

	_, err := svc.Submit(context.Background(), alicePrincipal(), SubmitChangeInput{
		RequestType:    models.ChangeTypeDescription,
		TargetObject:   "DB.SCH.T1",
		Justification:  "   ",
		ProposedChange: json.RawMessage(`{"description":"x"}`),
	})
	require.Error(t, err)

	_, err = svc.Submit(context.Background(), alicePrincipal(), SubmitChangeInput{
		RequestType:    models.ChangeTypeDescription,
		TargetObject:   "DB.SCH.T1",
		Justification:  "needed",
		ProposedChange: json.RawMessage(`{}`),
	})
	require.Error(t, err)

	_, err = svc.Submit(context.Background(), alicePrincipal(), SubmitChangeInput{
		RequestType:    models.ChangeRequestType("RENAME"),
		TargetObject:   "DB.SCH.T1",
		Justification:  "needed",
		ProposedChange: json.RawMessage(`{"description":"x"}`),
	})
	require.ErrorIs(t, err, catalog.ErrUnknownRequestType)
}

func TestChangeRequestApproveAppliesAndTransitions(t *testing.T) {
	db, svc, _ := setupChangeRequestTest(t)

	request := submitDescription(t, svc, "DB.SCH.T1")

	require.NoError(t, svc.Approve(context.Background(), bobPrincipal(), request.ID, "looks right"))

	var stored models.ChangeRequest
	require.NoError(t, db.First(&stored, "id = ?", request.ID).Error)
	require.Equal(t, models.ChangeStatusApproved, stored.Status)
	require.Equal(t, "bob", *stored.Approver)
	require.NotNil(t, stored.DecisionDate)

	var description models.ObjectDescription
	require.NoError(t, db.First(&description, "object_name = ?", "DB.SCH.T1").Error)
	require.Equal(t, "x", description.Description)
}

func TestChangeRequestApplyFailureLeavesPending(t *testing.T) {
	db, svc, exec := setupChangeRequestTest(t)

	request, err := svc.Submit(context.Background(), alicePrincipal(), SubmitChangeInput{
		RequestType:    models.ChangeTypeColumnDescription,
		TargetObject:   "DB.SCH.T1.COL",
		Justification:  "column comment wrong",
		ProposedChange: json.RawMessage(`{"description":"fixed"}`),
	})
	require.NoError(t, err)

	exec.failPattern = "COMMENT ON COLUMN"

	err = svc.Approve(context.Background(), bobPrincipal(), request.ID, "")
	require.Error(t, err)

	var stored models.ChangeRequest
	require.NoError(t, db.First(&stored, "id = ?", request.ID).Error)
	require.Equal(t, models.ChangeStatusPending, stored.Status)
	require.Nil(t, stored.Approver)
}

func TestChangeRequestDecisionsAreSingleShot(t *testing.T) {
	_, svc, _ := setupChangeRequestTest(t)

	request := submitDescription(t, svc, "DB.SCH.T1")
	require.NoError(t, svc.Approve(context.Background(), bobPrincipal(), request.ID, ""))

	require.ErrorIs(t, svc.Approve(context.Background(), bobPrincipal(), request.ID, ""), apperrors.ErrAlreadyProcessed)
	require.ErrorIs(t, svc.Deny(context.Background(), bobPrincipal(), request.ID, "no"), apperrors.ErrAlreadyProcessed)
	require.ErrorIs(t, svc.ReturnForInfo(context.Background(), bobPrincipal(), request.ID, "why?"), apperrors.ErrAlreadyProcessed)
}

func TestChangeRequestApproveUnknownID(t *testing.T) {
	_, svc, _ := setupChangeRequestTest(t)

	err := svc.Approve(context.Background(), bobPrincipal(), "no-such-id", "")
	require.ErrorIs(t, err, apperrors.ErrAlreadyProcessed)
}

func TestChangeRequestReturnForInfoRequiresComment(t *testing.T) {
	_, svc, _ := setupChangeRequestTest(t)

	request := submitDescription(t, svc, "DB.SCH.T1")
	require.Error(t, svc.ReturnForInfo(context.Background(), bobPrincipal(), request.ID, "  "))
}

func TestChangeRequestResubmitFlow(t *testing.T) {
	db, svc, _ := setupChangeRequestTest(t)

	request := submitDescription(t, svc, "DB.SCH.T1")

	// Resubmit before the reviewer asks for info is illegal.
	err := svc.Resubmit(context.Background(), alicePrincipal(), request.ID, "more detail", json.RawMessage(`{"description":"y"}`))
	require.ErrorIs(t, err, apperrors.ErrAlreadyProcessed)

	require.NoError(t, svc.ReturnForInfo(context.Background(), bobPrincipal(), request.ID, "which column?"))

	// Only the original requester may resubmit.
	err = svc.Resubmit(context.Background(), bobPrincipal(), request.ID, "more detail", json.RawMessage(`{"description":"y"}`))
	require.ErrorIs(t, err, ErrNotRequester)

	require.NoError(t, svc.Resubmit(context.Background(), alicePrincipal(), request.ID, "more detail", json.RawMessage(`{"description":"y"}`)))

	var stored models.ChangeRequest
	require.NoError(t, db.First(&stored, "id = ?", request.ID).Error)
	require.Equal(t, models.ChangeStatusPending, stored.Status)
	require.Equal(t, "more detail", stored.Justification)
	require.Nil(t, stored.Approver)
	require.Nil(t, stored.DecisionComment)
	require.Nil(t, stored.DecisionDate)
}

func TestChangeRequestPendingOrdering(t *testing.T) {
	_, svc, _ := setupChangeRequestTest(t)

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	svc.now = func() time.Time { return clock }

	first := submitDescription(t, svc, "DB.SCH.T1")
	clock = base.Add(time.Minute)
	second := submitDescription(t, svc, "DB.SCH.T2")
	clock = base.Add(2 * time.Minute)
	third := submitDescription(t, svc, "DB.SCH.T3")

	// Send the oldest request around the info loop; it should jump the queue.
	require.NoError(t, svc.ReturnForInfo(context.Background(), bobPrincipal(), first.ID, "need specifics"))
	clock = base.Add(3 * time.Minute)
	require.NoError(t, svc.Resubmit(context.Background(), alicePrincipal(), first.ID, "specifics added", json.RawMessage(`{"description":"z"}`)))
	clock = base.Add(4 * time.Minute)
	require.NoError(t, svc.ReturnForInfo(context.Background(), bobPrincipal(), second.ID, "need specifics"))

	pending, err := svc.ListPending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 3)

	// The open ask is listed ahead of everything else, then pending newest first.
	require.Equal(t, second.ID, pending[0].ID)
	require.Equal(t, models.ChangeStatusMoreInfoNeeded, pending[0].Status)
	require.Equal(t, first.ID, pending[1].ID)
	require.Equal(t, third.ID, pending[2].ID)
}

func TestChangeRequestListMine(t *testing.T) {
	_, svc, _ := setupChangeRequestTest(t)

	submitDescription(t, svc, "DB.SCH.T1")
	submitDescription(t, svc, "DB.SCH.T2")

	mine, err := svc.ListMine(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, mine, 2)

	none, err := svc.ListMine(context.Background(), "bob")
	require.NoError(t, err)
	require.Empty(t, none)
}
