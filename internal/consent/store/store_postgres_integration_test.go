//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"custodia/internal/consent/models"
	"custodia/internal/consent/store"
	"custodia/pkg/platform/sentinel"
	"custodia/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.Postgres
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	_, err := s.postgres.DB.Exec(store.Schema)
	s.Require().NoError(err)
	s.store = store.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(), "field_consents", "consent_approvals")
	s.Require().NoError(err)
}

func newConsent(appID, dataset, field string) models.FieldConsent {
	return models.FieldConsent{
		AppID:     appID,
		Dataset:   dataset,
		Field:     field,
		Requested: models.ActionSet{models.ActionRead, models.ActionWrite},
		Status:    models.StatusRequested,
		Purposes:  []string{"verification", "analysis"},
		Expiry:    time.Date(2027, 6, 1, 23, 59, 59, 0, time.UTC),
	}
}

func (s *PostgresStoreSuite) TestRoundTrip() {
	ctx := context.Background()
	c := newConsent("app-1", "customers", "email")
	s.Require().NoError(s.store.Upsert(ctx, c))

	found, err := s.store.Get(ctx, c.Key())
	s.Require().NoError(err)
	s.Equal(c.Requested, found.Requested)
	s.Equal(c.Purposes, found.Purposes)
	s.True(c.Expiry.Equal(found.Expiry))
}

func (s *PostgresStoreSuite) TestGetUnknownKey() {
	_, err := s.store.Get(context.Background(), models.ConsentKey{AppID: "nope", Dataset: "x", Field: "y"})
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestUpsertOverwritesInPlace() {
	ctx := context.Background()
	c := newConsent("app-1", "customers", "email")
	s.Require().NoError(s.store.Upsert(ctx, c))
	s.Require().NoError(s.store.Upsert(ctx, newConsent("app-1", "customers", "name")))

	c.Status = models.StatusApproved
	c.Granted = models.ActionSet{models.ActionRead}
	s.Require().NoError(s.store.Upsert(ctx, c))

	rows, err := s.store.ListByApp(ctx, "app-1")
	s.Require().NoError(err)
	s.Require().Len(rows, 2)
	s.Equal("email", rows[0].Field, "insertion order preserved across updates")
	s.Equal(models.StatusApproved, rows[0].Status)
}

func (s *PostgresStoreSuite) TestApprovalHistory() {
	ctx := context.Background()
	a := models.Approval{
		ID: uuid.NewString(), AppID: "app-1", Dataset: "customers", Field: "email",
		Actions: models.ActionSet{models.ActionRead}, Approved: true,
		ApprovedBy: "steward-1", ApproverGroup: models.ApproverGroupAdmin,
		ApprovedAt: time.Now().UTC().Truncate(time.Microsecond),
		Reason:     "quarterly review",
	}
	s.Require().NoError(s.store.AppendApproval(ctx, a))

	b := a
	b.ID = uuid.NewString()
	b.Approved = false
	s.Require().NoError(s.store.AppendApproval(ctx, b))

	history, err := s.store.ListApprovals(ctx, "app-1")
	s.Require().NoError(err)
	s.Require().Len(history, 2)
	s.Equal(a.ID, history[0].ID)
	s.True(history[0].Approved)
	s.False(history[1].Approved)
	s.Equal("quarterly review", history[0].Reason)
}
