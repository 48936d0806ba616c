package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"custodia/internal/audit"
	"custodia/internal/consent/models"
	"custodia/internal/consent/store"
	"custodia/internal/credential"
	"custodia/internal/vault"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/requestcontext"
)

var (
	steward = models.Actor{ID: "alice", Role: models.RoleDataSteward}
	dpo     = models.Actor{ID: "dana", Role: models.RoleDPO}
	owner   = models.Actor{ID: "omar", Role: models.RoleAppOwner}
)

type seqGen struct{ next int }

func (g *seqGen) Generate() (string, error) {
	g.next++
	return fmt.Sprintf("tok-%d", g.next), nil
}

type ServiceSuite struct {
	suite.Suite
	store    *store.InMemory
	events   *audit.InMemoryStore
	svc      *Service
	readRead models.ActionSet
}

func (s *ServiceSuite) SetupTest() {
	s.store = store.NewInMemory()
	s.events = audit.NewInMemoryStore()
	s.readRead = models.ActionSet{models.ActionRead}

	issuer := credential.NewIssuer(credential.NewInMemoryStore(), credential.WithDatasetGenerator(&seqGen{}))
	schema := vault.NewStaticProvider(map[string]map[string][]vault.Field{
		"vault-1": {
			"customers": {{Name: "email"}, {Name: "name"}, {Name: "ssn"}},
			"orders":    {{Name: "total"}},
		},
	})

	svc, err := New(s.store,
		WithIssuer(issuer),
		WithAuditPublisher(audit.NewPublisher(s.events)),
		WithSchemaProvider(schema),
	)
	s.Require().NoError(err)
	s.svc = svc
}

func (s *ServiceSuite) ctx() context.Context {
	now := time.Date(2026, 8, 31, 14, 30, 0, 0, time.UTC)
	return requestcontext.WithTime(context.Background(), now)
}

// seed files two customers fields and one orders field for app-1.
func (s *ServiceSuite) seed() {
	_, err := s.svc.RegisterRequests(s.ctx(), owner, "app-1", "vault-1", []models.DatasetRequest{
		{Dataset: "customers", Fields: []models.FieldRequest{
			{Name: "email", Actions: []string{"read"}},
			{Name: "name", Actions: []string{"read", "write"}},
		}},
		{Dataset: "orders", Fields: []models.FieldRequest{
			{Name: "total", Actions: []string{"read"}},
		}},
	})
	s.Require().NoError(err)
}

func (s *ServiceSuite) key(dataset, field string) models.ConsentKey {
	return models.ConsentKey{AppID: "app-1", Dataset: dataset, Field: field}
}

func (s *ServiceSuite) TestApproveField() {
	s.seed()
	ctx := s.ctx()

	s.Run("partial approval leaves the dataset requested", func() {
		d, err := s.svc.ApproveField(ctx, steward, s.key("customers", "email"), s.readRead, time.Time{})
		s.Require().NoError(err)
		s.Equal(models.StatusApproved, d.Consent.Status)
		s.Equal(models.StatusRequested, d.DatasetStatus)
		s.Empty(d.AccessToken)
	})

	s.Run("full approval rolls the dataset up and mints a token", func() {
		d, err := s.svc.ApproveField(ctx, steward, s.key("customers", "name"),
			models.ActionSet{models.ActionRead, models.ActionWrite}, time.Time{})
		s.Require().NoError(err)
		s.Equal(models.StatusApproved, d.DatasetStatus)
		s.Equal("tok-1", d.AccessToken)
	})

	s.Run("re-approval keeps the original token", func() {
		d, err := s.svc.ApproveField(ctx, steward, s.key("customers", "email"), s.readRead, time.Time{})
		s.Require().NoError(err)
		s.Equal("tok-1", d.AccessToken)
	})

	s.Run("missing expiry defaults to one year at end of day", func() {
		consent, err := s.store.Get(ctx, s.key("customers", "email"))
		s.Require().NoError(err)
		s.Equal(time.Date(2027, 8, 31, 23, 59, 59, 0, time.UTC), consent.Expiry)
	})

	s.Run("appends to the approval history", func() {
		approvals, err := s.svc.ApprovalHistory(ctx, "app-1")
		s.Require().NoError(err)
		s.Len(approvals, 3)
		s.Equal("alice", approvals[0].ApprovedBy)
		s.Equal(models.ApproverGroupAdmin, approvals[0].ApproverGroup)
	})
}

// The default expiry depends only on the review date, never the clock time.
func (s *ServiceSuite) TestDefaultExpiryAtDayBoundaries() {
	want := time.Date(2027, 8, 31, 23, 59, 59, 0, time.UTC)

	for name, at := range map[string]time.Time{
		"midnight":      time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC),
		"end of day":    time.Date(2026, 8, 31, 23, 59, 59, 0, time.UTC),
		"mid-afternoon": time.Date(2026, 8, 31, 14, 30, 0, 0, time.UTC),
	} {
		s.Run(name, func() {
			s.SetupTest()
			s.seed()
			ctx := requestcontext.WithTime(context.Background(), at)

			_, err := s.svc.ApproveField(ctx, steward, s.key("customers", "email"), s.readRead, time.Time{})
			s.Require().NoError(err)

			consent, err := s.store.Get(ctx, s.key("customers", "email"))
			s.Require().NoError(err)
			s.Equal(want, consent.Expiry)
		})
	}
}

func (s *ServiceSuite) TestApproveFieldAuthorization() {
	s.seed()
	ctx := s.ctx()

	s.Run("app owners may not review", func() {
		_, err := s.svc.ApproveField(ctx, owner, s.key("customers", "email"), s.readRead, time.Time{})
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("dpo approvals record the dpo group", func() {
		_, err := s.svc.ApproveField(ctx, dpo, s.key("customers", "email"), s.readRead, time.Time{})
		s.Require().NoError(err)
		approvals, err := s.svc.ApprovalHistory(ctx, "app-1")
		s.Require().NoError(err)
		s.Equal(models.ApproverGroupDPO, approvals[len(approvals)-1].ApproverGroup)
	})
}

func (s *ServiceSuite) TestApproveFieldValidation() {
	s.seed()
	ctx := s.ctx()

	s.Run("unknown field", func() {
		_, err := s.svc.ApproveField(ctx, steward, s.key("customers", "ghost"), s.readRead, time.Time{})
		s.True(dErrors.HasCode(err, dErrors.CodeUnknownField))
	})

	s.Run("grant exceeding the request", func() {
		_, err := s.svc.ApproveField(ctx, steward, s.key("customers", "email"),
			models.ActionSet{models.ActionRead, models.ActionWrite}, time.Time{})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidActions))
	})

	s.Run("empty grant", func() {
		_, err := s.svc.ApproveField(ctx, steward, s.key("customers", "email"), nil, time.Time{})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidActions))
	})
}

func (s *ServiceSuite) TestRejectDominatesRollup() {
	s.seed()
	ctx := s.ctx()

	_, err := s.svc.ApproveField(ctx, steward, s.key("customers", "email"), s.readRead, time.Time{})
	s.Require().NoError(err)

	d, err := s.svc.RejectField(ctx, steward, s.key("customers", "name"), "sensitivity review")
	s.Require().NoError(err)
	s.Equal(models.StatusRejected, d.Consent.Status)
	s.Empty(d.Consent.Granted)
	s.Equal(models.StatusRejected, d.DatasetStatus)

	s.Run("the approved sibling keeps its grant", func() {
		consent, err := s.store.Get(ctx, s.key("customers", "email"))
		s.Require().NoError(err)
		s.Equal(models.StatusApproved, consent.Status)
		s.Equal(s.readRead, consent.Granted)
	})

	s.Run("re-granting the rejected field recovers the dataset", func() {
		d, err := s.svc.ApproveField(ctx, steward, s.key("customers", "name"),
			models.ActionSet{models.ActionWrite}, time.Time{})
		s.Require().NoError(err)
		s.Equal(models.StatusApproved, d.DatasetStatus)
		s.NotEmpty(d.AccessToken)
	})
}

func (s *ServiceSuite) TestBatchApprove() {
	s.seed()
	ctx := s.ctx()

	selections := []models.BatchSelection{
		{Dataset: "customers", Field: "name", Selected: true, ReadAccess: true, WriteAccess: true},
		{Dataset: "customers", Field: "email", Selected: true, ReadAccess: true},
		{Dataset: "orders", Field: "total", Selected: false, ReadAccess: true},
	}
	result, err := s.svc.BatchApprove(ctx, steward, "app-1", "vault-1", selections)
	s.Require().NoError(err)
	s.Equal(2, result.Transitioned)
	s.Equal(models.StatusRequested, result.AppStatus)

	s.Run("approvals are committed in canonical order", func() {
		s.Require().Len(result.Approvals, 2)
		s.Equal("email", result.Approvals[0].Field)
		s.Equal("name", result.Approvals[1].Field)
	})

	s.Run("fully approved dataset carries its token", func() {
		var customers models.DatasetGroup
		for _, g := range result.Datasets {
			if g.Dataset == "customers" {
				customers = g
			}
		}
		s.Equal(models.StatusApproved, customers.Status)
		s.Equal("tok-1", customers.AccessToken)
	})

	s.Run("unselected dataset stays requested", func() {
		consent, err := s.store.Get(ctx, s.key("orders", "total"))
		s.Require().NoError(err)
		s.Equal(models.StatusRequested, consent.Status)
	})

	s.Run("defaults are applied to committed rows", func() {
		consent, err := s.store.Get(ctx, s.key("customers", "email"))
		s.Require().NoError(err)
		s.Equal(models.DefaultPurposes, consent.Purposes)
		s.Equal(time.Date(2027, 8, 31, 23, 59, 59, 0, time.UTC), consent.Expiry)
	})

	s.Run("repeat batch keeps the original token", func() {
		again, err := s.svc.BatchApprove(ctx, steward, "app-1", "vault-1", selections[:2])
		s.Require().NoError(err)
		for _, g := range again.Datasets {
			if g.Dataset == "customers" {
				s.Equal("tok-1", g.AccessToken)
			}
		}
	})
}

func (s *ServiceSuite) TestBatchApproveAtomicity() {
	s.seed()
	ctx := s.ctx()

	_, err := s.svc.BatchApprove(ctx, steward, "app-1", "vault-1", []models.BatchSelection{
		{Dataset: "customers", Field: "email", Selected: true, ReadAccess: true},
		{Dataset: "customers", Field: "ghost", Selected: true, ReadAccess: true},
	})
	s.True(dErrors.HasCode(err, dErrors.CodeUnknownField))

	s.Run("nothing was written", func() {
		consent, err := s.store.Get(ctx, s.key("customers", "email"))
		s.Require().NoError(err)
		s.Equal(models.StatusRequested, consent.Status)

		approvals, err := s.svc.ApprovalHistory(ctx, "app-1")
		s.Require().NoError(err)
		s.Empty(approvals)
	})

	s.Run("an illegal grant aborts the same way", func() {
		_, err := s.svc.BatchApprove(ctx, steward, "app-1", "vault-1", []models.BatchSelection{
			{Dataset: "customers", Field: "email", Selected: true, ReadAccess: true, WriteAccess: true},
		})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidActions))
	})

	s.Run("an empty selection is rejected up front", func() {
		_, err := s.svc.BatchApprove(ctx, steward, "app-1", "vault-1", []models.BatchSelection{
			{Dataset: "customers", Field: "email", Selected: false, ReadAccess: true},
		})
		s.True(dErrors.HasCode(err, dErrors.CodeNoFieldsSelected))
	})
}

func (s *ServiceSuite) TestBatchApproveSkipsAccesslessSelections() {
	s.seed()
	ctx := s.ctx()

	result, err := s.svc.BatchApprove(ctx, steward, "app-1", "vault-1", []models.BatchSelection{
		{Dataset: "customers", Field: "email", Selected: true, ReadAccess: true},
		{Dataset: "customers", Field: "name", Selected: true},
	})
	s.Require().NoError(err)
	s.Equal(1, result.Transitioned)

	s.Run("the selection granting nothing is left requested", func() {
		consent, err := s.store.Get(ctx, s.key("customers", "name"))
		s.Require().NoError(err)
		s.Equal(models.StatusRequested, consent.Status)
	})

	s.Run("the backing selection is committed", func() {
		consent, err := s.store.Get(ctx, s.key("customers", "email"))
		s.Require().NoError(err)
		s.Equal(models.StatusApproved, consent.Status)
	})

	s.Run("a batch with only accessless selections has nothing to review", func() {
		_, err := s.svc.BatchApprove(ctx, steward, "app-1", "vault-1", []models.BatchSelection{
			{Dataset: "customers", Field: "name", Selected: true},
			{Dataset: "orders", Field: "total", Selected: true},
		})
		s.True(dErrors.HasCode(err, dErrors.CodeNoFieldsSelected))
	})
}

func (s *ServiceSuite) TestBatchReject() {
	s.seed()
	ctx := s.ctx()

	_, err := s.svc.ApproveField(ctx, steward, s.key("customers", "email"), s.readRead, time.Time{})
	s.Require().NoError(err)

	result, err := s.svc.BatchReject(ctx, steward, "app-1", "vault-1", []models.BatchSelection{
		{Dataset: "customers", Field: "name", Selected: true},
		{Dataset: "orders", Field: "total", Selected: true},
	})
	s.Require().NoError(err)
	s.Equal(2, result.Transitioned)
	s.Equal(models.StatusRejected, result.AppStatus)

	s.Run("the approved field outside the selection is untouched", func() {
		consent, err := s.store.Get(ctx, s.key("customers", "email"))
		s.Require().NoError(err)
		s.Equal(models.StatusApproved, consent.Status)
		s.Equal(s.readRead, consent.Granted)
	})
}

func (s *ServiceSuite) TestRegisterRequests() {
	ctx := s.ctx()

	s.Run("creates requested rows with defaults", func() {
		created, err := s.svc.RegisterRequests(ctx, owner, "app-1", "vault-1", []models.DatasetRequest{
			{Dataset: "customers", Fields: []models.FieldRequest{{Name: "email", Actions: []string{"read"}}}},
		})
		s.Require().NoError(err)
		s.Require().Len(created, 1)
		s.Equal(models.StatusRequested, created[0].Status)
		s.Equal(models.DefaultPurposes, created[0].Purposes)
		s.Equal(time.Date(2027, 8, 31, 23, 59, 59, 0, time.UTC), created[0].Expiry)
	})

	s.Run("re-registration keeps the reviewed state", func() {
		_, err := s.svc.ApproveField(ctx, steward, s.key("customers", "email"), s.readRead, time.Time{})
		s.Require().NoError(err)

		created, err := s.svc.RegisterRequests(ctx, owner, "app-1", "vault-1", []models.DatasetRequest{
			{Dataset: "customers", Fields: []models.FieldRequest{{Name: "email", Actions: []string{"read"}}}},
		})
		s.Require().NoError(err)
		s.Empty(created)

		consent, err := s.store.Get(ctx, s.key("customers", "email"))
		s.Require().NoError(err)
		s.Equal(models.StatusApproved, consent.Status)
	})

	s.Run("rejects a dataset with no fields", func() {
		_, err := s.svc.RegisterRequests(ctx, owner, "app-1", "vault-1", []models.DatasetRequest{
			{Dataset: "customers"},
		})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("rejects a field missing from the vault schema", func() {
		_, err := s.svc.RegisterRequests(ctx, owner, "app-1", "vault-1", []models.DatasetRequest{
			{Dataset: "customers", Fields: []models.FieldRequest{{Name: "shoe_size", Actions: []string{"read"}}}},
		})
		s.True(dErrors.HasCode(err, dErrors.CodeUnknownField))
	})

	s.Run("rejects unknown action verbs", func() {
		_, err := s.svc.RegisterRequests(ctx, owner, "app-1", "vault-1", []models.DatasetRequest{
			{Dataset: "customers", Fields: []models.FieldRequest{{Name: "name", Actions: []string{"delete"}}}},
		})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *ServiceSuite) TestGroupedView() {
	s.seed()
	ctx := s.ctx()

	_, err := s.svc.ApproveField(ctx, steward, s.key("orders", "total"), s.readRead, time.Time{})
	s.Require().NoError(err)

	view, err := s.svc.GroupedView(ctx, "app-1")
	s.Require().NoError(err)
	s.Equal("app-1", view.AppID)
	s.Require().Len(view.Datasets, 2)
	s.Equal("customers", view.Datasets[0].Dataset)
	s.Equal("orders", view.Datasets[1].Dataset)
	s.Equal(models.StatusRequested, view.Status)
	s.Len(view.Approvals, 1)

	s.Run("approved group carries its token", func() {
		s.Equal(models.StatusApproved, view.Datasets[1].Status)
		s.Equal("tok-1", view.Datasets[1].AccessToken)
	})

	s.Run("requested group has none", func() {
		s.Empty(view.Datasets[0].AccessToken)
	})

	s.Run("unknown application", func() {
		_, err := s.svc.GroupedView(ctx, "ghost")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *ServiceSuite) TestImportExternal() {
	ctx := s.ctx()

	imported, err := s.svc.ImportExternal(ctx, steward, []models.ApplicationPayload{
		{
			AppID:  "app-9",
			Status: "pending",
			DataSets: []models.DatasetPayload{
				{
					Name:       "invoices",
					Fields:     []models.FieldPayload{{Name: "amount", Actions: []string{"read"}}},
					Purpose:    []string{"analysis"},
					ExpiryDate: time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC),
				},
			},
		},
	})
	s.Require().NoError(err)
	s.Equal(1, imported)

	consent, err := s.store.Get(ctx, models.ConsentKey{AppID: "app-9", Dataset: "invoices", Field: "amount"})
	s.Require().NoError(err)
	s.Equal(models.StatusRequested, consent.Status)

	s.Run("a malformed entry rejects the whole payload", func() {
		_, err := s.svc.ImportExternal(ctx, steward, []models.ApplicationPayload{
			{AppID: "app-10", Status: "wat"},
		})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *ServiceSuite) TestRegenerateAppToken() {
	ctx := s.ctx()

	s.Run("owners may rotate", func() {
		plaintext, record, err := s.svc.RegenerateAppToken(ctx, owner, "app-1")
		s.Require().NoError(err)
		s.NotEmpty(plaintext)
		s.Equal("app-1", record.AppID)
	})

	s.Run("unknown roles may not", func() {
		_, _, err := s.svc.RegenerateAppToken(ctx, models.Actor{ID: "x", Role: models.RoleCTO}, "app-1")
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}

func (s *ServiceSuite) TestAuditTrail() {
	s.seed()
	ctx := s.ctx()

	_, err := s.svc.ApproveField(ctx, dpo, s.key("customers", "email"), s.readRead, time.Time{})
	s.Require().NoError(err)
	_, err = s.svc.BatchReject(ctx, steward, "app-1", "vault-1", []models.BatchSelection{
		{Dataset: "orders", Field: "total", Selected: true},
	})
	s.Require().NoError(err)

	var actions []string
	for _, e := range s.events.All() {
		actions = append(actions, e.Action)
	}
	s.Equal([]string{
		audit.ActionRequestsFiled,
		audit.ActionFieldApproved,
		audit.ActionBatchRejected,
	}, actions)

	s.Run("field event records the approver group", func() {
		events, err := s.events.ListByResource(ctx, audit.ResourceField, "app-1/customers/email")
		s.Require().NoError(err)
		s.Require().Len(events, 1)
		s.Equal(models.ApproverGroupDPO, events[0].ApproverGroup)
	})

	s.Run("client metadata from the request lands in the event", func() {
		metaCtx := requestcontext.WithClientMetadata(ctx, "10.0.0.5", "Firefox/140 (Linux)")
		_, err := s.svc.RejectField(metaCtx, steward, s.key("customers", "name"), "")
		s.Require().NoError(err)

		all := s.events.All()
		last := all[len(all)-1]
		s.Equal("10.0.0.5", last.Details["client_ip"])
		s.Equal("Firefox/140 (Linux)", last.Details["user_agent"])
	})

	s.Run("batch event carries the flattened record", func() {
		events, err := s.events.ListByResource(ctx, audit.ResourceApplication, "app-1")
		s.Require().NoError(err)
		s.Require().Len(events, 2)
		batch := events[1].Details["batch"].(models.BatchRecord)
		s.Equal("alice", batch.UserID)
		s.Equal(models.ApproverGroupAdmin, batch.ApproverGroupName)
		s.Require().Len(batch.Consents, 1)
		s.Equal("total", batch.Consents[0].FieldName)
		s.Equal("rejected", batch.Consents[0].ApprovalStatus)
	})
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}
