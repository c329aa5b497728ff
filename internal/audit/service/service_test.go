package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	auditdomain "github.com/smallbiznis/folio/internal/audit/domain"
	"github.com/smallbiznis/folio/internal/audit/repository"
	obscontext "github.com/smallbiznis/folio/internal/observability/context"
	"github.com/smallbiznis/folio/internal/orgcontext"
	"github.com/smallbiznis/folio/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (auditdomain.Service, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "audit.db")), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&auditdomain.AuditLog{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  repository.Provide(),
	}), db
}

func TestAuditLogResolvesTenantAndActorFromContext(t *testing.T) {
	svc, db := newTestService(t)

	ctx := orgcontext.WithOrgID(context.Background(), snowflake.ID(10))
	ctx = orgcontext.WithActor(ctx, orgcontext.Actor{UserID: "user-1", Role: "admin"})
	ctx = obscontext.WithRequestID(ctx, "req-9")
	ctx = obscontext.WithClient(ctx, obscontext.Client{IPAddress: "10.0.0.1", UserAgent: "test"})

	target := "55"
	require.NoError(t, svc.AuditLog(ctx, nil, "", nil, auditdomain.ActionInvoiceCreated, "invoice", &target, map[string]any{"number": 1}))

	var stored auditdomain.AuditLog
	require.NoError(t, db.First(&stored).Error)
	require.NotNil(t, stored.OrgID)
	assert.Equal(t, snowflake.ID(10), *stored.OrgID)
	assert.Equal(t, string(auditdomain.ActorTypeUser), stored.ActorType)
	require.NotNil(t, stored.ActorID)
	assert.Equal(t, "user-1", *stored.ActorID)
	assert.Equal(t, "req-9", stored.Metadata["request_id"])
	require.NotNil(t, stored.IPAddress)
	assert.Equal(t, "10.0.0.1", *stored.IPAddress)
}

func TestAuditLogDefaultsToSystemActor(t *testing.T) {
	svc, db := newTestService(t)

	require.NoError(t, svc.AuditLog(context.Background(), nil, "", nil, auditdomain.ActionSigningKeyRegistered, "signing_key", nil, nil))

	var stored auditdomain.AuditLog
	require.NoError(t, db.First(&stored).Error)
	assert.Nil(t, stored.OrgID)
	assert.Equal(t, string(auditdomain.ActorTypeSystem), stored.ActorType)
	assert.Nil(t, stored.UserAgent)
}

func TestAuditLogRejectsEmptyAction(t *testing.T) {
	svc, _ := newTestService(t)
	err := svc.AuditLog(context.Background(), nil, "", nil, "  ", "x", nil, nil)
	assert.ErrorIs(t, err, auditdomain.ErrInvalidAction)
}

func TestListIsTenantScopedAndPaginated(t *testing.T) {
	svc, _ := newTestService(t)

	tenantA := orgcontext.WithOrgID(context.Background(), snowflake.ID(1))
	tenantB := orgcontext.WithOrgID(context.Background(), snowflake.ID(2))
	for i := 0; i < 3; i++ {
		require.NoError(t, svc.AuditLog(tenantA, nil, "", nil, auditdomain.ActionInvoiceCreated, "invoice", nil, nil))
		time.Sleep(2 * time.Millisecond)
	}
	require.NoError(t, svc.AuditLog(tenantB, nil, "", nil, auditdomain.ActionInvoiceCreated, "invoice", nil, nil))

	first, err := svc.List(tenantA, auditdomain.ListAuditLogRequest{Pagination: pagination.Pagination{PageSize: 2}})
	require.NoError(t, err)
	assert.Len(t, first.AuditLogs, 2)
	assert.True(t, first.HasMore)

	second, err := svc.List(tenantA, auditdomain.ListAuditLogRequest{Pagination: pagination.Pagination{PageSize: 2, PageToken: first.NextPageToken}})
	require.NoError(t, err)
	assert.Len(t, second.AuditLogs, 1)
	assert.False(t, second.HasMore)
	assert.NotEqual(t, first.AuditLogs[0].ID, second.AuditLogs[0].ID)

	_, err = svc.List(context.Background(), auditdomain.ListAuditLogRequest{})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidOrganization)
}
