package logger

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	obscontext "github.com/smallbiznis/folio/internal/observability/context"
	"github.com/smallbiznis/folio/internal/orgcontext"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithContextAddsTenantFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	base := zap.New(core)

	ctx := obscontext.WithRequestID(context.Background(), "req-1")
	ctx = orgcontext.WithOrgID(ctx, snowflake.ID(99))
	ctx = orgcontext.WithActor(ctx, orgcontext.Actor{UserID: "u-7", Role: "staff"})

	WithContext(ctx, base).Info("hello")

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		fields := entries[0].ContextMap()
		assert.Equal(t, "req-1", fields["request_id"])
		assert.Equal(t, "99", fields["org_id"])
		assert.Equal(t, "u-7", fields["actor_id"])
		assert.Equal(t, "staff", fields["actor_role"])
		assert.NotContains(t, fields, "trace_id")
	}
}

func TestOperationFromSQL(t *testing.T) {
	assert.Equal(t, "INSERT", operationFromSQL("INSERT INTO invoices (id) VALUES (?)"))
	assert.Equal(t, "SELECT", operationFromSQL("WITH x AS (SELECT 1) SELECT * FROM x"))
	assert.Equal(t, "UNKNOWN", operationFromSQL(""))
}
