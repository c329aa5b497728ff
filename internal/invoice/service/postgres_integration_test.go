//go:build integration

package service

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/folio/internal/clock"
	invoicedomain "github.com/smallbiznis/folio/internal/invoice/domain"
	"github.com/smallbiznis/folio/internal/invoice/repository"
	"github.com/smallbiznis/folio/internal/migration"
	"github.com/smallbiznis/folio/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newPostgresFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("folio_test"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "start postgres container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := gorm.Open(gormpostgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, migration.RunMigrations(sqlDB))

	signer := newStubSigner()
	_, pub := signer.CurrentPublicKey()
	require.NoError(t, db.Exec(
		`INSERT INTO signing_keys (key_id, algorithm, public_key, created_at) VALUES (?, 'ed25519', ?, ?)`,
		signer.keyID, []byte(pub), time.Now().UTC(),
	).Error)

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	svc := NewService(ServiceParam{
		DB:         db,
		Log:        zap.NewNop(),
		GenID:      node,
		Repo:       repository.Provide(),
		Signer:     signer,
		TenantLock: ratelimit.NewTenantLock(nil, zap.NewNop()),
		Clock:      clk,
	})
	return fixture{svc: svc, db: db, signer: signer, clock: clk}
}

func TestPostgresConcurrentNumbering(t *testing.T) {
	f := newPostgresFixture(t)
	const n = 30

	var wg sync.WaitGroup
	var mu sync.Mutex
	got := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// two tenants interleaved
			inv, err := f.svc.Create(tenant(int64(1+i%2)), roomNight())
			if !assert.NoError(t, err) {
				return
			}
			if i%2 == 0 {
				mu.Lock()
				got = append(got, inv.Number)
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	require.Len(t, got, n/2)
	for i, num := range got {
		assert.Equal(t, int64(i+1), num)
	}
}

func TestPostgresRejectsMutationOfIssuedInvoices(t *testing.T) {
	f := newPostgresFixture(t)

	inv, err := f.svc.Create(tenant(1), roomNight())
	require.NoError(t, err)

	err = f.db.Exec(`UPDATE invoices SET grand_total_minor = 1 WHERE id = ?`, inv.ID).Error
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append-only")

	err = f.db.Exec(`DELETE FROM invoice_lines WHERE invoice_id = ?`, inv.ID).Error
	require.Error(t, err)

	stored, err := f.svc.GetByID(tenant(1), inv.ID.String())
	require.NoError(t, err)
	assert.Equal(t, inv.GrandTotalMinor, stored.GrandTotalMinor)
	assert.Equal(t, inv.SignedPayload, stored.SignedPayload)
}

func TestPostgresUnknownSigningKeyIsRejected(t *testing.T) {
	f := newPostgresFixture(t)
	f.signer.keyID = "ed25519-unregistered"

	_, err := f.svc.Create(tenant(1), roomNight())
	assert.ErrorIs(t, err, invoicedomain.ErrInvoiceCreationFailed)

	var count int64
	require.NoError(t, f.db.Raw(`SELECT COUNT(*) FROM invoices`).Scan(&count).Error)
	assert.Zero(t, count)
}
