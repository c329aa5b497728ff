package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
)

const (
	keyTenantLock  = "folio:invoice:number:%s"
	tenantLockTTL  = 15 * time.Second
	releaseTimeout = 2 * time.Second
)

// TenantLock serializes work per tenant. In-process callers queue on a
// per-tenant mutex; when a Locker is present the same tenant is also
// serialized across processes. Different tenants never contend.
type TenantLock struct {
	locker *Locker
	log    *zap.Logger

	mu    sync.Mutex
	locks map[snowflake.ID]*tenantMutex
}

type tenantMutex struct {
	ch   chan struct{}
	refs int
}

func NewTenantLock(locker *Locker, log *zap.Logger) *TenantLock {
	return &TenantLock{
		locker: locker,
		log:    log.Named("ratelimit.tenant_lock"),
		locks:  make(map[snowflake.ID]*tenantMutex),
	}
}

// Lock blocks until the tenant is held or ctx ends. The returned func must
// be called exactly once.
func (t *TenantLock) Lock(ctx context.Context, orgID snowflake.ID) (func(), error) {
	m := t.ref(orgID)
	select {
	case m.ch <- struct{}{}:
	case <-ctx.Done():
		t.unref(orgID)
		return nil, ctx.Err()
	}

	localUnlock := func() {
		<-m.ch
		t.unref(orgID)
	}

	if t.locker == nil {
		return localUnlock, nil
	}

	key := fmt.Sprintf(keyTenantLock, orgID.String())
	token, err := t.locker.Acquire(ctx, key, tenantLockTTL)
	if err != nil {
		localUnlock()
		return nil, err
	}

	return func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if err := t.locker.Release(releaseCtx, key, token); err != nil {
			t.log.Warn("failed to release tenant lock", zap.String("org_id", orgID.String()), zap.Error(err))
		}
		localUnlock()
	}, nil
}

func (t *TenantLock) ref(orgID snowflake.ID) *tenantMutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.locks[orgID]
	if !ok {
		m = &tenantMutex{ch: make(chan struct{}, 1)}
		t.locks[orgID] = m
	}
	m.refs++
	return m
}

func (t *TenantLock) unref(orgID snowflake.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.locks[orgID]
	if !ok {
		return
	}
	m.refs--
	if m.refs == 0 {
		delete(t.locks, orgID)
	}
}
