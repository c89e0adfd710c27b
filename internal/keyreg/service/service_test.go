package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"namereg/internal/keyreg/models"
	"namereg/internal/keyreg/store"
	id "namereg/pkg/domain"
	dErrors "namereg/pkg/domain-errors"
	audit "namereg/pkg/platform/audit"
	"namereg/pkg/platform/audit/publisher"
	"namereg/pkg/platform/audit/store/memory"
)

type fixture struct {
	svc    *Service
	events *memory.InMemoryStore
	owner  id.Identity
	ctx    context.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	owner := id.NewIdentity()
	events := memory.NewInMemoryStore()
	svc := New(store.NewInMemory(owner), publisher.New(events))
	return &fixture{svc: svc, events: events, owner: owner, ctx: context.Background()}
}

func (f *fixture) eventCount(t *testing.T) int {
	t.Helper()
	events, err := f.events.List(f.ctx)
	require.NoError(t, err)
	return len(events)
}

func TestRegisterAndResolve(t *testing.T) {
	f := newFixture(t)

	err := f.svc.Register(f.ctx, f.owner, "waku.eth", []byte{0xAA, 0xBB})
	require.NoError(t, err)

	got, err := f.svc.Resolve(f.ctx, "waku.eth")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA, 0xBB}, got)

	exists, err := f.svc.Exists(f.ctx, "waku.eth")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture(t)

	err := f.svc.Register(f.ctx, f.owner, "", []byte{0x01})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeEmptyKey))

	err = f.svc.Register(f.ctx, f.owner, "waku.eth", nil)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeEmptyValue))

	// Failed calls emit nothing.
	assert.Zero(t, f.eventCount(t))
}

func TestRegisterDuplicate(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.svc.Register(f.ctx, f.owner, "waku.eth", []byte{0x01}))

	err := f.svc.Register(f.ctx, f.owner, "waku.eth", []byte{0x02})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeAlreadyExists))

	// The losing create leaves the original value intact.
	got, err := f.svc.Resolve(f.ctx, "waku.eth")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01}, got)
	assert.Equal(t, 1, f.eventCount(t))
}

func TestUpdateKey(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.svc.Register(f.ctx, f.owner, "waku.eth", []byte{0x01}))

	require.NoError(t, f.svc.UpdateKey(f.ctx, f.owner, "waku.eth", []byte{0x02}))

	got, err := f.svc.Resolve(f.ctx, "waku.eth")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02}, got)

	err = f.svc.UpdateKey(f.ctx, f.owner, "missing.eth", []byte{0x02})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))

	err = f.svc.UpdateKey(f.ctx, f.owner, "waku.eth", nil)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeEmptyValue))
}

func TestDeregisterKeepsEnumeration(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.svc.Register(f.ctx, f.owner, "waku.eth", []byte{0x01}))

	require.NoError(t, f.svc.Deregister(f.ctx, f.owner, "waku.eth"))

	exists, err := f.svc.Exists(f.ctx, "waku.eth")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = f.svc.Resolve(f.ctx, "waku.eth")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))

	names, err := f.svc.ListNames(f.ctx)
	require.NoError(t, err)
	assert.Contains(t, names, "waku.eth")

	err = f.svc.Deregister(f.ctx, f.owner, "waku.eth")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
}

func TestExistsIsStableWithoutMutation(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.svc.Register(f.ctx, f.owner, "waku.eth", []byte{0x01}))

	first, err := f.svc.Exists(f.ctx, "waku.eth")
	require.NoError(t, err)
	second, err := f.svc.Exists(f.ctx, "waku.eth")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	first, err = f.svc.Exists(f.ctx, "never.eth")
	require.NoError(t, err)
	second, err = f.svc.Exists(f.ctx, "never.eth")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestUnauthorizedMutationsLeaveStateUntouched(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.svc.Register(f.ctx, f.owner, "waku.eth", []byte{0x01}))
	intruder := id.NewIdentity()

	err := f.svc.Register(f.ctx, intruder, "evil.eth", []byte{0x02})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))

	err = f.svc.UpdateKey(f.ctx, intruder, "waku.eth", []byte{0x02})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))

	err = f.svc.Deregister(f.ctx, intruder, "waku.eth")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))

	err = f.svc.TransferOwnership(f.ctx, intruder, intruder)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))

	// The zero identity is never the owner.
	err = f.svc.Register(f.ctx, id.Identity{}, "zero.eth", []byte{0x03})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))

	got, err := f.svc.Resolve(f.ctx, "waku.eth")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01}, got)

	names, err := f.svc.ListNames(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"waku.eth"}, names)

	// Rejected mutations emit no events.
	assert.Equal(t, 1, f.eventCount(t))
}

func TestTransferOwnership(t *testing.T) {
	f := newFixture(t)
	next := id.NewIdentity()

	require.NoError(t, f.svc.TransferOwnership(f.ctx, f.owner, next))

	owner, err := f.svc.Owner(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, next, owner)

	// The prior owner loses mutation rights; the new owner gains them.
	err = f.svc.Register(f.ctx, f.owner, "waku.eth", []byte{0x01})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	require.NoError(t, f.svc.Register(f.ctx, next, "waku.eth", []byte{0x01}))
}

func TestTransferRejectsZeroIdentity(t *testing.T) {
	f := newFixture(t)

	err := f.svc.TransferOwnership(f.ctx, f.owner, id.Identity{})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidOwner))

	owner, err := f.svc.Owner(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, f.owner, owner)
}

func TestAuditTrailOrderAndContent(t *testing.T) {
	f := newFixture(t)
	next := id.NewIdentity()

	require.NoError(t, f.svc.Register(f.ctx, f.owner, "waku.eth", []byte{0x0A}))
	require.NoError(t, f.svc.UpdateKey(f.ctx, f.owner, "waku.eth", []byte{0x0B}))
	require.NoError(t, f.svc.Deregister(f.ctx, f.owner, "waku.eth"))
	require.NoError(t, f.svc.TransferOwnership(f.ctx, f.owner, next))

	events, err := f.events.List(f.ctx)
	require.NoError(t, err)
	require.Len(t, events, 4)

	assert.Equal(t, audit.ActionNameRegistered, events[0].Action)
	assert.Equal(t, "waku.eth", events[0].Name)
	assert.Equal(t, "0a", events[0].Value)

	assert.Equal(t, audit.ActionNameUpdated, events[1].Action)
	assert.Equal(t, "0b", events[1].Value)

	assert.Equal(t, audit.ActionNameRemoved, events[2].Action)

	assert.Equal(t, audit.ActionOwnershipTransferred, events[3].Action)
	assert.Equal(t, f.owner, events[3].PreviousOwner)
	assert.Equal(t, next, events[3].NewOwner)
}

// slowOwnerReads widens the window between the owner check and the write so
// an unserialized check-then-act sequence would interleave.
type slowOwnerReads struct {
	store.Store
	delay time.Duration
}

func (s *slowOwnerReads) Owner(ctx context.Context) (id.Identity, error) {
	owner, err := s.Store.Owner(ctx)
	time.Sleep(s.delay)
	return owner, err
}

func TestConcurrentTransfersSingleWinner(t *testing.T) {
	owner := id.NewIdentity()
	events := memory.NewInMemoryStore()
	svc := New(
		&slowOwnerReads{Store: store.NewInMemory(owner), delay: 20 * time.Millisecond},
		publisher.New(events),
	)
	ctx := context.Background()

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = svc.TransferOwnership(ctx, owner, id.NewIdentity())
		}(i)
	}
	wg.Wait()

	var successes, unauthorized int
	for _, err := range errs {
		switch {
		case err == nil:
			successes++
		case dErrors.HasCode(err, dErrors.CodeUnauthorized):
			unauthorized++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, successes, "only one transfer by the old owner may land")
	assert.Equal(t, 1, unauthorized)

	trail, err := events.List(ctx)
	require.NoError(t, err)
	assert.Len(t, trail, 1)
}

// txBoundary records whether store and audit writes happen inside RunInTx.
type txBoundary struct {
	inTx  bool
	calls int
}

func (b *txBoundary) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	b.calls++
	b.inTx = true
	defer func() { b.inTx = false }()
	return fn(ctx)
}

type boundaryCheckedStore struct {
	store.Store
	b *txBoundary
	t *testing.T
}

func (s *boundaryCheckedStore) Create(ctx context.Context, rec *models.Record) error {
	assert.True(s.t, s.b.inTx, "record write ran outside the transaction")
	return s.Store.Create(ctx, rec)
}

type boundaryCheckedEvents struct {
	audit.Store
	b *txBoundary
	t *testing.T
}

func (s *boundaryCheckedEvents) Append(ctx context.Context, event audit.Event) error {
	assert.True(s.t, s.b.inTx, "audit append ran outside the transaction")
	return s.Store.Append(ctx, event)
}

func TestMutationAndAuditShareTransaction(t *testing.T) {
	owner := id.NewIdentity()
	boundary := &txBoundary{}
	st := &boundaryCheckedStore{Store: store.NewInMemory(owner), b: boundary, t: t}
	events := &boundaryCheckedEvents{Store: memory.NewInMemoryStore(), b: boundary, t: t}
	svc := New(st, publisher.New(events), WithTransactor(boundary))
	ctx := context.Background()

	require.NoError(t, svc.Register(ctx, owner, "waku.eth", []byte{0x01}))
	require.NoError(t, svc.UpdateKey(ctx, owner, "waku.eth", []byte{0x02}))
	require.NoError(t, svc.Deregister(ctx, owner, "waku.eth"))
	require.NoError(t, svc.TransferOwnership(ctx, owner, id.NewIdentity()))

	assert.Equal(t, 4, boundary.calls, "each mutation runs in its own transaction")
}

type failingTransactor struct{}

func (failingTransactor) RunInTx(context.Context, func(ctx context.Context) error) error {
	return errors.New("commit failed")
}

func TestTransactionFailureFailsTheCall(t *testing.T) {
	owner := id.NewIdentity()
	events := memory.NewInMemoryStore()
	svc := New(store.NewInMemory(owner), publisher.New(events), WithTransactor(failingTransactor{}))
	ctx := context.Background()

	err := svc.Register(ctx, owner, "waku.eth", []byte{0x01})
	require.Error(t, err)

	// A rolled-back mutation leaves no record and no event.
	exists, err := svc.Exists(ctx, "waku.eth")
	require.NoError(t, err)
	assert.False(t, exists)
	trail, err := events.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, trail)
}

func TestLifecycleScenario(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.svc.Register(f.ctx, f.owner, "waku.eth", []byte{0x01}))
	got, err := f.svc.Resolve(f.ctx, "waku.eth")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01}, got)

	require.NoError(t, f.svc.UpdateKey(f.ctx, f.owner, "waku.eth", []byte{0x02}))
	got, err = f.svc.Resolve(f.ctx, "waku.eth")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02}, got)

	require.NoError(t, f.svc.Deregister(f.ctx, f.owner, "waku.eth"))
	exists, err := f.svc.Exists(f.ctx, "waku.eth")
	require.NoError(t, err)
	assert.False(t, exists)

	names, err := f.svc.ListNames(f.ctx)
	require.NoError(t, err)
	assert.Contains(t, names, "waku.eth")
}
