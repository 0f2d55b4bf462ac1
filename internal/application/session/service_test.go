package session

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/execution-hub/contractsync/internal/application/broadcast"
	"github.com/execution-hub/contractsync/internal/application/pairing"
	"github.com/execution-hub/contractsync/internal/application/registry"
	"github.com/execution-hub/contractsync/internal/domain/contract"
	"github.com/execution-hub/contractsync/internal/domain/device"
	"github.com/execution-hub/contractsync/internal/domain/device/mocks"
	"github.com/execution-hub/contractsync/internal/infrastructure/memory"
)

// recorder is a Transport that keeps every event per connection.
type recorder struct {
	mu     sync.Mutex
	events map[uuid.UUID][]contract.Event
}

func newRecorder() *recorder {
	return &recorder{events: make(map[uuid.UUID][]contract.Event)}
}

func (r *recorder) Send(connectionID uuid.UUID, data []byte) error {
	var ev contract.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[connectionID] = append(r.events[connectionID], ev)
	return nil
}

func (r *recorder) of(connectionID uuid.UUID) []contract.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]contract.Event(nil), r.events[connectionID]...)
}

func (r *recorder) types(connectionID uuid.UUID) []contract.EventType {
	var out []contract.EventType
	for _, ev := range r.of(connectionID) {
		out = append(out, ev.Type)
	}
	return out
}

func (r *recorder) last(t *testing.T, connectionID uuid.UUID) contract.Event {
	t.Helper()
	evs := r.of(connectionID)
	require.NotEmpty(t, evs)
	return evs[len(evs)-1]
}

type fixture struct {
	svc      *Service
	rec      *recorder
	gateway  *memory.Gateway
	verifier *mocks.MockVerifier
}

func newFixture(t *testing.T, policy string) *fixture {
	t.Helper()
	gw := memory.NewGateway()
	rec := newRecorder()
	verifier := mocks.NewMockVerifier(gomock.NewController(t))
	sessions := registry.NewSessionRegistry(gw, zerolog.Nop())
	conns := registry.NewConnectionRegistry(sessions, zerolog.Nop())
	coord := broadcast.NewCoordinator(conns, rec, zerolog.Nop())
	p, err := NewApprovalPolicy(policy)
	require.NoError(t, err)
	svc := NewService(sessions, conns, coord, pairing.NewService(sessions, verifier, coord, zerolog.Nop()), gw, p, zerolog.Nop())
	return &fixture{svc: svc, rec: rec, gateway: gw, verifier: verifier}
}

func (f *fixture) attach(t *testing.T, sessionID uuid.UUID, deviceType string) *device.Connection {
	t.Helper()
	conn, err := f.svc.RegisterConnection(context.Background(), uuid.New(), sessionID, device.Meta{DeviceType: deviceType, DeviceID: deviceType + "-1"})
	require.NoError(t, err)
	return conn
}

func snapshotOf(t *testing.T, ev contract.Event) contract.Session {
	t.Helper()
	require.Equal(t, contract.EventSync, ev.Type)
	var s contract.Session
	require.NoError(t, json.Unmarshal(ev.Payload, &s))
	return s
}

func TestContractLifecycleAcrossDevices(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "")

	s, err := f.svc.StartSession(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, contract.StatusDraft, s.ContractStatus)
	assert.Equal(t, int64(0), s.Version)

	a := f.attach(t, s.SessionID, "phone")
	assert.Equal(t, []contract.EventType{contract.EventSync}, f.rec.types(a.ConnectionID))

	reviewed, err := f.svc.SyncReview(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, contract.StatusReview, reviewed.ContractStatus)
	assert.Equal(t, int64(1), reviewed.Version)
	ev := f.rec.last(t, a.ConnectionID)
	assert.Equal(t, contract.EventContractReview, ev.Type)
	assert.Equal(t, int64(1), ev.Version)

	b := f.attach(t, s.SessionID, "laptop")
	snap := snapshotOf(t, f.rec.of(b.ConnectionID)[0])
	assert.Equal(t, contract.StatusReview, snap.ContractStatus)
	assert.Equal(t, int64(1), snap.Version)
	assert.Equal(t, contract.EventDeviceConnected, f.rec.last(t, a.ConnectionID).Type)
	assert.Len(t, f.rec.of(b.ConnectionID), 1, "the new device gets only its snapshot")

	approved, err := f.svc.SyncApproval(ctx, s.SessionID, 100)
	require.NoError(t, err)
	assert.Equal(t, contract.StatusApproved, approved.ContractStatus)
	require.NotNil(t, approved.ApprovedCeiling)
	assert.Equal(t, 100.0, *approved.ApprovedCeiling)
	assert.Equal(t, int64(2), approved.Version)
	for _, c := range []*device.Connection{a, b} {
		ev := f.rec.last(t, c.ConnectionID)
		assert.Equal(t, contract.EventContractApproved, ev.Type)
		assert.Equal(t, int64(2), ev.Version)
	}

	signed, err := f.svc.SyncSignature(ctx, s.SessionID, "")
	require.NoError(t, err)
	assert.Equal(t, contract.StatusSigned, signed.ContractStatus)
	assert.Equal(t, int64(3), signed.Version)
	assert.NotEmpty(t, signed.IntegrityHash)
	for _, c := range []*device.Connection{a, b} {
		assert.Equal(t, contract.EventContractSigned, f.rec.last(t, c.ConnectionID).Type)
	}

	_, err = f.svc.SyncApproval(ctx, s.SessionID, 100)
	assert.ErrorIs(t, err, contract.ErrImmutableSession)
	_, err = f.svc.SyncReview(ctx, s.SessionID)
	assert.ErrorIs(t, err, contract.ErrImmutableSession)
	_, err = f.svc.SyncSignature(ctx, s.SessionID, "")
	assert.ErrorIs(t, err, contract.ErrImmutableSession)

	cur, err := f.svc.GetSession(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), cur.Version)

	report, err := f.svc.VerifyIntegrity(ctx, s.SessionID)
	require.NoError(t, err)
	assert.True(t, report.Signed)
	assert.True(t, report.Valid)

	var last int64 = -1
	for _, ev := range f.rec.of(a.ConnectionID) {
		assert.GreaterOrEqual(t, ev.Version, last)
		last = ev.Version
	}
}

func TestConcurrentTransitionsReachEveryDeviceInVersionOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "")
	s, err := f.svc.StartSession(ctx, "owner-1")
	require.NoError(t, err)
	devices := []*device.Connection{
		f.attach(t, s.SessionID, "phone"),
		f.attach(t, s.SessionID, "laptop"),
		f.attach(t, s.SessionID, "tablet"),
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = f.svc.AppendMessage(ctx, s.SessionID, "owner-1", nil, float64(i))
			_, _ = f.svc.SyncReview(ctx, s.SessionID)
			_, _ = f.svc.SyncApproval(ctx, s.SessionID, float64(100+i))
			_, _ = f.svc.AppendMessage(ctx, s.SessionID, "owner-1", nil, 1)
			_, _ = f.svc.SyncSignature(ctx, s.SessionID, "")
		}(i)
	}
	wg.Wait()

	final, err := f.svc.GetSession(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, contract.StatusSigned, final.ContractStatus)
	assert.Equal(t, int64(3), final.Version)

	transitions := map[contract.EventType]bool{
		contract.EventContractReview:   true,
		contract.EventContractApproved: true,
		contract.EventContractSigned:   true,
	}
	for _, conn := range devices {
		var (
			last int64 = -1
			seen []int64
		)
		for _, ev := range f.rec.of(conn.ConnectionID) {
			assert.GreaterOrEqual(t, ev.Version, last, "connection %s went back in version", conn.DeviceType)
			last = ev.Version
			if transitions[ev.Type] {
				seen = append(seen, ev.Version)
			}
		}
		assert.Equal(t, []int64{1, 2, 3}, seen, "connection %s", conn.DeviceType)
	}
}

func TestStartSessionRequiresOwner(t *testing.T) {
	f := newFixture(t, "")
	_, err := f.svc.StartSession(context.Background(), "  ")
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
}

func TestReviewSummarizesMessages(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "")
	s, err := f.svc.StartSession(ctx, "owner-1")
	require.NoError(t, err)
	a := f.attach(t, s.SessionID, "phone")

	_, err = f.svc.AppendMessage(ctx, s.SessionID, "alice", json.RawMessage(`{"text":"scope"}`), 30)
	require.NoError(t, err)
	_, err = f.svc.AppendMessage(ctx, s.SessionID, "bob", nil, 45.5)
	require.NoError(t, err)
	assert.Equal(t, contract.EventMessageAppended, f.rec.last(t, a.ConnectionID).Type)

	cur, err := f.svc.GetSession(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), cur.Version, "messages do not bump the version")

	reviewed, err := f.svc.SyncReview(ctx, s.SessionID)
	require.NoError(t, err)
	require.NotNil(t, reviewed.Review)
	assert.Equal(t, 2, reviewed.Review.MessageCount)
	assert.Equal(t, 75.5, reviewed.Review.EstimatedCost)

	approved, err := f.svc.SyncApproval(ctx, s.SessionID, 50)
	require.NoError(t, err)
	assert.Equal(t, 50.0, *approved.ApprovedCost)

	msgs, err := f.svc.ListMessages(ctx, s.SessionID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "alice", msgs[0].Author)
}

func TestAppendMessageRejectedAfterSigning(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "")
	s, err := f.svc.StartSession(ctx, "owner-1")
	require.NoError(t, err)
	_, err = f.svc.SyncReview(ctx, s.SessionID)
	require.NoError(t, err)
	_, err = f.svc.SyncApproval(ctx, s.SessionID, 10)
	require.NoError(t, err)
	_, err = f.svc.SyncSignature(ctx, s.SessionID, "alice")
	require.NoError(t, err)

	_, err = f.svc.AppendMessage(ctx, s.SessionID, "alice", nil, 1)
	assert.ErrorIs(t, err, contract.ErrImmutableSession)
	_, err = f.svc.AppendMessage(ctx, s.SessionID, "alice", nil, -1)
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
}

func TestApprovalPolicyRejects(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "ceiling <= 1000 && devices >= 1")
	s, err := f.svc.StartSession(ctx, "owner-1")
	require.NoError(t, err)
	f.attach(t, s.SessionID, "phone")
	_, err = f.svc.SyncReview(ctx, s.SessionID)
	require.NoError(t, err)

	_, err = f.svc.SyncApproval(ctx, s.SessionID, 5000)
	require.ErrorIs(t, err, contract.ErrPolicyRejected)
	cur, err := f.svc.GetSession(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, contract.StatusReview, cur.ContractStatus)
	assert.Equal(t, int64(1), cur.Version)

	_, err = f.svc.SyncApproval(ctx, s.SessionID, 500)
	require.NoError(t, err)
}

func TestUnregisterBroadcastsAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "")
	s, err := f.svc.StartSession(ctx, "owner-1")
	require.NoError(t, err)
	a := f.attach(t, s.SessionID, "phone")
	b := f.attach(t, s.SessionID, "laptop")

	require.NoError(t, f.svc.UnregisterConnection(ctx, b.ConnectionID))
	require.NoError(t, f.svc.UnregisterConnection(ctx, b.ConnectionID))

	disconnects := 0
	for _, typ := range f.rec.types(a.ConnectionID) {
		if typ == contract.EventDeviceDisconnected {
			disconnects++
		}
	}
	assert.Equal(t, 1, disconnects)

	cur, err := f.svc.GetSession(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, []string{"phone"}, cur.Devices)
	assert.Len(t, f.svc.Connections(s.SessionID), 1)
}

func TestTeardownWaitsForConnections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "")
	s, err := f.svc.StartSession(ctx, "owner-1")
	require.NoError(t, err)
	a := f.attach(t, s.SessionID, "phone")

	deferred, err := f.svc.TeardownSession(ctx, s.SessionID)
	require.NoError(t, err)
	assert.True(t, deferred)
	assert.Equal(t, 1, f.svc.sessions.Len())

	require.NoError(t, f.svc.UnregisterConnection(ctx, a.ConnectionID))
	assert.Equal(t, 0, f.svc.sessions.Len())

	// storage still has it
	got, err := f.svc.GetSession(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, s.SessionID, got.SessionID)
}

func TestEvictIdleSessions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "")
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time { return now }

	idle, err := f.svc.StartSession(ctx, "owner-1")
	require.NoError(t, err)
	busy, err := f.svc.StartSession(ctx, "owner-1")
	require.NoError(t, err)
	f.attach(t, busy.SessionID, "phone")

	now = now.Add(time.Hour)
	assert.Equal(t, 1, f.svc.EvictIdleSessions(30*time.Minute))
	assert.Equal(t, 1, f.svc.sessions.Len())
	assert.Equal(t, 0, f.svc.EvictIdleSessions(30*time.Minute))

	_, err = f.svc.GetSession(ctx, idle.SessionID)
	require.NoError(t, err, "evicted sessions rehydrate from storage")
}

func TestAuthorize(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "")
	s, err := f.svc.StartSession(ctx, "owner-1")
	require.NoError(t, err)

	_, err = f.svc.Authorize(ctx, s.SessionID, "owner-1")
	require.NoError(t, err)
	_, err = f.svc.Authorize(ctx, s.SessionID, "owner-2")
	assert.ErrorIs(t, err, contract.ErrAccessDenied)
	_, err = f.svc.Authorize(ctx, uuid.New(), "owner-1")
	assert.ErrorIs(t, err, contract.ErrSessionNotFound)
}
