package postgres

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/execution-hub/contractsync/internal/domain/contract"
)

// Runs only against a disposable database named by CONTRACTSYNC_TEST_DATABASE_URL.
func testGateway(t *testing.T) *Gateway {
	t.Helper()
	dsn := os.Getenv("CONTRACTSYNC_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("CONTRACTSYNC_TEST_DATABASE_URL not set")
	}
	require.NoError(t, RunMigrations(dsn, "up"))
	pool, err := NewPool(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return NewGateway(pool)
}

func TestGatewaySignedSessionRoundTrip(t *testing.T) {
	g := testGateway(t)
	ctx := context.Background()
	now := time.Now()

	s := contract.NewSession("owner-1", now).WithDevice("phone").WithPairedDevice("tablet")
	require.NoError(t, g.SaveSession(ctx, &s))

	s, err := contract.EnterReview(s, contract.Summarize([]*contract.Message{{Cost: 12.25}}, now), now)
	require.NoError(t, err)
	s, err = contract.Approve(s, 100, now)
	require.NoError(t, err)
	s, err = contract.Sign(s, "alice", now)
	require.NoError(t, err)
	s.Version = 3
	require.NoError(t, g.SaveSession(ctx, &s))

	loaded, err := g.LoadSession(ctx, s.SessionID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, s, *loaded)

	ok, err := contract.VerifyIntegrity(*loaded)
	require.NoError(t, err)
	assert.True(t, ok, "integrity survives storage")
}

func TestGatewayMessages(t *testing.T) {
	g := testGateway(t)
	ctx := context.Background()
	s := contract.NewSession("owner-1", time.Now())
	require.NoError(t, g.SaveSession(ctx, &s))

	for i, body := range []string{`{"text":"a"}`, ``} {
		require.NoError(t, g.AppendMessage(ctx, s.SessionID, &contract.Message{
			MessageID: uuid.New(),
			Author:    "alice",
			Body:      json.RawMessage(body),
			Cost:      float64(i + 1),
			CreatedAt: contract.Timestamp(time.Now()),
		}))
	}
	msgs, err := g.LoadMessages(ctx, s.SessionID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.JSONEq(t, `{"text":"a"}`, string(msgs[0].Body))
	assert.Nil(t, msgs[1].Body)
	assert.Equal(t, 2.0, msgs[1].Cost)

	missing, err := g.LoadSession(ctx, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)
}
