package boltstore

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/execution-hub/contractsync/internal/domain/contract"
)

func openTemp(t *testing.T) (*Gateway, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "contractsync.db")
	g, err := Open(path)
	require.NoError(t, err)
	return g, path
}

func TestSessionsSurviveReopen(t *testing.T) {
	ctx := context.Background()
	g, path := openTemp(t)

	s := contract.NewSession("owner-1", time.Now()).WithDevice("phone").WithPairedDevice("tablet")
	s, err := contract.EnterReview(s, contract.ReviewSummary{MessageCount: 1, EstimatedCost: 5, ComputedAt: contract.Timestamp(time.Now())}, time.Now())
	require.NoError(t, err)
	s, err = contract.Approve(s, 10, time.Now())
	require.NoError(t, err)
	s, err = contract.Sign(s, "alice", time.Now())
	require.NoError(t, err)
	require.NoError(t, g.SaveSession(ctx, &s))
	require.NoError(t, g.Close())

	g, err = Open(path)
	require.NoError(t, err)
	defer g.Close()

	loaded, err := g.LoadSession(ctx, s.SessionID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, s.IntegrityHash, loaded.IntegrityHash)
	assert.Equal(t, []string{"phone", "tablet"}, loaded.Devices)
	assert.Equal(t, []string{"tablet"}, loaded.PairedDevices)
	ok, err := contract.VerifyIntegrity(*loaded)
	require.NoError(t, err)
	assert.True(t, ok)

	missing, err := g.LoadSession(ctx, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMessagesKeepInsertionOrder(t *testing.T) {
	ctx := context.Background()
	g, _ := openTemp(t)
	defer g.Close()
	sessionID := uuid.New()

	for i := 0; i < 300; i++ {
		require.NoError(t, g.AppendMessage(ctx, sessionID, &contract.Message{
			MessageID: uuid.New(),
			Body:      json.RawMessage(`{}`),
			Cost:      float64(i),
		}))
	}
	msgs, err := g.LoadMessages(ctx, sessionID)
	require.NoError(t, err)
	require.Len(t, msgs, 300)
	for i, m := range msgs {
		assert.Equal(t, float64(i), m.Cost)
		assert.Equal(t, sessionID, m.SessionID)
	}

	none, err := g.LoadMessages(ctx, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, none)
}
