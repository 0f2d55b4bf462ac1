package memory

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/execution-hub/contractsync/internal/domain/contract"
)

func TestGatewayRoundTrip(t *testing.T) {
	ctx := context.Background()
	g := NewGateway()

	missing, err := g.LoadSession(ctx, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)

	s := contract.NewSession("owner-1", time.Now()).WithDevice("phone")
	require.NoError(t, g.SaveSession(ctx, &s))

	loaded, err := g.LoadSession(ctx, s.SessionID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, s, *loaded)

	loaded.Devices[0] = "tampered"
	again, err := g.LoadSession(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, []string{"phone"}, again.Devices)
	assert.Equal(t, 1, g.Sessions())
}

func TestGatewayMessagesKeepOrder(t *testing.T) {
	ctx := context.Background()
	g := NewGateway()
	sessionID := uuid.New()

	for i := 0; i < 3; i++ {
		require.NoError(t, g.AppendMessage(ctx, sessionID, &contract.Message{
			MessageID: uuid.New(),
			Body:      json.RawMessage(`{"n":1}`),
			Cost:      float64(i),
		}))
	}
	msgs, err := g.LoadMessages(ctx, sessionID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	for i, m := range msgs {
		assert.Equal(t, float64(i), m.Cost)
		assert.Equal(t, sessionID, m.SessionID)
	}

	empty, err := g.LoadMessages(ctx, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, empty)
}
