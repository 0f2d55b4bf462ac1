package contract

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"
)

func goldenSession() Session {
	return Session{
		SessionID:      uuid.MustParse("6f1c1d9e-0000-4000-8000-000000000001"),
		OwnerID:        "owner-1",
		ContractStatus: StatusReview,
		Version:        1,
		Devices:        []string{"phone"},
		StartedAt:      t0,
		LastActivityAt: t0.Add(time.Minute),
		Review: &ReviewSummary{
			MessageCount:  2,
			EstimatedCost: 42.5,
			ComputedAt:    t0.Add(time.Minute),
		},
	}
}

func TestEventWireFormat(t *testing.T) {
	s := goldenSession()
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata"),
		goldie.WithNameSuffix(".golden"),
	)

	review, err := NewEvent(EventContractReview, s, s.Review, t0.Add(61*time.Second))
	require.NoError(t, err)
	data, err := review.Encode()
	require.NoError(t, err)
	g.Assert(t, "contract_review", append(data, '\n'))

	snapshot, err := SnapshotEvent(s, t0.Add(61*time.Second))
	require.NoError(t, err)
	data, err = snapshot.Encode()
	require.NoError(t, err)
	g.Assert(t, "sync", append(data, '\n'))
}

func TestNewEventWithoutPayload(t *testing.T) {
	ev, err := NewEvent(EventDeviceConnected, goldenSession(), nil, t0)
	require.NoError(t, err)
	require.JSONEq(t, `{}`, string(ev.Payload))
}
