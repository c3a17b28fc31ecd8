package ledger_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tqchen/yarn-ec2/internal/ledger"
	"github.com/tqchen/yarn-ec2/pkg/types"
)

func spot(id string, state types.RequestState) types.ProvisionRequest {
	return types.ProvisionRequest{
		ID:            id,
		Kind:          types.RequestKindSpot,
		InstanceClass: "c3.2xlarge",
		Zone:          "us-west-2a",
		BidPrice:      0.3,
		State:         state,
		SubmittedAt:   time.Date(2016, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestLedger_Register(t *testing.T) {
	t.Run("duplicate id fails", func(t *testing.T) {
		l := ledger.New()
		require.NoError(t, l.Register(spot("sir-1", types.RequestStateOpen)))

		err := l.Register(spot("sir-1", types.RequestStateActive))
		require.Error(t, err)
		assert.ErrorIs(t, err, ledger.ErrDuplicateKey)
		assert.Contains(t, err.Error(), "sir-1")

		req, ok := l.Get("sir-1")
		require.True(t, ok)
		assert.Equal(t, types.RequestStateOpen, req.State, "original entry is untouched")
	})

	t.Run("empty state defaults to the kind's initial state", func(t *testing.T) {
		l := ledger.New()
		require.NoError(t, l.Register(types.ProvisionRequest{ID: "sir-1", Kind: types.RequestKindSpot}))
		require.NoError(t, l.Register(types.ProvisionRequest{ID: "i-1", Kind: types.RequestKindOnDemand}))

		req, _ := l.Get("sir-1")
		assert.Equal(t, types.RequestStateOpen, req.State)
		req, _ = l.Get("i-1")
		assert.Equal(t, types.RequestStatePending, req.State)
	})
}

func TestLedger_Observe(t *testing.T) {
	t.Run("different state returns a transition", func(t *testing.T) {
		l := ledger.New()
		require.NoError(t, l.Register(spot("sir-1", types.RequestStateOpen)))

		tr, ok := l.Observe("sir-1", types.RequestStateActive)
		require.True(t, ok)
		assert.Equal(t, types.Transition{
			RequestID: "sir-1",
			Kind:      types.RequestKindSpot,
			From:      types.RequestStateOpen,
			To:        types.RequestStateActive,
		}, tr)

		req, _ := l.Get("sir-1")
		assert.Equal(t, types.RequestStateActive, req.State)
	})

	t.Run("same state returns nothing", func(t *testing.T) {
		l := ledger.New()
		require.NoError(t, l.Register(spot("sir-1", types.RequestStateOpen)))

		_, ok := l.Observe("sir-1", types.RequestStateOpen)
		assert.False(t, ok)
	})

	t.Run("unknown id returns nothing", func(t *testing.T) {
		l := ledger.New()
		_, ok := l.Observe("sir-404", types.RequestStateActive)
		assert.False(t, ok)
	})
}

func TestLedger_CountAndEvict(t *testing.T) {
	l := ledger.New()
	require.NoError(t, l.Register(spot("sir-1", types.RequestStateOpen)))
	require.NoError(t, l.Register(spot("sir-2", types.RequestStateActive)))
	require.NoError(t, l.Register(spot("sir-3", types.RequestStateClosed)))
	require.NoError(t, l.Register(types.ProvisionRequest{ID: "i-1", Kind: types.RequestKindOnDemand}))

	assert.Equal(t, 2, l.CountByState(ledger.IsLiveSpot))
	assert.Equal(t, 1, l.CountByState(ledger.IsOnDemand))
	assert.Equal(t, []string{"sir-1", "sir-2", "sir-3"}, l.IDs(types.RequestKindSpot))
	assert.Equal(t, []string{"i-1"}, l.IDs(types.RequestKindOnDemand))

	l.Evict("sir-3")
	l.Evict("sir-404")

	assert.Equal(t, 3, l.Len())
	_, ok := l.Get("sir-3")
	assert.False(t, ok)

	list := l.List()
	require.Len(t, list, 3)
	assert.Equal(t, "i-1", list[0].ID, "zero submission time sorts first")
}
