package controller_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tqchen/yarn-ec2/internal/controller"
	"github.com/tqchen/yarn-ec2/pkg/types"
	"github.com/uber-go/tally/v4"
)

const (
	class = "c3.2xlarge"
	zone  = "us-west-2a"
)

var t0 = time.Date(2016, 3, 1, 12, 0, 0, 0, time.UTC)

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) ListPrice(ctx context.Context, instanceClass string) (float64, error) {
	args := m.Called(ctx, instanceClass)
	return args.Get(0).(float64), args.Error(1)
}

func (m *mockGateway) SpotPriceHistory(ctx context.Context, window time.Duration) ([]types.PricePoint, error) {
	args := m.Called(ctx, window)
	points, _ := args.Get(0).([]types.PricePoint)
	return points, args.Error(1)
}

func (m *mockGateway) SubmitSpotBid(ctx context.Context, instanceClass, zone string, price float64, count int) ([]string, error) {
	args := m.Called(ctx, instanceClass, zone, price, count)
	ids, _ := args.Get(0).([]string)
	return ids, args.Error(1)
}

func (m *mockGateway) LaunchOnDemand(ctx context.Context, instanceClass, zone string, count int) ([]string, error) {
	args := m.Called(ctx, instanceClass, zone, count)
	ids, _ := args.Get(0).([]string)
	return ids, args.Error(1)
}

func (m *mockGateway) RequestStates(ctx context.Context, kind types.RequestKind, ids []string) (map[string]types.RequestState, error) {
	args := m.Called(ctx, kind, ids)
	states, _ := args.Get(0).(map[string]types.RequestState)
	return states, args.Error(1)
}

func spotPoint(price float64, offset time.Duration) types.PricePoint {
	return types.PricePoint{
		InstanceClass:    class,
		AvailabilityZone: zone,
		Price:            price,
		ObservedAt:       t0.Add(offset),
	}
}

type harness struct {
	gw     *mockGateway
	ctl    *controller.Controller
	scope  tally.TestScope
	mu     sync.Mutex
	sleeps []time.Duration
}

func newHarness(t *testing.T, desired int, minRatio, maxRatio float64) *harness {
	t.Helper()

	h := &harness{
		gw:    &mockGateway{},
		scope: tally.NewTestScope("", nil),
	}
	logger, _ := test.NewNullLogger()

	cfg := controller.DefaultConfig()
	cfg.PollInterval = 10 * time.Millisecond

	ctl, err := controller.New(cfg, h.gw, types.ClusterTarget{
		DesiredCount:  desired,
		InstanceClass: class,
		MinRatio:      minRatio,
		MaxRatio:      maxRatio,
		StaggerDelay:  20 * time.Second,
	}, &types.Master{InstanceID: "i-master", PrivateDNS: "ip-10-0-0-1", Zone: zone},
		controller.WithLogger(logrus.NewEntry(logger)),
		controller.WithMetrics(h.scope),
		controller.WithClock(func() time.Time { return t0 }),
		controller.WithSleep(func(_ context.Context, d time.Duration) error {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.sleeps = append(h.sleeps, d)
			return nil
		}),
	)
	require.NoError(t, err)
	h.ctl = ctl

	return h
}

func (h *harness) counter(name string) int64 {
	for _, c := range h.scope.Snapshot().Counters() {
		if c.Name() == name {
			return c.Value()
		}
	}
	return 0
}

func TestNew(t *testing.T) {
	target := types.ClusterTarget{DesiredCount: 1, InstanceClass: class, MinRatio: 0.5, MaxRatio: 0.9}

	t.Run("requires a master", func(t *testing.T) {
		_, err := controller.New(nil, &mockGateway{}, target, nil)
		assert.ErrorIs(t, err, controller.ErrNoMaster)
	})

	t.Run("rejects an invalid target", func(t *testing.T) {
		bad := target
		bad.MinRatio = 0.95
		_, err := controller.New(nil, &mockGateway{}, bad, &types.Master{Zone: zone})
		assert.Error(t, err)

		bad = target
		bad.DesiredCount = 0
		_, err = controller.New(nil, &mockGateway{}, bad, &types.Master{Zone: zone})
		assert.Error(t, err)
	})

	t.Run("rejects intervals that are not positive", func(t *testing.T) {
		for _, mutate := range []func(*controller.Config){
			func(c *controller.Config) { c.PollInterval = 0 },
			func(c *controller.Config) { c.CallTimeout = -time.Second },
			func(c *controller.Config) { c.PriceWindow = 0 },
		} {
			cfg := controller.DefaultConfig()
			mutate(cfg)

			_, err := controller.New(cfg, &mockGateway{}, target, &types.Master{Zone: zone})
			require.Error(t, err)
			assert.Contains(t, err.Error(), "validate controller config")
		}
	})

	t.Run("snapshot is available before the first tick", func(t *testing.T) {
		ctl, err := controller.New(nil, &mockGateway{}, target, &types.Master{Zone: zone})
		require.NoError(t, err)

		snap := ctl.Snapshot()
		require.NotNil(t, snap)
		assert.False(t, snap.Ready())
		assert.Equal(t, 1, snap.Shortfall)
		assert.Equal(t, zone, snap.Zone)
	})
}

func TestController_SpotLifecycle(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 1, 0.5, 0.9)

	h.gw.On("SpotPriceHistory", mock.Anything, 10*time.Minute).
		Return([]types.PricePoint{spotPoint(0.4, time.Minute), spotPoint(0.41, 0)}, nil)
	h.gw.On("ListPrice", mock.Anything, class).Return(1.0, nil).Once()
	h.gw.On("SubmitSpotBid", mock.Anything, class, zone, mock.AnythingOfType("float64"), 1).
		Return([]string{"sir-1"}, nil).Once()

	// bootstrap tick tops up the full pool
	report, err := h.ctl.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Shortfall)
	assert.Equal(t, []string{"sir-1"}, report.Submitted)
	assert.Equal(t, []types.ZoneKey{{InstanceClass: class, AvailabilityZone: zone}}, report.ChangedKeys)

	snap := h.ctl.Snapshot()
	assert.True(t, snap.Ready())
	assert.Equal(t, 1, snap.LiveSpot)
	require.Len(t, snap.Requests, 1)
	assert.InDelta(t, 0.9, snap.Requests[0].BidPrice, 1e-9)
	assert.Equal(t, types.RequestStateOpen, snap.Requests[0].State)
	require.Len(t, snap.Prices, 1)
	assert.Equal(t, 0.4, snap.Prices[0].Price, "history is applied in timestamp order")

	t.Run("open to active is one transition without a top-up", func(t *testing.T) {
		h.gw.On("RequestStates", mock.Anything, types.RequestKindSpot, []string{"sir-1"}).
			Return(map[string]types.RequestState{"sir-1": types.RequestStateActive}, nil).Once()

		report, err := h.ctl.Tick(ctx)
		require.NoError(t, err)
		assert.Equal(t, []types.Transition{{
			RequestID: "sir-1",
			Kind:      types.RequestKindSpot,
			From:      types.RequestStateOpen,
			To:        types.RequestStateActive,
		}}, report.Transitions)
		assert.Empty(t, report.Evicted)
		assert.Empty(t, report.Submitted)
		h.gw.AssertNumberOfCalls(t, "SubmitSpotBid", 1)
	})

	t.Run("repeated state is not a transition", func(t *testing.T) {
		h.gw.On("RequestStates", mock.Anything, types.RequestKindSpot, []string{"sir-1"}).
			Return(map[string]types.RequestState{"sir-1": types.RequestStateActive}, nil).Once()

		report, err := h.ctl.Tick(ctx)
		require.NoError(t, err)
		assert.Empty(t, report.Transitions)
	})

	t.Run("active to closed evicts and bids again", func(t *testing.T) {
		h.gw.On("RequestStates", mock.Anything, types.RequestKindSpot, []string{"sir-1"}).
			Return(map[string]types.RequestState{"sir-1": types.RequestStateClosed}, nil).Once()
		h.gw.On("SubmitSpotBid", mock.Anything, class, zone, mock.AnythingOfType("float64"), 1).
			Return([]string{"sir-2"}, nil).Once()

		report, err := h.ctl.Tick(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"sir-1"}, report.Evicted)
		assert.Equal(t, 1, report.Shortfall)
		assert.Equal(t, []string{"sir-2"}, report.Submitted)

		snap := h.ctl.Snapshot()
		require.Len(t, snap.Requests, 1)
		assert.Equal(t, "sir-2", snap.Requests[0].ID)
	})

	h.gw.AssertExpectations(t)
	assert.Equal(t, int64(4), h.counter("ticks"))
	assert.Equal(t, int64(2), h.counter("transitions"))
	assert.Equal(t, int64(1), h.counter("evictions"))
	assert.Equal(t, int64(2), h.counter("spot_bids"))
	assert.Equal(t, int64(0), h.counter("tick_failures"))
}

func TestController_ReadFailure(t *testing.T) {
	ctx := context.Background()

	t.Run("price history failure aborts the tick", func(t *testing.T) {
		h := newHarness(t, 1, 0.5, 0.9)
		h.gw.On("SpotPriceHistory", mock.Anything, mock.Anything).
			Return([]types.PricePoint{spotPoint(0.4, 0)}, nil).Once()
		h.gw.On("ListPrice", mock.Anything, class).Return(1.0, nil)
		h.gw.On("SubmitSpotBid", mock.Anything, class, zone, mock.Anything, 1).
			Return([]string{"sir-1"}, nil).Once()

		_, err := h.ctl.Tick(ctx)
		require.NoError(t, err)
		before := h.ctl.Snapshot()

		h.gw.On("SpotPriceHistory", mock.Anything, mock.Anything).
			Return(nil, errors.New("RequestLimitExceeded")).Once()

		_, err = h.ctl.Tick(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "fetch spot price history")

		after := h.ctl.Snapshot()
		assert.Equal(t, before.Requests, after.Requests)
		assert.Equal(t, before.Prices, after.Prices)
		assert.Contains(t, after.LastError, "RequestLimitExceeded")
		assert.Equal(t, int64(1), h.counter("tick_failures"))
		h.gw.AssertNotCalled(t, "RequestStates", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("state failure leaves the ledger untouched", func(t *testing.T) {
		h := newHarness(t, 1, 0.5, 0.9)
		h.gw.On("SpotPriceHistory", mock.Anything, mock.Anything).
			Return([]types.PricePoint{spotPoint(0.4, 0)}, nil)
		h.gw.On("ListPrice", mock.Anything, class).Return(1.0, nil)
		h.gw.On("SubmitSpotBid", mock.Anything, class, zone, mock.Anything, 1).
			Return([]string{"sir-1"}, nil).Once()

		_, err := h.ctl.Tick(ctx)
		require.NoError(t, err)

		h.gw.On("RequestStates", mock.Anything, types.RequestKindSpot, []string{"sir-1"}).
			Return(nil, errors.New("timeout")).Once()

		report, err := h.ctl.Tick(ctx)
		require.Error(t, err)
		assert.Empty(t, report.Transitions)

		snap := h.ctl.Snapshot()
		require.Len(t, snap.Requests, 1)
		assert.Equal(t, types.RequestStateOpen, snap.Requests[0].State)
		h.gw.AssertNumberOfCalls(t, "SubmitSpotBid", 1)
	})
}

func TestController_SubmitFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 2, 0.5, 0.9)

	h.gw.On("SpotPriceHistory", mock.Anything, mock.Anything).
		Return([]types.PricePoint{spotPoint(0.4, 0)}, nil)
	h.gw.On("ListPrice", mock.Anything, class).Return(1.0, nil)
	h.gw.On("SubmitSpotBid", mock.Anything, class, zone, mock.Anything, 1).
		Return([]string{"sir-1"}, nil).Once()
	h.gw.On("SubmitSpotBid", mock.Anything, class, zone, mock.Anything, 1).
		Return(nil, errors.New("MaxSpotInstanceCountExceeded")).Once()

	report, err := h.ctl.Tick(ctx)
	require.Error(t, err)
	assert.Equal(t, []string{"sir-1"}, report.Submitted, "bids placed before the failure stay registered")
	assert.Equal(t, 1, h.ctl.Snapshot().LiveSpot)
	assert.Equal(t, int64(1), h.counter("submit_failures"))

	// no transition or eviction happens, the recheck alone triggers the top-up
	h.gw.On("RequestStates", mock.Anything, types.RequestKindSpot, []string{"sir-1"}).
		Return(map[string]types.RequestState{"sir-1": types.RequestStateOpen}, nil).Once()
	h.gw.On("SubmitSpotBid", mock.Anything, class, zone, mock.Anything, 1).
		Return([]string{"sir-2"}, nil).Once()

	report, err = h.ctl.Tick(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Transitions)
	assert.Equal(t, 1, report.Shortfall)
	assert.Equal(t, []string{"sir-2"}, report.Submitted)

	// pool is full, nothing more is submitted
	h.gw.On("RequestStates", mock.Anything, types.RequestKindSpot, []string{"sir-1", "sir-2"}).
		Return(map[string]types.RequestState{"sir-1": types.RequestStateOpen, "sir-2": types.RequestStateOpen}, nil).Once()

	report, err = h.ctl.Tick(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Submitted)
	h.gw.AssertNumberOfCalls(t, "SubmitSpotBid", 3)
}

func TestController_StaggersSpotBids(t *testing.T) {
	h := newHarness(t, 3, 0.5, 0.9)

	h.gw.On("SpotPriceHistory", mock.Anything, mock.Anything).
		Return([]types.PricePoint{spotPoint(0.4, 0)}, nil)
	h.gw.On("ListPrice", mock.Anything, class).Return(1.0, nil)
	for _, id := range []string{"sir-1", "sir-2", "sir-3"} {
		h.gw.On("SubmitSpotBid", mock.Anything, class, zone, mock.Anything, 1).
			Return([]string{id}, nil).Once()
	}

	report, err := h.ctl.Tick(context.Background())
	require.NoError(t, err)
	assert.Len(t, report.Submitted, 3)
	assert.Equal(t, []time.Duration{20 * time.Second, 20 * time.Second}, h.sleeps)

	prices := make([]float64, 0, 3)
	for _, req := range h.ctl.Snapshot().Requests {
		prices = append(prices, req.BidPrice)
	}
	sort.Float64s(prices)
	require.Len(t, prices, 3)
	for i, want := range []float64{0.5 + 0.4/3, 0.5 + 0.8/3, 0.9} {
		assert.InDelta(t, want, prices[i], 1e-9)
	}
}

func TestController_OnDemandFallback(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 3, 0.85, 0.9)

	h.gw.On("SpotPriceHistory", mock.Anything, mock.Anything).
		Return([]types.PricePoint{spotPoint(0.4, 0)}, nil)
	h.gw.On("ListPrice", mock.Anything, class).Return(1.0, nil)
	h.gw.On("LaunchOnDemand", mock.Anything, class, zone, 3).
		Return([]string{"i-1", "i-2", "i-3"}, nil).Once()

	report, err := h.ctl.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"i-1", "i-2", "i-3"}, report.Submitted)
	assert.Empty(t, h.sleeps)

	snap := h.ctl.Snapshot()
	assert.Equal(t, 3, snap.OnDemand)
	assert.Equal(t, 0, snap.Shortfall)
	assert.Len(t, snap.RequestsOfKind(types.RequestKindOnDemand), 3)

	h.gw.On("RequestStates", mock.Anything, types.RequestKindOnDemand, []string{"i-1", "i-2", "i-3"}).
		Return(map[string]types.RequestState{
			"i-1": types.RequestStateRunning,
			"i-2": types.RequestStateRunning,
			"i-3": types.RequestStatePending,
		}, nil).Once()

	report, err = h.ctl.Tick(ctx)
	require.NoError(t, err)
	assert.Len(t, report.Transitions, 2)
	assert.Empty(t, report.Evicted, "on-demand launches are never evicted")
	h.gw.AssertNotCalled(t, "SubmitSpotBid", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, int64(3), h.counter("ondemand_launches"))
}

func TestController_PurgedOnDemandInstance(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 2, 0.5, 0.9)

	h.gw.On("SpotPriceHistory", mock.Anything, mock.Anything).
		Return([]types.PricePoint{spotPoint(0.4, 0)}, nil).Once()
	h.gw.On("SpotPriceHistory", mock.Anything, mock.Anything).
		Return([]types.PricePoint{spotPoint(0.95, time.Minute)}, nil)
	h.gw.On("ListPrice", mock.Anything, class).Return(1.0, nil)
	h.gw.On("SubmitSpotBid", mock.Anything, class, zone, mock.Anything, 1).
		Return([]string{"sir-1"}, nil).Once()
	h.gw.On("SubmitSpotBid", mock.Anything, class, zone, mock.Anything, 1).
		Return([]string{"sir-2"}, nil).Once()

	_, err := h.ctl.Tick(ctx)
	require.NoError(t, err)

	// spot now trades above the band, the replacement goes on-demand
	h.gw.On("RequestStates", mock.Anything, types.RequestKindSpot, []string{"sir-1", "sir-2"}).
		Return(map[string]types.RequestState{"sir-1": types.RequestStateClosed, "sir-2": types.RequestStateOpen}, nil).Once()
	h.gw.On("LaunchOnDemand", mock.Anything, class, zone, 1).
		Return([]string{"i-1"}, nil).Once()

	report, err := h.ctl.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"i-1"}, report.Submitted)

	// i-1 has been terminated and purged, EC2 no longer reports it
	h.gw.On("RequestStates", mock.Anything, types.RequestKindSpot, []string{"sir-2"}).
		Return(map[string]types.RequestState{"sir-2": types.RequestStateClosed}, nil).Once()
	h.gw.On("RequestStates", mock.Anything, types.RequestKindOnDemand, []string{"i-1"}).
		Return(map[string]types.RequestState{}, nil)
	h.gw.On("LaunchOnDemand", mock.Anything, class, zone, 1).
		Return([]string{"i-2"}, nil).Once()

	report, err = h.ctl.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"sir-2"}, report.Evicted)
	assert.Equal(t, []string{"i-2"}, report.Submitted)

	snap := h.ctl.Snapshot()
	assert.Equal(t, 0, snap.LiveSpot)
	assert.Equal(t, 2, snap.OnDemand)
	assert.Equal(t, 0, snap.Shortfall)
	assert.Equal(t, int64(0), h.counter("tick_failures"))
	h.gw.AssertExpectations(t)
}

func TestController_Start(t *testing.T) {
	h := newHarness(t, 1, 0.5, 0.9)

	h.gw.On("SpotPriceHistory", mock.Anything, mock.Anything).
		Return([]types.PricePoint{spotPoint(0.4, 0)}, nil)
	h.gw.On("ListPrice", mock.Anything, class).Return(1.0, nil)
	h.gw.On("SubmitSpotBid", mock.Anything, class, zone, mock.Anything, 1).
		Return([]string{"sir-1"}, nil).Once()
	h.gw.On("RequestStates", mock.Anything, types.RequestKindSpot, []string{"sir-1"}).
		Return(map[string]types.RequestState{"sir-1": types.RequestStateActive}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- h.ctl.Start(ctx)
	}()

	require.Eventually(t, func() bool {
		return h.ctl.Snapshot().Ticks >= 3
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("controller did not stop")
	}

	h.gw.AssertNumberOfCalls(t, "SubmitSpotBid", 1)
	assert.Equal(t, 1, h.ctl.Snapshot().LiveSpot)
}
