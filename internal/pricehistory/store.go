package pricehistory

import (
	"sort"

	"github.com/samber/lo"
	"github.com/tqchen/yarn-ec2/pkg/types"
)

// Store keeps a run-length compacted spot price series per zone key.
//
// Only price transitions are kept: a sample carrying the same price as the tail moves the
// tail's timestamp forward instead of growing the series. The oldest sample of a series is
// never rewritten, so Latest always answers with a real point-in-time observation.
//
// Store is not safe for concurrent use; it is owned by the reconciliation loop.
type Store struct {
	series  map[types.ZoneKey][]types.PricePoint
	changed map[types.ZoneKey]struct{}
}

// NewStore creates an empty price history store
func NewStore() *Store {
	return &Store{
		series:  make(map[types.ZoneKey][]types.PricePoint),
		changed: make(map[types.ZoneKey]struct{}),
	}
}

// Record adds a sample to the series of key. Samples not newer than the tail are dropped.
// It reports whether the sample was accepted.
func (s *Store) Record(key types.ZoneKey, point types.PricePoint) bool {
	vec := s.series[key]

	if len(vec) == 0 {
		s.series[key] = []types.PricePoint{point}
		s.changed[key] = struct{}{}
		return true
	}

	tail := vec[len(vec)-1]
	if !point.ObservedAt.After(tail.ObservedAt) {
		return false
	}

	switch {
	case point.Price != tail.Price:
		s.series[key] = append(vec, point)
		s.changed[key] = struct{}{}
	case len(vec) == 1:
		// keep the first sample verbatim, the new one becomes the run tail
		s.series[key] = append(vec, point)
	default:
		vec[len(vec)-1].ObservedAt = point.ObservedAt
	}

	return true
}

// Latest returns the most recent price observed for key
func (s *Store) Latest(key types.ZoneKey) (types.PricePoint, bool) {
	vec := s.series[key]
	if len(vec) == 0 {
		return types.PricePoint{}, false
	}
	return vec[len(vec)-1], true
}

// ChangedKeys returns the keys whose price changed since the previous call, sorted
func (s *Store) ChangedKeys() []types.ZoneKey {
	keys := lo.Keys(s.changed)
	sortKeys(keys)
	s.changed = make(map[types.ZoneKey]struct{})
	return keys
}

// Series returns a copy of the series recorded for key
func (s *Store) Series(key types.ZoneKey) []types.PricePoint {
	vec := s.series[key]
	out := make([]types.PricePoint, len(vec))
	copy(out, vec)
	return out
}

// Keys returns every key with at least one sample, sorted
func (s *Store) Keys() []types.ZoneKey {
	keys := lo.Keys(s.series)
	sortKeys(keys)
	return keys
}

func sortKeys(keys []types.ZoneKey) {
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
}
