package aggregation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandlens/backend/internal/models"
	"github.com/brandlens/backend/internal/store/memstore"
)

var feb1 = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

func seedTraffic(t *testing.T, s *memstore.Store, scope models.TenantScope, from time.Time, days int, sessions int64) {
	t.Helper()
	rows := make([]models.TrafficRow, days)
	for i := range rows {
		rows[i] = models.TrafficRow{
			Date:       from.AddDate(0, 0, i),
			Sessions:   sessions,
			Users:      sessions / 2,
			BounceRate: 0.4,
		}
	}
	_, err := s.ReplaceTrafficRows(context.Background(), models.TrafficBatch{Scope: scope, Rows: rows})
	require.NoError(t, err)
}

func TestWeightedAverage(t *testing.T) {
	got := WeightedAverage([]float64{0.5, 0.1}, []int64{100, 300})
	assert.InDelta(t, 0.2, got, 1e-9)

	assert.Equal(t, 0.0, WeightedAverage([]float64{0.5}, []int64{0}))
	assert.Equal(t, 0.0, WeightedAverage(nil, nil))
}

func TestSummarizeWeightsRatesBySessions(t *testing.T) {
	rows := []models.TrafficRow{
		{Date: feb1, Sessions: 100, BounceRate: 0.5, EngagementRate: 0.5, AvgSessionDuration: 60},
		{Date: feb1.AddDate(0, 0, 1), Sessions: 300, BounceRate: 0.1, EngagementRate: 0.9, AvgSessionDuration: 20},
	}
	v := Summarize(rows)
	assert.Equal(t, int64(400), v.Sessions)
	assert.InDelta(t, 0.2, v.BounceRate, 1e-9)
	assert.InDelta(t, 0.8, v.EngagementRate, 1e-9)
	assert.InDelta(t, 30, v.AvgSessionDuration, 1e-9)
	assert.Equal(t, 2, v.Days)
}

func TestComparisonWindow(t *testing.T) {
	tests := []struct {
		name      string
		start     time.Time
		end       time.Time
		wantStart time.Time
		wantEnd   time.Time
	}{
		{
			name:      "leap february",
			start:     feb1,
			end:       time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC),
			wantStart: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "single day",
			start:     feb1,
			end:       feb1,
			wantStart: time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, e := ComparisonWindow(tt.start, tt.end)
			assert.Equal(t, tt.wantStart, s)
			assert.Equal(t, tt.wantEnd, e)
			assert.Equal(t, tt.end.Sub(tt.start), e.Sub(s))
		})
	}
}

func TestChangePercent(t *testing.T) {
	assert.Equal(t, 50.0, ChangePercent(150, 100))
	assert.Equal(t, -25.0, ChangePercent(75, 100))
	assert.Equal(t, 0.0, ChangePercent(10, 0))
}

func TestAggregateNoDoubleCountingAcrossClients(t *testing.T) {
	s := memstore.New()
	seedTraffic(t, s, models.ClientScope(5, models.Int64(1), "P123"), feb1, 30, 10)
	seedTraffic(t, s, models.ClientScope(9, models.Int64(2), "P123"), feb1, 30, 10)

	r := NewResolver(s, s, Policy{})
	v, err := r.Aggregate(context.Background(), models.ClientScope(5, nil, "P123"), "P123", feb1, feb1.AddDate(0, 0, 29))
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, int64(300), v.Sessions)
	assert.Equal(t, 30, v.Days)
}

func TestAggregateSharedPropertyDedupes(t *testing.T) {
	s := memstore.New()
	seedTraffic(t, s, models.ClientScope(5, models.Int64(1), "P123"), feb1, 10, 7)
	seedTraffic(t, s, models.ClientScope(9, models.Int64(2), "P123"), feb1, 30, 10)
	seedTraffic(t, s, models.ClientScope(11, models.Int64(3), "P123"), feb1, 30, 10)

	r := NewResolver(s, s, Policy{})
	snap, err := r.Compare(context.Background(), models.ClientScope(5, nil, "P123"), "P123", feb1, feb1.AddDate(0, 0, 29))
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, models.ScopeModeShared, snap.Mode)
	// One row per date; the caller's own rows win on the first 10 days.
	assert.Equal(t, int64(10*7+20*10), snap.Current.Sessions)
	assert.Equal(t, 30, snap.Current.Days)
}

func TestAggregateAtExactlyRatioStaysStrict(t *testing.T) {
	s := memstore.New()
	seedTraffic(t, s, models.ClientScope(5, models.Int64(1), "P123"), feb1, 10, 7)
	seedTraffic(t, s, models.ClientScope(9, models.Int64(2), "P123"), feb1, 10, 10)

	r := NewResolver(s, s, Policy{SharedPropertyRatio: 2})
	snap, err := r.Compare(context.Background(), models.ClientScope(5, nil, "P123"), "P123", feb1, feb1.AddDate(0, 0, 9))
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, models.ScopeModeClient, snap.Mode)
	assert.Equal(t, int64(70), snap.Current.Sessions)
}

func TestAggregateFallsBackToProperty(t *testing.T) {
	s := memstore.New()
	seedTraffic(t, s, models.ClientScope(9, models.Int64(2), "P123"), feb1, 5, 10)
	seedTraffic(t, s, models.ClientScope(11, models.Int64(3), "P123"), feb1, 5, 10)

	r := NewResolver(s, s, Policy{})
	end := feb1.AddDate(0, 0, 4)

	clientSnap, err := r.Compare(context.Background(), models.ClientScope(12, nil, "P123"), "P123", feb1, end)
	require.NoError(t, err)
	require.NotNil(t, clientSnap)
	assert.Equal(t, models.ScopeModeProperty, clientSnap.Mode)
	assert.Equal(t, int64(50), clientSnap.Current.Sessions)

	brandSnap, err := r.Compare(context.Background(), models.BrandScope(99, "P123"), "P123", feb1, end)
	require.NoError(t, err)
	require.NotNil(t, brandSnap)
	assert.Equal(t, models.ScopeModeProperty, brandSnap.Mode)
	assert.Equal(t, int64(50), brandSnap.Current.Sessions)
}

func TestAggregateBrandScope(t *testing.T) {
	s := memstore.New()
	seedTraffic(t, s, models.BrandScope(1, "P9"), feb1, 3, 4)
	seedTraffic(t, s, models.BrandScope(2, "P9"), feb1, 3, 100)

	r := NewResolver(s, s, Policy{})
	v, err := r.Aggregate(context.Background(), models.BrandScope(1, "P9"), "", feb1, feb1.AddDate(0, 0, 2))
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, int64(12), v.Sessions)
}

func TestAggregateNoRowsReturnsNil(t *testing.T) {
	s := memstore.New()
	r := NewResolver(s, s, Policy{})
	v, err := r.Aggregate(context.Background(), models.ClientScope(5, nil, "P123"), "P123", feb1, feb1)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestAggregateRejectsEmptyScope(t *testing.T) {
	s := memstore.New()
	r := NewResolver(s, s, Policy{})
	_, err := r.Aggregate(context.Background(), models.TenantScope{PropertyID: "P1"}, "P1", feb1, feb1)
	assert.ErrorIs(t, err, models.ErrInvalidScope)
}

func TestCompareComputesChanges(t *testing.T) {
	s := memstore.New()
	scope := models.ClientScope(5, models.Int64(1), "P123")
	// Previous window Jan 3..Jan 31 at 10/day, current Feb at 15/day.
	seedTraffic(t, s, scope, time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), 29, 10)
	seedTraffic(t, s, scope, feb1, 29, 15)

	r := NewResolver(s, s, Policy{})
	snap, err := r.Compare(context.Background(), scope, "P123", feb1, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NotNil(t, snap)
	require.NotNil(t, snap.Previous)
	assert.Equal(t, int64(290), snap.Previous.Sessions)
	assert.Equal(t, int64(435), snap.Current.Sessions)
	assert.InDelta(t, 50, snap.Changes["sessions"], 1e-9)
	assert.Equal(t, 0.0, snap.Changes["bounce_rate"])
}

func TestRefreshSnapshotIsCached(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	scope := models.ClientScope(5, models.Int64(1), "P123")
	seedTraffic(t, s, scope, feb1, 7, 10)

	r := NewResolver(s, s, Policy{WindowDays: 7})
	end := feb1.AddDate(0, 0, 6)
	snap, err := r.RefreshSnapshot(ctx, scope, "P123", end)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, feb1, snap.PeriodStart)

	cached, err := s.GetKPISnapshot(ctx, scope.BrandID, "P123", end)
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, int64(70), cached.Current.Sessions)

	// Overwrite with more data and refresh again: same key, new values.
	seedTraffic(t, s, scope, feb1, 7, 20)
	_, err = r.RefreshSnapshot(ctx, scope, "P123", end)
	require.NoError(t, err)
	cached, _ = s.GetKPISnapshot(ctx, scope.BrandID, "P123", end)
	assert.Equal(t, int64(140), cached.Current.Sessions)

	got, err := r.Snapshot(ctx, scope, "P123", end)
	require.NoError(t, err)
	assert.Equal(t, int64(140), got.Current.Sessions)
}

func TestTopDimensions(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	scope := models.ClientScope(5, models.Int64(1), "P123")
	seedTraffic(t, s, scope, feb1, 2, 10)
	_, err := s.ReplaceDimensionRows(ctx, models.DimensionBatch{Scope: scope, Rows: []models.DimensionRow{
		{Date: feb1, Dimension: models.DimensionPagePath, Value: "/pricing", Sessions: 100, BounceRate: 0.5},
		{Date: feb1.AddDate(0, 0, 1), Dimension: models.DimensionPagePath, Value: "/pricing", Sessions: 300, BounceRate: 0.1},
		{Date: feb1, Dimension: models.DimensionPagePath, Value: "/blog", Sessions: 50},
		{Date: feb1, Dimension: models.DimensionPagePath, Value: "/about", Sessions: 10},
	}})
	require.NoError(t, err)

	r := NewResolver(s, s, Policy{})
	top, err := r.TopDimensions(ctx, scope, "P123", models.DimensionPagePath, feb1, feb1.AddDate(0, 0, 1), 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "/pricing", top[0].Value)
	assert.Equal(t, int64(400), top[0].Sessions)
	assert.InDelta(t, 0.2, top[0].BounceRate, 1e-9)
	assert.Equal(t, "/blog", top[1].Value)
}
