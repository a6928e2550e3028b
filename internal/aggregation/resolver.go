// Package aggregation rebuilds period KPIs from daily rows and decides
// which tenant scope a query is answered from.
package aggregation

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/brandlens/backend/internal/metrics"
	"github.com/brandlens/backend/internal/models"
	"github.com/brandlens/backend/internal/store"
)

// DefaultSharedPropertyRatio is how many times the client's row count the
// property's row count must exceed before the property counts as shared.
const DefaultSharedPropertyRatio = 2.0

// RowSource is the part of the record store the resolver reads.
type RowSource interface {
	CountTrafficRows(ctx context.Context, q store.RowQuery) (int, error)
	ListTrafficRows(ctx context.Context, q store.RowQuery) ([]models.TrafficRow, error)
	ListDimensionRows(ctx context.Context, q store.RowQuery, dimension string) ([]models.DimensionRow, error)
}

// Policy holds the tunables of scope resolution and snapshots.
type Policy struct {
	SharedPropertyRatio float64
	WindowDays          int
}

// Resolver answers KPI queries.
type Resolver struct {
	rows   RowSource
	cache  store.SnapshotCache
	policy Policy
	now    func() time.Time
}

// NewResolver creates a resolver. cache may be nil when snapshots are not used.
func NewResolver(rows RowSource, cache store.SnapshotCache, policy Policy) *Resolver {
	if policy.SharedPropertyRatio <= 0 {
		policy.SharedPropertyRatio = DefaultSharedPropertyRatio
	}
	if policy.WindowDays <= 0 {
		policy.WindowDays = 30
	}
	return &Resolver{rows: rows, cache: cache, policy: policy, now: time.Now}
}

// Aggregate returns KPIs for [start, end], or nil when no rows exist.
func (r *Resolver) Aggregate(ctx context.Context, scope models.TenantScope, propertyID string, start, end time.Time) (*models.KPIValues, error) {
	v, _, err := r.aggregate(ctx, scope, propertyID, start, end)
	return v, err
}

func (r *Resolver) aggregate(ctx context.Context, scope models.TenantScope, propertyID string, start, end time.Time) (*models.KPIValues, models.ScopeMode, error) {
	q, err := r.query(scope, propertyID, start, end)
	if err != nil {
		return nil, "", err
	}
	mode, err := r.resolveMode(ctx, scope, q)
	if err != nil {
		return nil, "", err
	}

	rows, err := r.rows.ListTrafficRows(ctx, narrow(q, scope, mode))
	if err != nil {
		return nil, "", fmt.Errorf("failed to list traffic rows: %w", err)
	}
	if shared(mode) {
		rows = dedupeTraffic(rows, scope)
	}
	if len(rows) == 0 {
		return nil, mode, nil
	}
	v := Summarize(rows)
	return &v, mode, nil
}

// Compare aggregates [start, end] and its comparison window. It returns nil
// when the current period has no rows.
func (r *Resolver) Compare(ctx context.Context, scope models.TenantScope, propertyID string, start, end time.Time) (*models.KPISnapshot, error) {
	current, mode, err := r.aggregate(ctx, scope, propertyID, start, end)
	if err != nil || current == nil {
		return nil, err
	}
	prevStart, prevEnd := ComparisonWindow(start, end)
	previous, _, err := r.aggregate(ctx, scope, propertyID, prevStart, prevEnd)
	if err != nil {
		return nil, err
	}

	if propertyID == "" {
		propertyID = scope.PropertyID
	}
	return &models.KPISnapshot{
		BrandID:       scope.BrandID,
		ClientID:      scope.ClientID,
		PropertyID:    propertyID,
		PeriodStart:   models.Day(start),
		PeriodEnd:     models.Day(end),
		PreviousStart: prevStart,
		PreviousEnd:   prevEnd,
		Mode:          mode,
		Current:       *current,
		Previous:      previous,
		Changes:       Changes(*current, previous),
		ComputedAt:    r.now().UTC(),
	}, nil
}

// RefreshSnapshot recomputes the trailing-window snapshot ending at end and
// overwrites the cached copy.
func (r *Resolver) RefreshSnapshot(ctx context.Context, scope models.TenantScope, propertyID string, end time.Time) (*models.KPISnapshot, error) {
	end = models.Day(end)
	start := end.AddDate(0, 0, -(r.policy.WindowDays - 1))
	snap, err := r.Compare(ctx, scope, propertyID, start, end)
	if err != nil || snap == nil {
		return nil, err
	}
	if r.cache != nil {
		if err := r.cache.SaveKPISnapshot(ctx, *snap); err != nil {
			return nil, fmt.Errorf("failed to save kpi snapshot: %w", err)
		}
	}
	log.Debug().
		Str("tenant", scope.Ref()).
		Str("property_id", snap.PropertyID).
		Str("period_end", end.Format(models.DateLayout)).
		Str("mode", string(snap.Mode)).
		Msg("KPI snapshot refreshed")
	return snap, nil
}

// Snapshot returns the cached snapshot for end, computing it on a miss.
func (r *Resolver) Snapshot(ctx context.Context, scope models.TenantScope, propertyID string, end time.Time) (*models.KPISnapshot, error) {
	if propertyID == "" {
		propertyID = scope.PropertyID
	}
	if r.cache != nil {
		snap, err := r.cache.GetKPISnapshot(ctx, scope.BrandID, propertyID, models.Day(end))
		if err != nil {
			return nil, fmt.Errorf("failed to read kpi snapshot: %w", err)
		}
		if snap != nil && models.EqualID(snap.ClientID, scope.ClientID) {
			return snap, nil
		}
	}
	return r.RefreshSnapshot(ctx, scope, propertyID, end)
}

// DimensionTotal is one value of a dimension rolled up over a period.
type DimensionTotal struct {
	Value          string  `json:"value"`
	Sessions       int64   `json:"sessions"`
	Users          int64   `json:"users"`
	Pageviews      int64   `json:"pageviews"`
	BounceRate     float64 `json:"bounce_rate"`
	EngagementRate float64 `json:"engagement_rate"`
}

// TopDimensions ranks dimension values by sessions over [start, end] using
// the same scope resolution as Aggregate.
func (r *Resolver) TopDimensions(ctx context.Context, scope models.TenantScope, propertyID, dimension string, start, end time.Time, limit int) ([]DimensionTotal, error) {
	q, err := r.query(scope, propertyID, start, end)
	if err != nil {
		return nil, err
	}
	mode, err := r.resolveMode(ctx, scope, q)
	if err != nil {
		return nil, err
	}
	rows, err := r.rows.ListDimensionRows(ctx, narrow(q, scope, mode), dimension)
	if err != nil {
		return nil, fmt.Errorf("failed to list dimension rows: %w", err)
	}
	if shared(mode) {
		rows = dedupeDimensions(rows, scope)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	type acc struct {
		total              DimensionTotal
		bounce, engagement []float64
		weights            []int64
	}
	byValue := map[string]*acc{}
	var order []string
	for _, row := range rows {
		a, ok := byValue[row.Value]
		if !ok {
			a = &acc{total: DimensionTotal{Value: row.Value}}
			byValue[row.Value] = a
			order = append(order, row.Value)
		}
		a.total.Sessions += row.Sessions
		a.total.Users += row.Users
		a.total.Pageviews += row.Pageviews
		a.bounce = append(a.bounce, row.BounceRate)
		a.engagement = append(a.engagement, row.EngagementRate)
		a.weights = append(a.weights, row.Sessions)
	}

	out := make([]DimensionTotal, 0, len(order))
	for _, value := range order {
		a := byValue[value]
		a.total.BounceRate = WeightedAverage(a.bounce, a.weights)
		a.total.EngagementRate = WeightedAverage(a.engagement, a.weights)
		out = append(out, a.total)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Sessions > out[j].Sessions })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *Resolver) query(scope models.TenantScope, propertyID string, start, end time.Time) (store.RowQuery, error) {
	if err := scope.Validate(); err != nil {
		return store.RowQuery{}, err
	}
	if propertyID == "" {
		propertyID = scope.PropertyID
	}
	start, end = models.Day(start), models.Day(end)
	if start.After(end) {
		return store.RowQuery{}, fmt.Errorf("start %s is after end %s", start.Format(models.DateLayout), end.Format(models.DateLayout))
	}
	return store.RowQuery{PropertyID: propertyID, Start: start, End: end}, nil
}

// resolveMode picks the query shape. Client queries fall back to the
// property when the client has no rows and switch to shared-property mode
// when the property holds more than SharedPropertyRatio times the client's
// rows. Brand queries fall back to the property when empty.
func (r *Resolver) resolveMode(ctx context.Context, scope models.TenantScope, q store.RowQuery) (models.ScopeMode, error) {
	mode, err := r.pickMode(ctx, scope, q)
	if err == nil {
		metrics.AggregationScopeMode.WithLabelValues(string(mode)).Inc()
	}
	return mode, err
}

func (r *Resolver) pickMode(ctx context.Context, scope models.TenantScope, q store.RowQuery) (models.ScopeMode, error) {
	if scope.ClientID != nil {
		if q.PropertyID == "" {
			return models.ScopeModeClient, nil
		}
		clientQ := q
		clientQ.ClientID = scope.ClientID
		clientCount, err := r.rows.CountTrafficRows(ctx, clientQ)
		if err != nil {
			return "", fmt.Errorf("failed to count client rows: %w", err)
		}
		if clientCount == 0 {
			return models.ScopeModeProperty, nil
		}
		propertyCount, err := r.rows.CountTrafficRows(ctx, q)
		if err != nil {
			return "", fmt.Errorf("failed to count property rows: %w", err)
		}
		if float64(propertyCount) > r.policy.SharedPropertyRatio*float64(clientCount) {
			return models.ScopeModeShared, nil
		}
		return models.ScopeModeClient, nil
	}

	if q.PropertyID == "" {
		return models.ScopeModeBrand, nil
	}
	brandQ := q
	brandQ.BrandID = scope.BrandID
	brandCount, err := r.rows.CountTrafficRows(ctx, brandQ)
	if err != nil {
		return "", fmt.Errorf("failed to count brand rows: %w", err)
	}
	if brandCount == 0 {
		return models.ScopeModeProperty, nil
	}
	return models.ScopeModeBrand, nil
}

func shared(mode models.ScopeMode) bool {
	return mode == models.ScopeModeShared || mode == models.ScopeModeProperty
}

// narrow applies the scope filter matching mode.
func narrow(q store.RowQuery, scope models.TenantScope, mode models.ScopeMode) store.RowQuery {
	switch mode {
	case models.ScopeModeClient:
		q.ClientID = scope.ClientID
	case models.ScopeModeBrand:
		q.BrandID = scope.BrandID
	}
	return q
}

// prefers reports whether a should win over b as the single row for a key:
// a row matching the caller's scope first, then the most recently written.
func prefers(scope models.TenantScope, a, b models.TenantScope, aAt, bAt time.Time) bool {
	am, bm := matchesCaller(scope, a), matchesCaller(scope, b)
	if am != bm {
		return am
	}
	return aAt.After(bAt)
}

func matchesCaller(scope, row models.TenantScope) bool {
	if scope.ClientID != nil {
		return models.EqualID(scope.ClientID, row.ClientID)
	}
	return models.EqualID(scope.BrandID, row.BrandID)
}

func dedupeTraffic(rows []models.TrafficRow, scope models.TenantScope) []models.TrafficRow {
	best := map[time.Time]int{}
	var out []models.TrafficRow
	for _, row := range rows {
		d := models.Day(row.Date)
		i, ok := best[d]
		if !ok {
			best[d] = len(out)
			out = append(out, row)
			continue
		}
		if prefers(scope, row.TenantScope, out[i].TenantScope, row.UpdatedAt, out[i].UpdatedAt) {
			out[i] = row
		}
	}
	return out
}

func dedupeDimensions(rows []models.DimensionRow, scope models.TenantScope) []models.DimensionRow {
	type key struct {
		date  time.Time
		value string
	}
	best := map[key]int{}
	var out []models.DimensionRow
	for _, row := range rows {
		k := key{models.Day(row.Date), row.Value}
		i, ok := best[k]
		if !ok {
			best[k] = len(out)
			out = append(out, row)
			continue
		}
		if prefers(scope, row.TenantScope, out[i].TenantScope, row.UpdatedAt, out[i].UpdatedAt) {
			out[i] = row
		}
	}
	return out
}
