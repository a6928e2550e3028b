package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/brandlens/backend/internal/models"
	"github.com/brandlens/backend/internal/store"
)

func upsertByID[T any](items []T, id func(T) int64, table map[int64]T, stamp func(*T)) int {
	items = store.DedupeLast(items, id)
	existing := make(map[int64]bool, len(items))
	for _, k := range store.Keys(items, id) {
		if _, ok := table[k]; ok {
			existing[k] = true
		}
	}
	inserts, updates := store.Partition(items, id, existing)
	for _, group := range [][]T{inserts, updates} {
		for _, it := range group {
			stamp(&it)
			table[id(it)] = it
		}
	}
	return len(items)
}

func (s *Store) UpsertBrands(_ context.Context, brands []models.Brand) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	return upsertByID(brands, func(b models.Brand) int64 { return b.ID }, s.brands,
		func(b *models.Brand) { b.UpdatedAt = now }), nil
}

func (s *Store) UpsertPrompts(_ context.Context, prompts []models.Prompt) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	return upsertByID(prompts, func(p models.Prompt) int64 { return p.ID }, s.prompts,
		func(p *models.Prompt) { p.UpdatedAt = now }), nil
}

func (s *Store) UpsertResponses(_ context.Context, responses []models.Response) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	return upsertByID(responses, func(r models.Response) int64 { return r.ID }, s.responses,
		func(r *models.Response) { r.UpdatedAt = now }), nil
}

func (s *Store) UpsertCampaigns(_ context.Context, campaigns []models.Campaign) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	return upsertByID(campaigns, func(c models.Campaign) int64 { return c.ID }, s.campaigns,
		func(c *models.Campaign) { c.UpdatedAt = now }), nil
}

// replaceDaily deletes every row sharing a replace unit with the incoming
// rows, then inserts them.
func replaceDaily[T any](table map[store.DailyKey]T, rows []T, key func(T) store.DailyKey, unit func(store.DailyKey) store.DailyKey, stamp func(*T)) int {
	units := make(map[store.DailyKey]bool, len(rows))
	for _, r := range rows {
		units[unit(key(r))] = true
	}
	for k := range table {
		if units[unit(k)] {
			delete(table, k)
		}
	}
	for _, r := range rows {
		stamp(&r)
		table[key(r)] = r
	}
	return len(rows)
}

func dayUnit(k store.DailyKey) store.DailyKey {
	return store.DailyKey{Brand: k.Brand, PropertyID: k.PropertyID, Date: k.Date}
}

func dimensionUnit(k store.DailyKey) store.DailyKey {
	return store.DailyKey{Brand: k.Brand, PropertyID: k.PropertyID, Date: k.Date, Dimension: k.Dimension}
}

func (s *Store) ReplaceTrafficRows(_ context.Context, batch models.TrafficBatch) (int, error) {
	rows, err := store.PrepareTraffic(batch)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	return replaceDaily(s.traffic, rows, store.TrafficKey, dayUnit,
		func(r *models.TrafficRow) { r.UpdatedAt = now }), nil
}

func (s *Store) ReplaceDimensionRows(_ context.Context, batch models.DimensionBatch) (int, error) {
	rows, err := store.PrepareDimensions(batch)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	return replaceDaily(s.dims, rows, store.DimensionKey, dimensionUnit,
		func(r *models.DimensionRow) { r.UpdatedAt = now }), nil
}

func (s *Store) ReplaceRankingRows(_ context.Context, batch models.RankingBatch) (int, error) {
	rows, err := store.PrepareRankings(batch)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	return replaceDaily(s.rankings, rows, store.RankingKey, dayUnit,
		func(r *models.RankingRow) { r.UpdatedAt = now }), nil
}

// Reads

func (s *Store) ListBrands(_ context.Context) ([]models.Brand, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedByID(s.brands, func(b models.Brand) int64 { return b.ID }), nil
}

func (s *Store) ListCampaigns(_ context.Context) ([]models.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedByID(s.campaigns, func(c models.Campaign) int64 { return c.ID }), nil
}

// Prompts returns the stored prompts for a brand.
func (s *Store) Prompts(brandID int64) []models.Prompt {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Prompt
	for _, p := range sortedByID(s.prompts, func(p models.Prompt) int64 { return p.ID }) {
		if p.BrandID == brandID {
			out = append(out, p)
		}
	}
	return out
}

// Responses returns every stored response.
func (s *Store) Responses() []models.Response {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedByID(s.responses, func(r models.Response) int64 { return r.ID })
}

// RankingRows returns every stored ranking row ordered by date and keyword.
func (s *Store) RankingRows() []models.RankingRow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.RankingRow, 0, len(s.rankings))
	for _, r := range s.rankings {
		out = append(out, r)
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].Date.Equal(out[b].Date) {
			return out[a].Date.Before(out[b].Date)
		}
		return out[a].Keyword < out[b].Keyword
	})
	return out
}

// AddPropertyBinding registers a client property binding.
func (s *Store) AddPropertyBinding(b models.PropertyBinding) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bindings = append(s.bindings, b)
}

func (s *Store) ListPropertyBindings(_ context.Context, clientID *int64) ([]models.PropertyBinding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.PropertyBinding
	for _, b := range s.bindings {
		if clientID != nil && b.ClientID != *clientID {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

func matches(scope models.TenantScope, date time.Time, q store.RowQuery) bool {
	if q.BrandID != nil && !models.EqualID(scope.BrandID, q.BrandID) {
		return false
	}
	if q.ClientID != nil && !models.EqualID(scope.ClientID, q.ClientID) {
		return false
	}
	if q.PropertyID != "" && scope.PropertyID != q.PropertyID {
		return false
	}
	if !q.Start.IsZero() && date.Before(models.Day(q.Start)) {
		return false
	}
	if !q.End.IsZero() && date.After(models.Day(q.End)) {
		return false
	}
	return true
}

func (s *Store) CountTrafficRows(_ context.Context, q store.RowQuery) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, r := range s.traffic {
		if matches(r.TenantScope, r.Date, q) {
			n++
		}
	}
	return n, nil
}

func (s *Store) ListTrafficRows(_ context.Context, q store.RowQuery) ([]models.TrafficRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.TrafficRow
	for _, r := range s.traffic {
		if matches(r.TenantScope, r.Date, q) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Date.Before(out[b].Date) })
	return out, nil
}

func (s *Store) ListDimensionRows(_ context.Context, q store.RowQuery, dimension string) ([]models.DimensionRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.DimensionRow
	for _, r := range s.dims {
		if r.Dimension == dimension && matches(r.TenantScope, r.Date, q) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].Date.Equal(out[b].Date) {
			return out[a].Date.Before(out[b].Date)
		}
		return out[a].Value < out[b].Value
	})
	return out, nil
}

// Snapshots

func keyOf(brandID *int64, propertyID string, end time.Time) snapshotKey {
	k := snapshotKey{property: propertyID, end: models.Day(end)}
	if brandID != nil {
		k.brand, k.hasBrand = *brandID, true
	}
	return k
}

func (s *Store) SaveKPISnapshot(_ context.Context, snap models.KPISnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[keyOf(snap.BrandID, snap.PropertyID, snap.PeriodEnd)] = snap
	return nil
}

func (s *Store) GetKPISnapshot(_ context.Context, brandID *int64, propertyID string, periodEnd time.Time) (*models.KPISnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[keyOf(brandID, propertyID, periodEnd)]
	if !ok {
		return nil, nil
	}
	return &snap, nil
}

func sortedByID[T any](table map[int64]T, id func(T) int64) []T {
	out := make([]T, 0, len(table))
	for _, v := range table {
		out = append(out, v)
	}
	sort.Slice(out, func(a, b int) bool { return id(out[a]) < id(out[b]) })
	return out
}
