package store

import (
	"strconv"
	"time"

	"github.com/brandlens/backend/internal/models"
)

// DedupeLast collapses items sharing a key, keeping the last occurrence
// at the position of the first.
func DedupeLast[K comparable, T any](items []T, key func(T) K) []T {
	index := make(map[K]int, len(items))
	out := make([]T, 0, len(items))
	for _, it := range items {
		k := key(it)
		if i, ok := index[k]; ok {
			out[i] = it
			continue
		}
		index[k] = len(out)
		out = append(out, it)
	}
	return out
}

// Partition splits items into those whose key is absent from existing
// (inserts) and those already stored (updates).
func Partition[K comparable, T any](items []T, key func(T) K, existing map[K]bool) (inserts, updates []T) {
	for _, it := range items {
		if existing[key(it)] {
			updates = append(updates, it)
		} else {
			inserts = append(inserts, it)
		}
	}
	return inserts, updates
}

// Keys extracts the natural keys of items.
func Keys[K comparable, T any](items []T, key func(T) K) []K {
	out := make([]K, len(items))
	for i, it := range items {
		out[i] = key(it)
	}
	return out
}

// DailyKey is the natural key of a daily row: brand, property, date and
// an optional dimension pair. A nil brand is a distinct value of its own.
type DailyKey struct {
	Brand      string
	PropertyID string
	Date       time.Time
	Dimension  string
	Value      string
}

func brandKey(id *int64) string {
	if id == nil {
		return "-"
	}
	return strconv.FormatInt(*id, 10)
}

func TrafficKey(r models.TrafficRow) DailyKey {
	return DailyKey{Brand: brandKey(r.BrandID), PropertyID: r.PropertyID, Date: models.Day(r.Date)}
}

func DimensionKey(r models.DimensionRow) DailyKey {
	return DailyKey{Brand: brandKey(r.BrandID), PropertyID: r.PropertyID, Date: models.Day(r.Date), Dimension: r.Dimension, Value: r.Value}
}

func RankingKey(r models.RankingRow) DailyKey {
	return DailyKey{Brand: brandKey(r.BrandID), PropertyID: r.PropertyID, Date: models.Day(r.Date), Dimension: r.SearchEngine, Value: r.Keyword}
}

// PrepareTraffic stamps the batch scope onto every row, truncates dates
// and dedupes on the natural key.
func PrepareTraffic(b models.TrafficBatch) ([]models.TrafficRow, error) {
	if err := b.Scope.Validate(); err != nil {
		return nil, err
	}
	rows := make([]models.TrafficRow, len(b.Rows))
	for i, r := range b.Rows {
		r.TenantScope = b.Scope
		r.Date = models.Day(r.Date)
		rows[i] = r
	}
	return DedupeLast(rows, TrafficKey), nil
}

// PrepareDimensions is PrepareTraffic for dimension rows.
func PrepareDimensions(b models.DimensionBatch) ([]models.DimensionRow, error) {
	if err := b.Scope.Validate(); err != nil {
		return nil, err
	}
	rows := make([]models.DimensionRow, len(b.Rows))
	for i, r := range b.Rows {
		r.TenantScope = b.Scope
		r.Date = models.Day(r.Date)
		rows[i] = r
	}
	return DedupeLast(rows, DimensionKey), nil
}

// PrepareRankings is PrepareTraffic for ranking rows.
func PrepareRankings(b models.RankingBatch) ([]models.RankingRow, error) {
	if err := b.Scope.Validate(); err != nil {
		return nil, err
	}
	rows := make([]models.RankingRow, len(b.Rows))
	for i, r := range b.Rows {
		r.TenantScope = b.Scope
		r.Date = models.Day(r.Date)
		rows[i] = r
	}
	return DedupeLast(rows, RankingKey), nil
}

// DimensionDay is a (date, dimension) pair replaced as a unit.
type DimensionDay struct {
	Date      time.Time
	Dimension string
}

// DimensionDays lists the distinct (date, dimension) pairs of rows.
func DimensionDays(rows []models.DimensionRow) []DimensionDay {
	return DedupeLast(Keys(rows, func(r models.DimensionRow) DimensionDay {
		return DimensionDay{Date: r.Date, Dimension: r.Dimension}
	}), func(d DimensionDay) DimensionDay { return d })
}
