// Package store defines the record store contract shared by the PostgreSQL
// and in-memory backends, plus the dedup helpers both of them use.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/brandlens/backend/internal/models"
)

// ErrUnsupportedBatch is returned by Upsert for an unknown batch variant.
var ErrUnsupportedBatch = errors.New("unsupported record batch")

// Writer is the write side of the record store. Each call is one batch:
// it commits fully or not at all.
type Writer interface {
	UpsertBrands(ctx context.Context, brands []models.Brand) (int, error)
	UpsertPrompts(ctx context.Context, prompts []models.Prompt) (int, error)
	UpsertResponses(ctx context.Context, responses []models.Response) (int, error)
	UpsertCampaigns(ctx context.Context, campaigns []models.Campaign) (int, error)
	ReplaceTrafficRows(ctx context.Context, batch models.TrafficBatch) (int, error)
	ReplaceDimensionRows(ctx context.Context, batch models.DimensionBatch) (int, error)
	ReplaceRankingRows(ctx context.Context, batch models.RankingBatch) (int, error)
}

// RowQuery selects daily rows. Nil ids and an empty PropertyID are wildcards.
type RowQuery struct {
	BrandID    *int64
	ClientID   *int64
	PropertyID string
	Start      time.Time
	End        time.Time
}

// Reader is the read side used by the orchestrator and the aggregation resolver.
type Reader interface {
	ListBrands(ctx context.Context) ([]models.Brand, error)
	ListCampaigns(ctx context.Context) ([]models.Campaign, error)
	ListPropertyBindings(ctx context.Context, clientID *int64) ([]models.PropertyBinding, error)
	CountTrafficRows(ctx context.Context, q RowQuery) (int, error)
	ListTrafficRows(ctx context.Context, q RowQuery) ([]models.TrafficRow, error)
	ListDimensionRows(ctx context.Context, q RowQuery, dimension string) ([]models.DimensionRow, error)
}

// SnapshotCache persists derived KPI snapshots.
type SnapshotCache interface {
	SaveKPISnapshot(ctx context.Context, snap models.KPISnapshot) error
	GetKPISnapshot(ctx context.Context, brandID *int64, propertyID string, periodEnd time.Time) (*models.KPISnapshot, error)
}

// Store is the full record store.
type Store interface {
	Writer
	Reader
	SnapshotCache
}

// Upsert writes a typed batch through the matching Writer method and
// returns the number of rows written.
func Upsert(ctx context.Context, w Writer, batch models.RecordBatch) (int, error) {
	if batch == nil || batch.Len() == 0 {
		return 0, nil
	}

	switch b := batch.(type) {
	case models.BrandBatch:
		return w.UpsertBrands(ctx, b)
	case models.PromptBatch:
		return w.UpsertPrompts(ctx, b)
	case models.ResponseBatch:
		return w.UpsertResponses(ctx, b)
	case models.CampaignBatch:
		return w.UpsertCampaigns(ctx, b)
	case models.TrafficBatch:
		return w.ReplaceTrafficRows(ctx, b)
	case models.DimensionBatch:
		return w.ReplaceDimensionRows(ctx, b)
	case models.RankingBatch:
		return w.ReplaceRankingRows(ctx, b)
	}
	return 0, fmt.Errorf("%w: %T", ErrUnsupportedBatch, batch)
}
