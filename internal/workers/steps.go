package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/brandlens/backend/internal/jobs"
	"github.com/brandlens/backend/internal/models"
)

func counts(rt models.RecordType, n int) map[models.RecordType]int {
	return map[models.RecordType]int{rt: n}
}

// brandEntities fetches the brand list once and writes it as one batch.
func (o *Orchestrator) brandEntities(ctx context.Context, r *syncRun) ([]entity, error) {
	brands, err := o.Scrunch.FetchBrands(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch brands: %w", err)
	}
	if r.params.BrandID != nil {
		filtered := brands[:0]
		for _, b := range brands {
			if b.ID == *r.params.BrandID {
				filtered = append(filtered, b)
			}
		}
		brands = filtered
	}

	return []entity{{
		id: "brands",
		run: func(ctx context.Context) (map[models.RecordType]int, error) {
			n, err := o.write(ctx, models.BrandBatch(brands))
			if err != nil {
				return nil, err
			}
			return counts(models.RecordBrands, n), nil
		},
	}}, nil
}

// brandIDs returns the requested brand or every stored brand.
func (o *Orchestrator) brandIDs(ctx context.Context, r *syncRun) ([]int64, error) {
	if r.params.BrandID != nil {
		return []int64{*r.params.BrandID}, nil
	}
	brands, err := o.Store.ListBrands(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list brands: %w", err)
	}
	ids := make([]int64, len(brands))
	for i, b := range brands {
		ids[i] = b.ID
	}
	return ids, nil
}

func (o *Orchestrator) promptEntities(ctx context.Context, r *syncRun) ([]entity, error) {
	ids, err := o.brandIDs(ctx, r)
	if err != nil {
		return nil, err
	}
	out := make([]entity, len(ids))
	for i, brandID := range ids {
		out[i] = entity{
			id: "brand:" + idString(brandID),
			run: func(ctx context.Context) (map[models.RecordType]int, error) {
				prompts, err := o.Scrunch.FetchPrompts(ctx, brandID)
				if err != nil {
					return nil, fmt.Errorf("brand %d: failed to fetch prompts: %w", brandID, err)
				}
				n, err := o.write(ctx, models.PromptBatch(prompts))
				if err != nil {
					return nil, fmt.Errorf("brand %d: %w", brandID, err)
				}
				return counts(models.RecordPrompts, n), nil
			},
		}
	}
	return out, nil
}

func (o *Orchestrator) responseEntities(ctx context.Context, r *syncRun) ([]entity, error) {
	ids, err := o.brandIDs(ctx, r)
	if err != nil {
		return nil, err
	}
	var since time.Time
	if r.params.Mode == models.SyncModeIncremental {
		since = r.start
	}

	out := make([]entity, len(ids))
	for i, brandID := range ids {
		out[i] = entity{
			id: "brand:" + idString(brandID),
			run: func(ctx context.Context) (map[models.RecordType]int, error) {
				responses, err := o.Scrunch.FetchResponses(ctx, brandID, since)
				if err != nil {
					return nil, fmt.Errorf("brand %d: failed to fetch responses: %w", brandID, err)
				}
				n, err := o.write(ctx, models.ResponseBatch(responses))
				if err != nil {
					return nil, fmt.Errorf("brand %d: %w", brandID, err)
				}
				return counts(models.RecordResponses, n), nil
			},
		}
	}
	return out, nil
}

// ga4Entities fans out over every client bound to a GA4 property.
func (o *Orchestrator) ga4Entities(ctx context.Context, r *syncRun) ([]entity, error) {
	bindings, err := o.Store.ListPropertyBindings(ctx, r.params.ClientID)
	if err != nil {
		return nil, fmt.Errorf("failed to list property bindings: %w", err)
	}

	var out []entity
	for _, b := range bindings {
		if b.GA4PropertyID == "" {
			continue
		}
		if r.params.BrandID != nil && !models.EqualID(b.BrandID, r.params.BrandID) {
			continue
		}
		out = append(out, entity{
			id: fmt.Sprintf("client:%d/property:%s", b.ClientID, b.GA4PropertyID),
			run: func(ctx context.Context) (map[models.RecordType]int, error) {
				return o.syncProperty(ctx, r, b)
			},
		})
	}
	return out, nil
}

// syncProperty replaces the daily totals and dimension rows of one binding
// for the sync window, then refreshes its KPI snapshot.
func (o *Orchestrator) syncProperty(ctx context.Context, r *syncRun, b models.PropertyBinding) (map[models.RecordType]int, error) {
	scope := b.Scope()
	written := map[models.RecordType]int{}

	traffic, err := o.GA4.FetchTraffic(ctx, b.GA4PropertyID, r.start, r.end)
	if err != nil {
		return nil, fmt.Errorf("property %s: failed to fetch traffic: %w", b.GA4PropertyID, err)
	}
	n, err := o.write(ctx, models.TrafficBatch{Scope: scope, Rows: traffic})
	if err != nil {
		return nil, fmt.Errorf("property %s: %w", b.GA4PropertyID, err)
	}
	written[models.RecordTraffic] = n

	for _, dim := range o.Dimensions {
		if o.cancelled(ctx, r.jobID) {
			return written, jobs.ErrCancelled
		}
		rows, err := o.GA4.FetchDimensions(ctx, b.GA4PropertyID, dim, r.start, r.end)
		if err != nil {
			return nil, fmt.Errorf("property %s: failed to fetch %s rows: %w", b.GA4PropertyID, dim, err)
		}
		n, err := o.write(ctx, models.DimensionBatch{Scope: scope, Rows: rows})
		if err != nil {
			return nil, fmt.Errorf("property %s: %w", b.GA4PropertyID, err)
		}
		written[models.RecordDimensions] += n
	}

	if o.KPIs != nil && len(traffic) > 0 {
		jobs.BestEffort("kpi_snapshot", func() error {
			_, err := o.KPIs.RefreshSnapshot(ctx, scope, b.GA4PropertyID, r.end)
			return err
		})
	}
	return written, nil
}

// campaignEntities fetches the campaign list once and writes it as one batch.
func (o *Orchestrator) campaignEntities(ctx context.Context, _ *syncRun) ([]entity, error) {
	campaigns, err := o.AA.FetchCampaigns(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch campaigns: %w", err)
	}
	return []entity{{
		id: "campaigns",
		run: func(ctx context.Context) (map[models.RecordType]int, error) {
			n, err := o.write(ctx, models.CampaignBatch(campaigns))
			if err != nil {
				return nil, err
			}
			return counts(models.RecordCampaigns, n), nil
		},
	}}, nil
}

// rankingEntities fans out over every client bound to a campaign.
func (o *Orchestrator) rankingEntities(ctx context.Context, r *syncRun) ([]entity, error) {
	bindings, err := o.Store.ListPropertyBindings(ctx, r.params.ClientID)
	if err != nil {
		return nil, fmt.Errorf("failed to list property bindings: %w", err)
	}

	var out []entity
	for _, b := range bindings {
		if b.AACampaignID == nil {
			continue
		}
		if r.params.BrandID != nil && !models.EqualID(b.BrandID, r.params.BrandID) {
			continue
		}
		campaignID := *b.AACampaignID
		scope := models.ClientScope(b.ClientID, b.BrandID, idString(campaignID))
		out = append(out, entity{
			id: fmt.Sprintf("client:%d/campaign:%d", b.ClientID, campaignID),
			run: func(ctx context.Context) (map[models.RecordType]int, error) {
				rows, err := o.AA.FetchRankings(ctx, campaignID, r.start, r.end)
				if err != nil {
					return nil, fmt.Errorf("campaign %d: failed to fetch rankings: %w", campaignID, err)
				}
				n, err := o.write(ctx, models.RankingBatch{Scope: scope, Rows: rows})
				if err != nil {
					return nil, fmt.Errorf("campaign %d: %w", campaignID, err)
				}
				return counts(models.RecordRankings, n), nil
			},
		})
	}
	return out, nil
}
