package providers

import (
	"context"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/brandlens/backend/internal/models"
)

// GA4Client reads daily property reports from the GA4 reporting gateway.
type GA4Client struct {
	c *Client
}

// NewGA4Client creates a GA4 client.
func NewGA4Client(opts Options) *GA4Client {
	return &GA4Client{c: NewClient("ga4", opts)}
}

type ga4TrafficRow struct {
	Date               string  `json:"date"`
	Sessions           int64   `json:"sessions"`
	Users              int64   `json:"totalUsers"`
	NewUsers           int64   `json:"newUsers"`
	Pageviews          int64   `json:"screenPageViews"`
	Conversions        int64   `json:"conversions"`
	BounceRate         float64 `json:"bounceRate"`
	AvgSessionDuration float64 `json:"averageSessionDuration"`
	EngagementRate     float64 `json:"engagementRate"`
}

type ga4DimensionRow struct {
	Date           string  `json:"date"`
	Value          string  `json:"dimensionValue"`
	Sessions       int64   `json:"sessions"`
	Users          int64   `json:"totalUsers"`
	Pageviews      int64   `json:"screenPageViews"`
	BounceRate     float64 `json:"bounceRate"`
	EngagementRate float64 `json:"engagementRate"`
}

func reportQuery(start, end time.Time) url.Values {
	q := url.Values{}
	q.Set("start_date", start.Format(models.DateLayout))
	q.Set("end_date", end.Format(models.DateLayout))
	return q
}

// FetchTraffic returns daily totals for a property. Rows carry no tenant
// scope; the caller's batch supplies it.
func (g *GA4Client) FetchTraffic(ctx context.Context, propertyID string, start, end time.Time) ([]models.TrafficRow, error) {
	raw, err := fetchAll[ga4TrafficRow](ctx, g.c, "/v1/properties/"+url.PathEscape(propertyID)+"/traffic", reportQuery(start, end))
	if err != nil {
		return nil, err
	}
	rows := make([]models.TrafficRow, 0, len(raw))
	for _, r := range raw {
		date, err := parseDate(r.Date)
		if err != nil {
			log.Warn().Err(err).Str("property_id", propertyID).Msg("Skipping GA4 row with bad date")
			continue
		}
		rows = append(rows, models.TrafficRow{
			TenantScope:        models.TenantScope{PropertyID: propertyID},
			Date:               date,
			Sessions:           r.Sessions,
			Users:              r.Users,
			NewUsers:           r.NewUsers,
			Pageviews:          r.Pageviews,
			Conversions:        r.Conversions,
			BounceRate:         r.BounceRate,
			AvgSessionDuration: r.AvgSessionDuration,
			EngagementRate:     r.EngagementRate,
		})
	}
	return keepValid(g.c.name, models.RecordTraffic, rows), nil
}

// FetchDimensions returns daily rows broken down by one dimension.
func (g *GA4Client) FetchDimensions(ctx context.Context, propertyID, dimension string, start, end time.Time) ([]models.DimensionRow, error) {
	q := reportQuery(start, end)
	q.Set("dimension", dimension)
	raw, err := fetchAll[ga4DimensionRow](ctx, g.c, "/v1/properties/"+url.PathEscape(propertyID)+"/dimensions", q)
	if err != nil {
		return nil, err
	}
	rows := make([]models.DimensionRow, 0, len(raw))
	for _, r := range raw {
		date, err := parseDate(r.Date)
		if err != nil {
			log.Warn().Err(err).Str("property_id", propertyID).Msg("Skipping GA4 row with bad date")
			continue
		}
		rows = append(rows, models.DimensionRow{
			TenantScope:    models.TenantScope{PropertyID: propertyID},
			Date:           date,
			Dimension:      dimension,
			Value:          r.Value,
			Sessions:       r.Sessions,
			Users:          r.Users,
			Pageviews:      r.Pageviews,
			BounceRate:     r.BounceRate,
			EngagementRate: r.EngagementRate,
		})
	}
	return keepValid(g.c.name, models.RecordDimensions, rows), nil
}
