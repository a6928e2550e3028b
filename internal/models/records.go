package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidRecord marks a provider record that failed boundary validation.
var ErrInvalidRecord = errors.New("invalid record")

// RecordType names a family of stored records.
type RecordType string

const (
	RecordBrands     RecordType = "brands"
	RecordPrompts    RecordType = "prompts"
	RecordResponses  RecordType = "responses"
	RecordCampaigns  RecordType = "campaigns"
	RecordTraffic    RecordType = "traffic"
	RecordDimensions RecordType = "dimensions"
	RecordRankings   RecordType = "rankings"
)

// Dimension values accepted on DimensionRow.
const (
	DimensionPagePath = "page_path"
	DimensionSource   = "source"
	DimensionCountry  = "country"
	DimensionDevice   = "device"
)

func invalid(kind, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidRecord, kind, fmt.Sprintf(format, args...))
}

// Brand is a Scrunch AI brand. Keyed by its external id.
type Brand struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Website   string    `json:"website"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (b Brand) Validate() error {
	if b.ID <= 0 {
		return invalid("brand", "id must be positive")
	}
	if b.Name == "" {
		return invalid("brand", "id %d has no name", b.ID)
	}
	return nil
}

// Prompt is a Scrunch AI prompt tracked for a brand.
type Prompt struct {
	ID        int64     `json:"id"`
	BrandID   int64     `json:"brand_id"`
	Text      string    `json:"text"`
	Stage     string    `json:"stage"`
	Persona   string    `json:"persona"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (p Prompt) Validate() error {
	if p.ID <= 0 {
		return invalid("prompt", "id must be positive")
	}
	if p.BrandID <= 0 {
		return invalid("prompt", "id %d has no brand", p.ID)
	}
	if p.Text == "" {
		return invalid("prompt", "id %d has empty text", p.ID)
	}
	return nil
}

// Response is an AI platform answer collected for a prompt.
type Response struct {
	ID           int64     `json:"id"`
	BrandID      int64     `json:"brand_id"`
	PromptID     int64     `json:"prompt_id"`
	Platform     string    `json:"platform"`
	BrandPresent bool      `json:"brand_present"`
	Sentiment    string    `json:"sentiment"`
	Position     *int      `json:"position"`
	Text         string    `json:"text"`
	CollectedAt  time.Time `json:"collected_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (r Response) Validate() error {
	if r.ID <= 0 {
		return invalid("response", "id must be positive")
	}
	if r.BrandID <= 0 || r.PromptID <= 0 {
		return invalid("response", "id %d is missing brand or prompt", r.ID)
	}
	if r.Platform == "" {
		return invalid("response", "id %d has no platform", r.ID)
	}
	return nil
}

// Campaign is an Agency Analytics SEO campaign.
type Campaign struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (c Campaign) Validate() error {
	if c.ID <= 0 {
		return invalid("campaign", "id must be positive")
	}
	return nil
}

// TrafficRow is one day of GA4 property totals for a tenant.
type TrafficRow struct {
	TenantScope
	Date               time.Time `json:"date"`
	Sessions           int64     `json:"sessions"`
	Users              int64     `json:"users"`
	NewUsers           int64     `json:"new_users"`
	Pageviews          int64     `json:"pageviews"`
	Conversions        int64     `json:"conversions"`
	BounceRate         float64   `json:"bounce_rate"`
	AvgSessionDuration float64   `json:"avg_session_duration"`
	EngagementRate     float64   `json:"engagement_rate"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func (r TrafficRow) Validate() error {
	if r.Date.IsZero() {
		return invalid("traffic", "missing date")
	}
	if r.Sessions < 0 || r.Users < 0 || r.Pageviews < 0 {
		return invalid("traffic", "negative volume on %s", r.Date.Format(DateLayout))
	}
	if r.BounceRate < 0 || r.BounceRate > 1 || r.EngagementRate < 0 || r.EngagementRate > 1 {
		return invalid("traffic", "rate out of range on %s", r.Date.Format(DateLayout))
	}
	return nil
}

// DimensionRow is one day of GA4 metrics for a single dimension value.
type DimensionRow struct {
	TenantScope
	Date           time.Time `json:"date"`
	Dimension      string    `json:"dimension"`
	Value          string    `json:"value"`
	Sessions       int64     `json:"sessions"`
	Users          int64     `json:"users"`
	Pageviews      int64     `json:"pageviews"`
	BounceRate     float64   `json:"bounce_rate"`
	EngagementRate float64   `json:"engagement_rate"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (r DimensionRow) Validate() error {
	if r.Date.IsZero() {
		return invalid("dimension", "missing date")
	}
	switch r.Dimension {
	case DimensionPagePath, DimensionSource, DimensionCountry, DimensionDevice:
	default:
		return invalid("dimension", "unknown dimension %q", r.Dimension)
	}
	if r.Sessions < 0 {
		return invalid("dimension", "negative sessions for %s=%s", r.Dimension, r.Value)
	}
	return nil
}

// RankingRow is one day of keyword ranking for an Agency Analytics campaign.
// PropertyID carries the campaign id.
type RankingRow struct {
	TenantScope
	Date         time.Time `json:"date"`
	Keyword      string    `json:"keyword"`
	SearchEngine string    `json:"search_engine"`
	Position     int       `json:"position"`
	SearchVolume int       `json:"search_volume"`
	RankingURL   string    `json:"ranking_url"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (r RankingRow) Validate() error {
	if r.Date.IsZero() {
		return invalid("ranking", "missing date")
	}
	if r.Keyword == "" || r.SearchEngine == "" {
		return invalid("ranking", "missing keyword or search engine on %s", r.Date.Format(DateLayout))
	}
	return nil
}

// RecordBatch is a typed set of records handed to the store in one write.
type RecordBatch interface {
	RecordType() RecordType
	Len() int
}

type BrandBatch []Brand

func (b BrandBatch) RecordType() RecordType { return RecordBrands }
func (b BrandBatch) Len() int               { return len(b) }

type PromptBatch []Prompt

func (b PromptBatch) RecordType() RecordType { return RecordPrompts }
func (b PromptBatch) Len() int               { return len(b) }

type ResponseBatch []Response

func (b ResponseBatch) RecordType() RecordType { return RecordResponses }
func (b ResponseBatch) Len() int               { return len(b) }

type CampaignBatch []Campaign

func (b CampaignBatch) RecordType() RecordType { return RecordCampaigns }
func (b CampaignBatch) Len() int               { return len(b) }

// TrafficBatch replaces daily totals for Scope on every date it contains.
type TrafficBatch struct {
	Scope TenantScope
	Rows  []TrafficRow
}

func (b TrafficBatch) RecordType() RecordType { return RecordTraffic }
func (b TrafficBatch) Len() int               { return len(b.Rows) }

// DimensionBatch replaces dimension rows for Scope on every
// (date, dimension) pair it contains.
type DimensionBatch struct {
	Scope TenantScope
	Rows  []DimensionRow
}

func (b DimensionBatch) RecordType() RecordType { return RecordDimensions }
func (b DimensionBatch) Len() int               { return len(b.Rows) }

// RankingBatch replaces ranking rows for Scope on every date it contains.
type RankingBatch struct {
	Scope TenantScope
	Rows  []RankingRow
}

func (b RankingBatch) RecordType() RecordType { return RecordRankings }
func (b RankingBatch) Len() int               { return len(b.Rows) }

// Dates returns the distinct days present in rows, in first-seen order.
func Dates[T any](rows []T, date func(T) time.Time) []time.Time {
	seen := make(map[time.Time]bool, len(rows))
	var out []time.Time
	for _, r := range rows {
		d := Day(date(r))
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	return out
}
