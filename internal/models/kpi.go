package models

import "time"

// KPIValues are period-level metrics rebuilt from daily rows. Rates are
// session-weighted.
type KPIValues struct {
	Sessions           int64   `json:"sessions"`
	Users              int64   `json:"users"`
	NewUsers           int64   `json:"new_users"`
	Pageviews          int64   `json:"pageviews"`
	Conversions        int64   `json:"conversions"`
	BounceRate         float64 `json:"bounce_rate"`
	AvgSessionDuration float64 `json:"avg_session_duration"`
	EngagementRate     float64 `json:"engagement_rate"`
	Days               int     `json:"days"`
}

// ScopeMode records which query shape produced an aggregate.
type ScopeMode string

const (
	ScopeModeClient   ScopeMode = "client"
	ScopeModeShared   ScopeMode = "shared_property"
	ScopeModeProperty ScopeMode = "property_fallback"
	ScopeModeBrand    ScopeMode = "brand"
)

// KPISnapshot is the cached comparison for a tenant property at a period end.
type KPISnapshot struct {
	BrandID       *int64             `json:"brand_id"`
	ClientID      *int64             `json:"client_id"`
	PropertyID    string             `json:"property_id"`
	PeriodStart   time.Time          `json:"period_start_date"`
	PeriodEnd     time.Time          `json:"period_end_date"`
	PreviousStart time.Time          `json:"previous_start_date"`
	PreviousEnd   time.Time          `json:"previous_end_date"`
	Mode          ScopeMode          `json:"mode"`
	Current       KPIValues          `json:"current"`
	Previous      *KPIValues         `json:"previous"`
	Changes       map[string]float64 `json:"changes"`
	ComputedAt    time.Time          `json:"computed_at"`
}

// PropertyBinding links a client to its external analytics properties.
type PropertyBinding struct {
	ClientID      int64  `json:"client_id"`
	Name          string `json:"name"`
	BrandID       *int64 `json:"brand_id"`
	GA4PropertyID string `json:"ga4_property_id"`
	AACampaignID  *int64 `json:"aa_campaign_id"`
}

// Scope returns the tenant scope the binding writes GA4 rows under.
func (b PropertyBinding) Scope() TenantScope {
	return ClientScope(b.ClientID, b.BrandID, b.GA4PropertyID)
}
