package providers

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/brandlens/backend/internal/models"
)

// AgencyAnalyticsClient reads SEO campaigns and keyword rankings.
type AgencyAnalyticsClient struct {
	c *Client
}

// NewAgencyAnalyticsClient creates an Agency Analytics client.
func NewAgencyAnalyticsClient(opts Options) *AgencyAnalyticsClient {
	return &AgencyAnalyticsClient{c: NewClient("agency_analytics", opts)}
}

type aaCampaign struct {
	ID      int64  `json:"id"`
	Company string `json:"company"`
	URL     string `json:"url"`
	Status  string `json:"status"`
}

type aaRanking struct {
	Date         string `json:"date"`
	Keyword      string `json:"keyword_phrase"`
	SearchEngine string `json:"search_engine"`
	Position     int    `json:"google_ranking"`
	SearchVolume int    `json:"search_volume"`
	RankingURL   string `json:"ranking_url"`
}

// FetchCampaigns returns every campaign of the agency account.
func (a *AgencyAnalyticsClient) FetchCampaigns(ctx context.Context) ([]models.Campaign, error) {
	raw, err := fetchAll[aaCampaign](ctx, a.c, "/v2/campaigns", nil)
	if err != nil {
		return nil, err
	}
	campaigns := make([]models.Campaign, 0, len(raw))
	for _, c := range raw {
		campaigns = append(campaigns, models.Campaign{ID: c.ID, Name: c.Company, URL: c.URL, Status: c.Status})
	}
	return keepValid(a.c.name, models.RecordCampaigns, campaigns), nil
}

// FetchRankings returns daily keyword rankings for a campaign.
func (a *AgencyAnalyticsClient) FetchRankings(ctx context.Context, campaignID int64, start, end time.Time) ([]models.RankingRow, error) {
	id := strconv.FormatInt(campaignID, 10)
	raw, err := fetchAll[aaRanking](ctx, a.c, "/v2/campaigns/"+id+"/rankings", reportQuery(start, end))
	if err != nil {
		return nil, err
	}
	rows := make([]models.RankingRow, 0, len(raw))
	for _, r := range raw {
		date, err := parseDate(r.Date)
		if err != nil {
			log.Warn().Err(err).Int64("campaign_id", campaignID).Msg("Skipping ranking with bad date")
			continue
		}
		rows = append(rows, models.RankingRow{
			TenantScope:  models.TenantScope{PropertyID: id},
			Date:         date,
			Keyword:      r.Keyword,
			SearchEngine: r.SearchEngine,
			Position:     r.Position,
			SearchVolume: r.SearchVolume,
			RankingURL:   r.RankingURL,
		})
	}
	return keepValid(a.c.name, models.RecordRankings, rows), nil
}
