package providers

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/brandlens/backend/internal/models"
)

// ScrunchClient reads brands, prompts and AI responses from Scrunch AI.
type ScrunchClient struct {
	c *Client
}

// NewScrunchClient creates a Scrunch AI client.
func NewScrunchClient(opts Options) *ScrunchClient {
	return &ScrunchClient{c: NewClient("scrunch", opts)}
}

type scrunchBrand struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Website string `json:"website"`
}

type scrunchPrompt struct {
	ID      int64  `json:"id"`
	BrandID int64  `json:"brand_id"`
	Text    string `json:"text"`
	Stage   string `json:"stage"`
	Persona string `json:"persona"`
}

type scrunchResponse struct {
	ID           int64  `json:"id"`
	BrandID      int64  `json:"brand_id"`
	PromptID     int64  `json:"prompt_id"`
	Platform     string `json:"platform"`
	BrandPresent bool   `json:"brand_present"`
	Sentiment    string `json:"brand_sentiment"`
	Position     *int   `json:"brand_position"`
	Text         string `json:"response_text"`
	CreatedAt    string `json:"created_at"`
}

// FetchBrands returns every brand visible to the API key.
func (s *ScrunchClient) FetchBrands(ctx context.Context) ([]models.Brand, error) {
	raw, err := fetchAll[scrunchBrand](ctx, s.c, "/v1/brands", nil)
	if err != nil {
		return nil, err
	}
	brands := make([]models.Brand, 0, len(raw))
	for _, b := range raw {
		brands = append(brands, models.Brand{ID: b.ID, Name: b.Name, Website: b.Website})
	}
	return keepValid(s.c.name, models.RecordBrands, brands), nil
}

// FetchPrompts returns the prompts tracked for a brand.
func (s *ScrunchClient) FetchPrompts(ctx context.Context, brandID int64) ([]models.Prompt, error) {
	raw, err := fetchAll[scrunchPrompt](ctx, s.c, fmt.Sprintf("/v1/brands/%d/prompts", brandID), nil)
	if err != nil {
		return nil, err
	}
	prompts := make([]models.Prompt, 0, len(raw))
	for _, p := range raw {
		if p.BrandID == 0 {
			p.BrandID = brandID
		}
		prompts = append(prompts, models.Prompt{
			ID:      p.ID,
			BrandID: p.BrandID,
			Text:    p.Text,
			Stage:   p.Stage,
			Persona: p.Persona,
		})
	}
	return keepValid(s.c.name, models.RecordPrompts, prompts), nil
}

// FetchResponses returns AI responses for a brand collected since the
// given time. A zero since fetches everything.
func (s *ScrunchClient) FetchResponses(ctx context.Context, brandID int64, since time.Time) ([]models.Response, error) {
	q := url.Values{}
	if !since.IsZero() {
		q.Set("start_date", since.Format(models.DateLayout))
	}
	raw, err := fetchAll[scrunchResponse](ctx, s.c, "/v1/brands/"+strconv.FormatInt(brandID, 10)+"/responses", q)
	if err != nil {
		return nil, err
	}
	responses := make([]models.Response, 0, len(raw))
	for _, r := range raw {
		if r.BrandID == 0 {
			r.BrandID = brandID
		}
		responses = append(responses, models.Response{
			ID:           r.ID,
			BrandID:      r.BrandID,
			PromptID:     r.PromptID,
			Platform:     r.Platform,
			BrandPresent: r.BrandPresent,
			Sentiment:    r.Sentiment,
			Position:     r.Position,
			Text:         r.Text,
			CollectedAt:  parseTimestamp(r.CreatedAt),
		})
	}
	return keepValid(s.c.name, models.RecordResponses, responses), nil
}
