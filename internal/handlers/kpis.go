package handlers

import (
	"context"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/brandlens/backend/internal/aggregation"
	"github.com/brandlens/backend/internal/models"
	"github.com/brandlens/backend/internal/types"
)

// KPIReader answers dashboard KPI queries.
type KPIReader interface {
	Compare(ctx context.Context, scope models.TenantScope, propertyID string, start, end time.Time) (*models.KPISnapshot, error)
	Snapshot(ctx context.Context, scope models.TenantScope, propertyID string, end time.Time) (*models.KPISnapshot, error)
	TopDimensions(ctx context.Context, scope models.TenantScope, propertyID, dimension string, start, end time.Time, limit int) ([]aggregation.DimensionTotal, error)
}

// KPIHandler serves reconstructed KPIs.
type KPIHandler struct {
	kpis       KPIReader
	windowDays int
	now        func() time.Time
}

// NewKPIHandler creates a KPI handler. windowDays sizes the default period.
func NewKPIHandler(kpis KPIReader, windowDays int) *KPIHandler {
	if windowDays <= 0 {
		windowDays = 30
	}
	return &KPIHandler{kpis: kpis, windowDays: windowDays, now: time.Now}
}

type kpiQuery struct {
	scope      models.TenantScope
	propertyID string
	start      time.Time
	end        time.Time
	explicit   bool
}

func (h *KPIHandler) parseQuery(c *fiber.Ctx) (kpiQuery, error) {
	var q kpiQuery
	q.propertyID = c.Query("property_id")

	brandID, err := optionalID(c, "brand_id")
	if err != nil {
		return q, err
	}
	clientID, err := optionalID(c, "client_id")
	if err != nil {
		return q, err
	}
	switch {
	case clientID != nil:
		q.scope = models.ClientScope(*clientID, brandID, q.propertyID)
	case brandID != nil:
		q.scope = models.BrandScope(*brandID, q.propertyID)
	default:
		return q, models.ErrInvalidScope
	}

	params := models.SyncParams{StartDate: c.Query("start_date"), EndDate: c.Query("end_date")}
	q.start, q.end, err = params.Window(h.now(), h.windowDays)
	if err != nil {
		return q, err
	}
	q.explicit = params.StartDate != ""
	return q, nil
}

func optionalID(c *fiber.Ctx, key string) (*int64, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return nil, fiber.NewError(fiber.StatusBadRequest, key+" must be a positive integer")
	}
	return &id, nil
}

// GetKPIs returns KPIs for a tenant with the comparison period
// @Summary Get KPIs
// @Description Reconstructs session-weighted KPIs for a client or brand and compares them with the previous period
// @Tags KPIs
// @Produce json
// @Security ApiKeyAuth
// @Param client_id query int false "Client ID"
// @Param brand_id query int false "Brand ID"
// @Param property_id query string false "GA4 property ID"
// @Param start_date query string false "Period start (YYYY-MM-DD)"
// @Param end_date query string false "Period end (YYYY-MM-DD)"
// @Success 200 {object} types.SuccessResponse{data=models.KPISnapshot} "KPI snapshot"
// @Failure 400 {object} types.ErrorResponse "Invalid scope or dates"
// @Failure 404 {object} types.ErrorResponse "No data for the period"
// @Router /api/v1/kpis [get]
func (h *KPIHandler) GetKPIs(c *fiber.Ctx) error {
	q, err := h.parseQuery(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(types.NewError(err.Error(), types.CodeBadRequest))
	}

	var snap *models.KPISnapshot
	if q.explicit {
		snap, err = h.kpis.Compare(c.UserContext(), q.scope, q.propertyID, q.start, q.end)
	} else {
		snap, err = h.kpis.Snapshot(c.UserContext(), q.scope, q.propertyID, q.end)
	}
	if err != nil {
		log.Error().Err(err).Str("tenant", q.scope.Ref()).Msg("Failed to resolve KPIs")
		return c.Status(fiber.StatusInternalServerError).JSON(types.NewError("Failed to resolve KPIs", types.CodeInternal))
	}
	if snap == nil {
		return c.Status(fiber.StatusNotFound).JSON(types.NewError("No analytics data for the period", types.CodeNotFound))
	}

	return c.JSON(types.NewSuccess(snap, ""))
}

// GetTopDimensions ranks the values of one dimension by sessions
// @Summary Get top dimension values
// @Description Ranks page paths, sources, countries or devices by sessions for a tenant
// @Tags KPIs
// @Produce json
// @Security ApiKeyAuth
// @Param dimension path string true "Dimension" Enums(page_path, source, country, device)
// @Param limit query int false "Maximum values (default 10)" Default(10)
// @Success 200 {object} types.SuccessResponse{data=[]aggregation.DimensionTotal} "Dimension values"
// @Failure 400 {object} types.ErrorResponse "Invalid scope, dates or dimension"
// @Router /api/v1/kpis/dimensions/{dimension} [get]
func (h *KPIHandler) GetTopDimensions(c *fiber.Ctx) error {
	dimension := c.Params("dimension")
	switch dimension {
	case models.DimensionPagePath, models.DimensionSource, models.DimensionCountry, models.DimensionDevice:
	default:
		return c.Status(fiber.StatusBadRequest).JSON(types.NewError("unknown dimension "+dimension, types.CodeBadRequest))
	}

	q, err := h.parseQuery(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(types.NewError(err.Error(), types.CodeBadRequest))
	}

	limit := c.QueryInt("limit", 10)
	if limit < 1 || limit > 100 {
		limit = 10
	}

	values, err := h.kpis.TopDimensions(c.UserContext(), q.scope, q.propertyID, dimension, q.start, q.end, limit)
	if err != nil {
		log.Error().Err(err).Str("tenant", q.scope.Ref()).Str("dimension", dimension).Msg("Failed to rank dimension values")
		return c.Status(fiber.StatusInternalServerError).JSON(types.NewError("Failed to rank dimension values", types.CodeInternal))
	}
	if values == nil {
		values = []aggregation.DimensionTotal{}
	}

	return c.JSON(types.NewSuccess(values, ""))
}
