package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/metamax/dashboard/internal/core/domain"
)

type DashboardHandler struct{}

func NewDashboardHandler() *DashboardHandler {
	return &DashboardHandler{}
}

// campaignSummary holds the dashboard headline numbers. Campaign data is not
// wired yet, so every metric is zero.
type campaignSummary struct {
	TotalCampaigns  int     `json:"total_campaigns"`
	ActiveCampaigns int     `json:"active_campaigns"`
	TotalSpend      float64 `json:"total_spend"`
	Impressions     int64   `json:"impressions"`
	Clicks          int64   `json:"clicks"`
	CTR             float64 `json:"ctr"`
}

type summaryResponse struct {
	User    *domain.Identity `json:"user"`
	Summary campaignSummary  `json:"summary"`
}

// Summary returns the signed-in user's campaign summary.
//
// @Summary      Dashboard summary
// @Tags         dashboard
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  summaryResponse
// @Failure      401  {object}  errorBody
// @Router       /api/dashboard/summary [get]
func (h *DashboardHandler) Summary(c echo.Context) error {
	identity, err := ctxIdentity(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, summaryResponse{User: identity})
}
