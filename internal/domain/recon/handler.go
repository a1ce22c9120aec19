package recon

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/recon/recon/pkg/pagination"
)

// Handler exposes the derived aggregates to rollup consumers and the
// administrative recompute surface. Consumers read only ActivitySummary
// and ClaimPayment records; no reconciliation logic lives here.
type Handler struct {
	svc  *Service
	coor *Coordinator
}

func NewHandler(svc *Service, coor *Coordinator) *Handler {
	return &Handler{svc: svc, coor: coor}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/activities/:activityID/summary", h.GetActivitySummary)
	api.GET("/claims/:claimID/payment", h.GetClaimPayment)
	api.GET("/claims/:claimID/summaries", h.ListActivitySummaries)
	api.GET("/claim-payments", h.ListClaimPayments)
	api.POST("/admin/recompute", h.Recompute)
}

func (h *Handler) GetActivitySummary(c echo.Context) error {
	id, err := uuid.Parse(c.Param("activityID"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid activity id")
	}
	sum, err := h.svc.GetActivitySummary(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "activity summary not found")
		}
		return err
	}
	return c.JSON(http.StatusOK, sum)
}

func (h *Handler) GetClaimPayment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("claimID"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid claim id")
	}
	payment, err := h.svc.GetClaimPayment(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "claim payment not found")
		}
		return err
	}
	return c.JSON(http.StatusOK, payment)
}

func (h *Handler) ListActivitySummaries(c echo.Context) error {
	id, err := uuid.Parse(c.Param("claimID"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid claim id")
	}
	sums, err := h.svc.ListActivitySummaries(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sums)
}

func (h *Handler) ListClaimPayments(c echo.Context) error {
	p := pagination.FromContext(c)
	filter := ClaimPaymentFilter{
		Status:  PaymentStatus(c.QueryParam("status")),
		PayerID: c.QueryParam("payer_id"),
	}
	if v := c.QueryParam("settled_after"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid settled_after")
		}
		filter.SettledAfter = &t
	}
	if v := c.QueryParam("settled_before"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid settled_before")
		}
		filter.SettledBefore = &t
	}
	payments, total, err := h.svc.ListClaimPayments(c.Request().Context(), filter, p.Limit, p.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(payments, total, p.Limit, p.Offset))
}

type recomputeRequest struct {
	All     bool       `json:"all"`
	Since   *time.Time `json:"since,omitempty"`
	ClaimID *uuid.UUID `json:"claim_id,omitempty"`
}

// Recompute is the administrative rebuild entry point: full rebuild,
// incremental catch-up since a date, or a single claim. All three re-run
// the same deterministic derivation.
func (h *Handler) Recompute(c echo.Context) error {
	var req recomputeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	switch {
	case req.ClaimID != nil:
		if h.coor != nil {
			h.coor.MarkStale(*req.ClaimID)
			return c.JSON(http.StatusAccepted, map[string]interface{}{"scheduled": 1})
		}
		if err := h.svc.RecomputeClaim(ctx, *req.ClaimID); err != nil {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		}
		return c.JSON(http.StatusOK, map[string]interface{}{"recomputed": 1})
	case req.Since != nil:
		n, err := h.svc.RecomputeSince(ctx, *req.Since)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, map[string]interface{}{"recomputed": n})
	case req.All:
		n, err := h.svc.RecomputeAll(ctx)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, map[string]interface{}{"recomputed": n})
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "one of all, since or claim_id is required")
	}
}
