package ledger

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/claims", h.SubmitClaim)
	api.GET("/claims/:claimID", h.GetClaim)
	api.GET("/claims/:claimID/remittances", h.ListRemittances)
	api.GET("/claims/:claimID/resubmissions", h.ListResubmissions)
	api.POST("/claims/:claimID/resubmissions", h.AppendResubmission)
	api.POST("/remittances", h.AppendRemittance)
}

// SubmitClaimRequest is the already-parsed form of a claim submission.
// Transport-level file formats are decoded upstream of this API.
type SubmitClaimRequest struct {
	ClaimID      string                   `json:"claim_id"`
	PayerID      string                   `json:"payer_id"`
	ProviderID   string                   `json:"provider_id"`
	MemberID     *string                  `json:"member_id,omitempty"`
	Gross        decimal.Decimal          `json:"gross"`
	PatientShare decimal.Decimal          `json:"patient_share"`
	Net          decimal.Decimal          `json:"net"`
	SubmittedAt  time.Time                `json:"submitted_at"`
	Activities   []SubmitActivityRequest  `json:"activities"`
}

type SubmitActivityRequest struct {
	ActivityID string          `json:"activity_id"`
	StartAt    time.Time       `json:"start_at"`
	Type       string          `json:"type"`
	Code       string          `json:"code"`
	Quantity   decimal.Decimal `json:"quantity"`
	Net        decimal.Decimal `json:"net"`
	Clinician  string          `json:"clinician"`
}

func (h *Handler) SubmitClaim(c echo.Context) error {
	var req SubmitClaimRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	claim := &Claim{
		ClaimID:      req.ClaimID,
		PayerID:      req.PayerID,
		ProviderID:   req.ProviderID,
		MemberID:     req.MemberID,
		Gross:        req.Gross,
		PatientShare: req.PatientShare,
		Net:          req.Net,
		SubmittedAt:  req.SubmittedAt,
	}
	acts := make([]*Activity, 0, len(req.Activities))
	for _, a := range req.Activities {
		acts = append(acts, &Activity{
			ActivityID: a.ActivityID,
			StartAt:    a.StartAt,
			Type:       a.Type,
			Code:       a.Code,
			Quantity:   a.Quantity,
			Net:        a.Net,
			Clinician:  a.Clinician,
		})
	}
	if err := h.svc.SubmitClaim(c.Request().Context(), claim, acts); err != nil {
		if errors.Is(err, ErrDuplicateClaim) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, claim)
}

func (h *Handler) GetClaim(c echo.Context) error {
	id, err := uuid.Parse(c.Param("claimID"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid claim id")
	}
	claim, acts, err := h.svc.GetClaim(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "claim not found")
		}
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"claim":      claim,
		"activities": acts,
	})
}

func (h *Handler) AppendRemittance(c echo.Context) error {
	var batch RemittanceBatch
	if err := c.Bind(&batch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	n, err := h.svc.AppendRemittance(c.Request().Context(), &batch)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"remittance_id": batch.RemittanceID,
		"events":        n,
	})
}

type resubmissionRequest struct {
	Type    string `json:"resubmission_type"`
	Comment string `json:"comment"`
}

func (h *Handler) AppendResubmission(c echo.Context) error {
	id, err := uuid.Parse(c.Param("claimID"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid claim id")
	}
	var req resubmissionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ev, err := h.svc.AppendResubmission(c.Request().Context(), id, req.Type, req.Comment)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "claim not found")
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, ev)
}

func (h *Handler) ListRemittances(c echo.Context) error {
	id, err := uuid.Parse(c.Param("claimID"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid claim id")
	}
	events, err := h.svc.ListRemittanceEvents(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, events)
}

func (h *Handler) ListResubmissions(c echo.Context) error {
	id, err := uuid.Parse(c.Param("claimID"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid claim id")
	}
	events, err := h.svc.ListResubmissions(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, events)
}
