package handlers

import (
	"net/http"
	"strings"

	"github.com/iGETsense/Devil-POOl-sub000/internal/services"
	"github.com/iGETsense/Devil-POOl-sub000/internal/status"
	"github.com/iGETsense/Devil-POOl-sub000/models"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

type TicketHandler struct {
	bookings  *services.BookingService
	validator *services.ValidatorService
}

func NewTicketHandler(bookings *services.BookingService, validator *services.ValidatorService) *TicketHandler {
	return &TicketHandler{bookings: bookings, validator: validator}
}

// CreateManual - box-office booking; one PENDING booking per name
func (h *TicketHandler) CreateManual(e *core.RequestEvent) error {
	var req struct {
		Phone    string          `json:"phone"`
		PassType models.PassType `json:"passType"`
		Operator models.Operator `json:"operator"`
		Names    []string        `json:"names"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	if !req.PassType.Valid() {
		return respondError(e, "TicketHandler.CreateManual()", status.Invalid("passType", "unknown pass type %q", req.PassType))
	}
	if want := req.PassType.GroupSize(); len(req.Names) != want {
		return respondError(e, "TicketHandler.CreateManual()", status.Invalid("names", "%s requires %d names, got %d", req.PassType, want, len(req.Names)))
	}

	inputs := make([]models.BookingInput, len(req.Names))
	for i, name := range req.Names {
		inputs[i] = models.BookingInput{
			FullName: strings.TrimSpace(name),
			Phone:    req.Phone,
			PassType: req.PassType,
			Operator: req.Operator,
		}
	}

	ctx := e.Request.Context()
	var (
		bookings []*models.Booking
		err      error
	)
	if len(inputs) == 1 {
		var b *models.Booking
		if b, err = h.bookings.Create(ctx, inputs[0]); err == nil {
			bookings = []*models.Booking{b}
		}
	} else {
		bookings, err = h.bookings.CreateBatch(ctx, inputs)
	}
	if err != nil {
		return respondError(e, "TicketHandler.CreateManual()", err)
	}
	return e.JSON(http.StatusCreated, map[string]any{"bookings": bookings})
}

// Get - ticket by id
func (h *TicketHandler) Get(e *core.RequestEvent) error {
	b, err := h.bookings.Get(e.Request.Context(), e.Request.PathValue("id"))
	if err != nil {
		return respondError(e, "TicketHandler.Get()", err)
	}
	return e.JSON(http.StatusOK, b)
}

// Lookup - paid tickets for a phone number
func (h *TicketHandler) Lookup(e *core.RequestEvent) error {
	phone := e.Request.URL.Query().Get("phone")
	if len(models.NormalizePhone(phone)) != 9 {
		return respondError(e, "TicketHandler.Lookup()", status.Invalid("phone", "must be a 9-digit number"))
	}

	bookings, err := h.bookings.FindByPhone(e.Request.Context(), phone)
	if err != nil {
		return respondError(e, "TicketHandler.Lookup()", err)
	}
	return e.JSON(http.StatusOK, map[string]any{
		"bookings": bookings,
		"count":    len(bookings),
	})
}

type qrRequest struct {
	QRCode    string `json:"qrCode"`
	Validator string `json:"validator"`
}

// Resolve - find the ticket a scanned payload points at, without using it
func (h *TicketHandler) Resolve(e *core.RequestEvent) error {
	var req qrRequest
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	b, err := h.validator.Resolve(e.Request.Context(), req.QRCode)
	if err != nil {
		return respondError(e, "TicketHandler.Resolve()", err)
	}
	return e.JSON(http.StatusOK, b)
}

// Scan - validate a ticket at the gate
func (h *TicketHandler) Scan(e *core.RequestEvent) error {
	var req qrRequest
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	if req.Validator == "" {
		req.Validator = actorOf(e)
	}

	b, err := h.validator.Validate(e.Request.Context(), req.QRCode, req.Validator)
	if err != nil {
		return respondError(e, "TicketHandler.Scan()", err)
	}
	return e.JSON(http.StatusOK, map[string]any{
		"valid":   true,
		"booking": b,
	})
}
