package telehealth

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/smartfuturesg/modobio-web-sub003/internal/platform/auth"
	"github.com/smartfuturesg/modobio-web-sub003/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	th := api.Group("/telehealth")

	// Reference data and calendars are readable by any authenticated caller.
	th.GET("/time-increments", h.ListTimeIncrements)
	th.GET("/settings/staff/:user_id", h.GetStaffSettings)
	th.GET("/settings/staff/availability/:user_id", h.GetAvailability)
	th.GET("/settings/staff/availability/exceptions/:user_id", h.ListExceptions)

	// Staff edit their own calendar, admin edits anyone's.
	staffWrite := th.Group("", auth.RequireRole(auth.RoleStaff), auth.RequireSelfOrRole("user_id"))
	staffWrite.PUT("/settings/staff/:user_id", h.PutStaffSettings)
	staffWrite.PUT("/settings/staff/availability/:user_id", h.PutAvailability)
	staffWrite.POST("/settings/staff/availability/exceptions/:user_id", h.CreateException)
	staffWrite.DELETE("/settings/staff/availability/exceptions/:user_id/:exception_id", h.DeleteException)

	// Queue pool
	th.POST("/queue/client/:user_id", h.AddToQueue, auth.RequireSelfOrRole("user_id"))
	th.GET("/queue/client/:user_id", h.GetQueueRequest, auth.RequireSelfOrRole("user_id", auth.RoleStaff))
	th.DELETE("/queue/client/:user_id", h.RemoveFromQueue, auth.RequireSelfOrRole("user_id"))
	staffRead := th.Group("", auth.RequireRole(auth.RoleStaff))
	staffRead.GET("/queue", h.ListQueue)
	staffRead.GET("/queue/next", h.NextInQueue)

	th.GET("/client/time-select/:user_id", h.SelectTimes, auth.RequireSelfOrRole("user_id", auth.RoleStaff))

	// Bookings: participant checks happen in the service.
	th.POST("/bookings", h.CreateBooking)
	th.GET("/bookings", h.ListBookings)
	th.GET("/bookings/:id", h.GetBooking)
	th.PUT("/bookings/:id/status", h.UpdateStatus)
	th.GET("/bookings/:id/status-history", h.StatusHistory)
	th.GET("/bookings/:id/payments", h.Payments)
	th.DELETE("/bookings/:id", h.DeleteBooking, auth.RequireRole(auth.RoleAdmin))
}

// httpError maps service errors onto HTTP status codes.
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrNoQueueRequest):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrOverlap), errors.Is(err, ErrSlotUnavailable), errors.Is(err, ErrNoStatusChange):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrSettingsRequired):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrProvider):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
}

func uuidParam(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

func principal(c echo.Context) *auth.Principal {
	return auth.PrincipalFromContext(c.Request().Context())
}

// -- Time increments --

func (h *Handler) ListTimeIncrements(c echo.Context) error {
	items := Increments()
	return c.JSON(http.StatusOK, map[string]interface{}{"items": items, "total": len(items)})
}

// -- Staff settings --

func (h *Handler) GetStaffSettings(c echo.Context) error {
	id, err := uuidParam(c, "user_id")
	if err != nil {
		return err
	}
	st, err := h.svc.GetStaffSettings(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) PutStaffSettings(c echo.Context) error {
	id, err := uuidParam(c, "user_id")
	if err != nil {
		return err
	}
	var st StaffSettings
	if err := c.Bind(&st); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	st.StaffUserID = id
	if err := h.svc.PutStaffSettings(c.Request().Context(), &st); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, st)
}

// -- Weekly availability --

type availabilityRequest struct {
	Windows []AvailabilityWindow `json:"windows"`
}

func (h *Handler) GetAvailability(c echo.Context) error {
	id, err := uuidParam(c, "user_id")
	if err != nil {
		return err
	}
	windows, err := h.svc.GetWeeklyAvailability(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"staff_user_id": id, "windows": windows})
}

func (h *Handler) PutAvailability(c echo.Context) error {
	id, err := uuidParam(c, "user_id")
	if err != nil {
		return err
	}
	var req availabilityRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	windows, err := h.svc.PutWeeklyAvailability(c.Request().Context(), id, req.Windows)
	if err != nil {
		return httpError(err)
	}
	if windows == nil {
		windows = []AvailabilityWindow{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"staff_user_id": id, "windows": windows})
}

// -- Availability exceptions --

type exceptionRequest struct {
	ExceptionDate        string `json:"exception_date"`
	StartTime            string `json:"start_time"`
	EndTime              string `json:"end_time"`
	BookingWindowIDStart int    `json:"exception_booking_window_id_start_time"`
	BookingWindowIDEnd   int    `json:"exception_booking_window_id_end_time"`
	IsBusy               *bool  `json:"is_busy"`
}

func (h *Handler) CreateException(c echo.Context) error {
	id, err := uuidParam(c, "user_id")
	if err != nil {
		return err
	}
	var req exceptionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	e := &AvailabilityException{
		StaffUserID:          id,
		ExceptionDate:        req.ExceptionDate,
		StartTime:            req.StartTime,
		EndTime:              req.EndTime,
		BookingWindowIDStart: req.BookingWindowIDStart,
		BookingWindowIDEnd:   req.BookingWindowIDEnd,
		IsBusy:               req.IsBusy == nil || *req.IsBusy,
	}
	if err := h.svc.CreateException(c.Request().Context(), e); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, e)
}

func (h *Handler) ListExceptions(c echo.Context) error {
	id, err := uuidParam(c, "user_id")
	if err != nil {
		return err
	}
	items, err := h.svc.ListExceptions(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"items": items, "total": len(items)})
}

func (h *Handler) DeleteException(c echo.Context) error {
	staffID, err := uuidParam(c, "user_id")
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "exception_id")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteException(c.Request().Context(), staffID, id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Queue --

func (h *Handler) AddToQueue(c echo.Context) error {
	id, err := uuidParam(c, "user_id")
	if err != nil {
		return err
	}
	var q QueueRequest
	if err := c.Bind(&q); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	q.ClientUserID = id
	if err := h.svc.AddToQueue(c.Request().Context(), &q); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, q)
}

func (h *Handler) GetQueueRequest(c echo.Context) error {
	id, err := uuidParam(c, "user_id")
	if err != nil {
		return err
	}
	q, err := h.svc.GetQueueRequest(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, q)
}

func (h *Handler) RemoveFromQueue(c echo.Context) error {
	id, err := uuidParam(c, "user_id")
	if err != nil {
		return err
	}
	if err := h.svc.RemoveFromQueue(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListQueue(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListQueue(c.Request().Context(), c.QueryParam("profession"), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*QueueRequest{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) NextInQueue(c echo.Context) error {
	q, err := h.svc.NextInQueue(c.Request().Context(), c.QueryParam("profession"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, q)
}

// -- Time selection --

func (h *Handler) SelectTimes(c echo.Context) error {
	id, err := uuidParam(c, "user_id")
	if err != nil {
		return err
	}
	slots, err := h.svc.SelectTimes(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"items": slots, "total": len(slots)})
}

// -- Bookings --

func (h *Handler) CreateBooking(c echo.Context) error {
	var req CreateBookingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p := principal(c)
	if p == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	if !auth.IsSelfOrRole(p, req.ClientUserID.String()) {
		return echo.NewHTTPError(http.StatusForbidden, "clients may only book for themselves")
	}
	uid := p.UserID
	actor := Actor{UserID: &uid, Role: ReporterClient}
	if p.IsAdmin() {
		actor.Role = ReporterAdmin
	}
	b, err := h.svc.CreateBooking(c.Request().Context(), actor, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, b)
}

func parseTimeParam(c echo.Context, name string) (*time.Time, error) {
	v := c.QueryParam(name)
	if v == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return &t, nil
	}
	if t, err := time.Parse(DateLayout, v); err == nil {
		return &t, nil
	}
	return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name+", expected RFC3339 or YYYY-MM-DD")
}

func parseUUIDParam(c echo.Context, name string) (*uuid.UUID, error) {
	v := c.QueryParam(name)
	if v == "" {
		return nil, nil
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return &id, nil
}

func (h *Handler) ListBookings(c echo.Context) error {
	var f BookingFilter
	var err error
	if f.ClientUserID, err = parseUUIDParam(c, "client_user_id"); err != nil {
		return err
	}
	if f.StaffUserID, err = parseUUIDParam(c, "staff_user_id"); err != nil {
		return err
	}
	if f.From, err = parseTimeParam(c, "from"); err != nil {
		return err
	}
	if f.To, err = parseTimeParam(c, "to"); err != nil {
		return err
	}
	f.Status = c.QueryParam("status")

	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListBookings(c.Request().Context(), principal(c), f, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetBooking(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	b, err := h.svc.GetBooking(c.Request().Context(), principal(c), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, b)
}

type statusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Status == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "status is required")
	}
	b, err := h.svc.TransitionBooking(c.Request().Context(), principal(c), id, req.Status, req.Reason)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) StatusHistory(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	items, err := h.svc.StatusHistory(c.Request().Context(), principal(c), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"items": items, "total": len(items)})
}

func (h *Handler) Payments(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	items, err := h.svc.Payments(c.Request().Context(), principal(c), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"items": items, "total": len(items)})
}

func (h *Handler) DeleteBooking(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteBooking(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
