package template

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/LashaKh/MediMind-Expert-1.0-sub008/pkg/pagination"
)

type Handler struct {
	gw     Gateway
	logger zerolog.Logger
}

func NewHandler(gw Gateway, logger zerolog.Logger) *Handler {
	return &Handler{gw: gw, logger: logger}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/templates")
	g.GET("", h.List)
	g.POST("", h.Create)
	g.GET("/stats", h.Stats)
	g.POST("/check", h.Check)
	g.GET("/:id", h.Get)
	g.GET("/:id/instruction", h.Instruction)
	g.PATCH("/:id", h.Update)
	g.DELETE("/:id", h.Delete)
	g.POST("/:id/usage", h.RecordUsage)
}

// listResponse is a ListResult plus the page it covers.
type listResponse struct {
	ListResult
	pagination.Page
}

type checkRequest struct {
	Structure string `json:"structure"`
}

type checkResponse struct {
	LooksMedical bool `json:"looks_medical"`
}

type instructionResponse struct {
	ID          uuid.UUID `json:"id"`
	Instruction string    `json:"instruction"`
}

// httpError turns a taxonomy error into the REST error response.
func (h *Handler) httpError(c echo.Context, err error) error {
	var te *Error
	if !errors.As(err, &te) {
		te = NewConnectionError(err)
	}
	status := HTTPStatus(te.Kind)
	if status >= http.StatusInternalServerError {
		h.logger.Error().Err(err).Str("path", c.Path()).Msg("template request failed")
	}
	return echo.NewHTTPError(status, errorBody{Code: te.Kind, Message: te.UserMessage(), Fields: te.Fields})
}

func (h *Handler) caller(c echo.Context) (uuid.UUID, error) {
	id, err := CallerFromContext(c.Request().Context())
	if err != nil {
		return uuid.Nil, h.httpError(c, err)
	}
	return id, nil
}

func (h *Handler) idParam(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, h.httpError(c, NewValidationError(FieldError{Field: "id", Message: "id must be a UUID"}))
	}
	return id, nil
}

func (h *Handler) bind(c echo.Context, dst interface{}) error {
	if err := c.Bind(dst); err != nil {
		return h.httpError(c, NewValidationError(FieldError{Field: "body", Message: "request body is not valid JSON"}))
	}
	return nil
}

func (h *Handler) List(c echo.Context) error {
	owner, err := h.caller(c)
	if err != nil {
		return err
	}
	p := pagination.FromContext(c)
	filters := SearchFilters{
		Search:    c.QueryParam("search"),
		OrderBy:   SortField(c.QueryParam("order_by")),
		Direction: SortDirection(c.QueryParam("order_direction")),
		Limit:     p.Limit,
		Offset:    p.Offset,
	}
	res, err := h.gw.List(c.Request().Context(), owner, filters)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, listResponse{ListResult: *res, Page: pagination.NewPage(p, res.MatchCount)})
}

func (h *Handler) Stats(c echo.Context) error {
	owner, err := h.caller(c)
	if err != nil {
		return err
	}
	st, err := h.gw.Stats(c.Request().Context(), owner)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, st)
}

// Check reports whether structure text looks like a medical report. It is
// advisory and never blocks a create.
func (h *Handler) Check(c echo.Context) error {
	var req checkRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, checkResponse{LooksMedical: LooksMedical(req.Structure)})
}

func (h *Handler) Get(c echo.Context) error {
	id, err := h.idParam(c)
	if err != nil {
		return err
	}
	t, err := h.gw.Get(c.Request().Context(), id)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) Instruction(c echo.Context) error {
	id, err := h.idParam(c)
	if err != nil {
		return err
	}
	t, err := h.gw.Get(c.Request().Context(), id)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, instructionResponse{ID: t.ID, Instruction: ComposeInstruction(*t)})
}

func (h *Handler) Create(c echo.Context) error {
	owner, err := h.caller(c)
	if err != nil {
		return err
	}
	var req CreateRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}
	t, err := h.gw.Create(c.Request().Context(), owner, req)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) Update(c echo.Context) error {
	id, err := h.idParam(c)
	if err != nil {
		return err
	}
	var req UpdateRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}
	t, err := h.gw.Update(c.Request().Context(), id, req)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := h.idParam(c)
	if err != nil {
		return err
	}
	if err := h.gw.Delete(c.Request().Context(), id); err != nil {
		return h.httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) RecordUsage(c echo.Context) error {
	id, err := h.idParam(c)
	if err != nil {
		return err
	}
	res, err := h.gw.RecordUsage(c.Request().Context(), id)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}
