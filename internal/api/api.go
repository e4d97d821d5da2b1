// Package api exposes the operator HTTP API: runtime settings, line
// registration and inspection, and crossover latch resets.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"TrendSentinel/internal/checker"
	"TrendSentinel/internal/collector"
	"TrendSentinel/internal/model"
	"TrendSentinel/internal/recorder"
	"TrendSentinel/internal/trendline"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

var validate = validator.New()

type Handler struct {
	store   recorder.Recorder
	checker *checker.Checker
}

func NewHandler(store recorder.Recorder, chk *checker.Checker) *Handler {
	return &Handler{store: store, checker: chk}
}

// Router builds the gin engine with all routes.
func (h *Handler) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().Format(time.RFC3339)})
	})

	api := router.Group("/api")
	api.GET("/vibration-point", h.GetVibrationPoint)
	api.PUT("/vibration-point", h.SetVibrationPoint)
	api.GET("/span-pairs", h.GetSpanPairs)
	api.PUT("/span-pairs", h.SetSpanPairs)
	api.GET("/lines", h.ListLines)
	api.POST("/lines", h.RegisterLines)
	api.GET("/lines/:id", h.GetLine)
	api.GET("/lines/:id/checks", h.ListChecks)
	api.POST("/checks/:id/crossover/reset", h.ResetCrossover)
	api.GET("/sweeps", h.LastSweeps)
	return router
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("http request")
	}
}

func abort(c *gin.Context, status int, err error) {
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func idParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

type vibrationBody struct {
	Value decimal.Decimal `json:"value"`
}

func (h *Handler) GetVibrationPoint(c *gin.Context) {
	v, err := h.store.VibrationPoint(c.Request.Context())
	if err != nil {
		abort(c, http.StatusInternalServerError, err)
		return
	}
	if !v.Valid {
		c.JSON(http.StatusNotFound, gin.H{"error": "No vibration point configured"})
		return
	}
	c.JSON(http.StatusOK, vibrationBody{Value: v.Decimal})
}

func (h *Handler) SetVibrationPoint(c *gin.Context) {
	var body vibrationBody
	if err := c.ShouldBindJSON(&body); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	if body.Value.IsNegative() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "value must not be negative"})
		return
	}
	if err := h.store.SetVibrationPoint(c.Request.Context(), body.Value); err != nil {
		abort(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, body)
}

func (h *Handler) GetSpanPairs(c *gin.Context) {
	pairs, err := h.store.SpanPairs(c.Request.Context())
	if err != nil {
		abort(c, http.StatusInternalServerError, err)
		return
	}
	if pairs == nil {
		pairs = []model.SpanPair{}
	}
	c.JSON(http.StatusOK, pairs)
}

func (h *Handler) SetSpanPairs(c *gin.Context) {
	var pairs []model.SpanPair
	if err := c.ShouldBindJSON(&pairs); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	for _, p := range pairs {
		if err := validate.Struct(p); err != nil {
			abort(c, http.StatusBadRequest, err)
			return
		}
	}
	ctx := c.Request.Context()
	if err := h.store.SetSpanPairs(ctx, pairs); err != nil {
		abort(c, http.StatusInternalServerError, err)
		return
	}
	h.GetSpanPairs(c)
}

type lineResponse struct {
	ID              int64            `json:"id"`
	Symbol          string           `json:"symbol"`
	SecurityID      string           `json:"security_id"`
	AnchorDate      string           `json:"anchor_date"`
	AnchorPrice     decimal.Decimal  `json:"anchor_price"`
	Angle           float64          `json:"angle"`
	Ratio           decimal.Decimal  `json:"ratio"`
	PriceField      string           `json:"price_field"`
	State           string           `json:"state"`
	PercentDiff     *decimal.Decimal `json:"percent_diff,omitempty"`
	PercentDiffDate string           `json:"percent_diff_date,omitempty"`
	Created         *bool            `json:"created,omitempty"`
	Points          []pointResponse  `json:"points,omitempty"`
}

type pointResponse struct {
	Date  string          `json:"date"`
	Value decimal.Decimal `json:"value"`
}

func toLine(l model.TrendLineSpec, state model.LineState, withPoints bool) lineResponse {
	out := lineResponse{
		ID:          l.ID,
		Symbol:      l.Symbol,
		SecurityID:  l.SecurityID,
		AnchorDate:  l.AnchorDate.Format(model.DateLayout),
		AnchorPrice: l.AnchorPrice,
		Angle:       l.Angle,
		Ratio:       l.Ratio,
		PriceField:  l.PriceField,
		State:       state.String(),
		PercentDiff: l.PercentDiff,
	}
	if l.PercentDiffDate != nil {
		out.PercentDiffDate = l.PercentDiffDate.Format(model.DateLayout)
	}
	if withPoints {
		out.Points = make([]pointResponse, len(l.Points))
		for i, p := range l.Points {
			out.Points[i] = pointResponse{Date: p.Date.Format(model.DateLayout), Value: p.Value}
		}
	}
	return out
}

func (h *Handler) ListLines(c *gin.Context) {
	lines, states, err := h.checker.LineStates(c.Request.Context())
	if err != nil {
		abort(c, http.StatusInternalServerError, err)
		return
	}
	out := make([]lineResponse, len(lines))
	for i, l := range lines {
		out[i] = toLine(l, states[l.ID], false)
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) GetLine(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	line, err := h.store.GetLine(ctx, id)
	if errors.Is(err, recorder.ErrNotFound) {
		abort(c, http.StatusNotFound, err)
		return
	}
	if err != nil {
		abort(c, http.StatusInternalServerError, err)
		return
	}
	checks, err := h.store.ListChecks(ctx, id)
	if err != nil {
		abort(c, http.StatusInternalServerError, err)
		return
	}
	state := model.StatePending
	for _, chk := range checks {
		state = max(state, chk.State())
	}
	c.JSON(http.StatusOK, toLine(*line, state, true))
}

type registerRequest struct {
	Symbol     string          `json:"symbol"`
	SecurityID string          `json:"security_id"`
	AnchorDate string          `json:"anchor_date"`
	Angles     []float64       `json:"angles"`
	Ratio      decimal.Decimal `json:"ratio"`
	PriceField string          `json:"price_field"`
}

func (h *Handler) RegisterLines(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	anchor, err := time.Parse(model.DateLayout, req.AnchorDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "anchor_date must be YYYY-MM-DD"})
		return
	}

	got, err := h.checker.RegisterLines(c.Request.Context(), checker.Registration{
		Symbol:     req.Symbol,
		SecurityID: req.SecurityID,
		AnchorDate: anchor,
		Angles:     req.Angles,
		Ratio:      req.Ratio,
		PriceField: req.PriceField,
	})
	var (
		verr   validator.ValidationErrors
		status *collector.StatusError
	)
	switch {
	case err == nil:
	case errors.As(err, &verr):
		abort(c, http.StatusBadRequest, err)
		return
	case errors.Is(err, collector.ErrDataUnavailable), errors.As(err, &status):
		abort(c, http.StatusBadGateway, err)
		return
	case errors.Is(err, trendline.ErrAnchorNotFound), errors.Is(err, trendline.ErrEmptyRange),
		errors.Is(err, trendline.ErrInvalidRatio), errors.Is(err, trendline.ErrInvalidField):
		abort(c, http.StatusUnprocessableEntity, err)
		return
	default:
		abort(c, http.StatusInternalServerError, err)
		return
	}

	out := make([]lineResponse, len(got))
	for i, r := range got {
		created := r.Created
		out[i] = toLine(r.Line, model.StatePending, false)
		out[i].Created = &created
	}
	c.JSON(http.StatusCreated, out)
}

type checkResponse struct {
	ID            int64               `json:"id"`
	LineID        int64               `json:"line_id"`
	Date          string              `json:"date"`
	State         string              `json:"state"`
	LinePrice     decimal.Decimal     `json:"line_price"`
	ActualPrice   decimal.NullDecimal `json:"actual_price"`
	StopLossPrice decimal.NullDecimal `json:"stop_loss_price"`
	BuyAboveHigh  decimal.NullDecimal `json:"buy_above_high_price"`
	Quantity      int64               `json:"quantity"`
	CheckedAt     time.Time           `json:"checked_at"`
}

func (h *Handler) ListChecks(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	checks, err := h.store.ListChecks(c.Request.Context(), id)
	if err != nil {
		abort(c, http.StatusInternalServerError, err)
		return
	}
	out := make([]checkResponse, len(checks))
	for i, chk := range checks {
		out[i] = checkResponse{
			ID:            chk.ID,
			LineID:        chk.LineID,
			Date:          chk.Date.Format(model.DateLayout),
			State:         chk.State().String(),
			LinePrice:     chk.LinePrice,
			ActualPrice:   chk.ActualPrice,
			StopLossPrice: chk.StopLossPrice,
			BuyAboveHigh:  chk.BuyAboveHigh,
			Quantity:      chk.Quantity,
			CheckedAt:     chk.CheckedAt,
		}
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) ResetCrossover(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	err := h.checker.ResetCrossover(c.Request.Context(), id)
	switch {
	case err == nil:
		c.Status(http.StatusNoContent)
	case errors.Is(err, recorder.ErrNotFound):
		abort(c, http.StatusNotFound, err)
	case errors.Is(err, checker.ErrAlreadyCrossed):
		abort(c, http.StatusConflict, err)
	default:
		abort(c, http.StatusInternalServerError, err)
	}
}

type sweepResponse struct {
	Kind       model.SweepKind `json:"kind"`
	FinishedAt time.Time       `json:"finished_at"`
	Lines      int             `json:"lines"`
	Events     int             `json:"events"`
	Skipped    int             `json:"skipped"`
	Failed     int             `json:"failed"`
	Note       string          `json:"note,omitempty"`
}

func (h *Handler) LastSweeps(c *gin.Context) {
	sweeps, err := h.store.LastSweeps(c.Request.Context())
	if err != nil {
		abort(c, http.StatusInternalServerError, err)
		return
	}
	out := make(map[model.SweepKind]sweepResponse, len(sweeps))
	for k, r := range sweeps {
		out[k] = sweepResponse{Kind: r.Kind, FinishedAt: r.FinishedAt, Lines: r.Lines,
			Events: r.Events, Skipped: r.Skipped, Failed: r.Failed, Note: r.Note}
	}
	c.JSON(http.StatusOK, out)
}
