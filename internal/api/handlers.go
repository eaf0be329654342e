package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/Hari-sh-S/options-algo/internal/errors"
	"github.com/Hari-sh-S/options-algo/internal/models"
	"github.com/Hari-sh-S/options-algo/internal/resilience"
	"github.com/Hari-sh-S/options-algo/pkg/utils"
)

// Requests

type executeRequest struct {
	models.StrategyRequest
	Owner string `json:"owner,omitempty"`
}

type scheduleRequest struct {
	executeRequest
	ExecuteAt string `json:"execute_at"`
}

type autoSquareOffRequest struct {
	Owner     string `json:"owner,omitempty"`
	ExecuteAt string `json:"execute_at"`
}

type ownerRequest struct {
	Owner string `json:"owner,omitempty"`
}

// Responses

type errorResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Error   string `json:"error"`
}

type genericResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ExecuteResponse is the outcome of an immediate execution.
type ExecuteResponse struct {
	Success  bool         `json:"success"`
	State    string       `json:"state,omitempty"`
	Owner    string       `json:"owner,omitempty"`
	Mode     string       `json:"mode,omitempty"`
	Strategy string       `json:"strategy"`
	Index    string       `json:"index"`
	Expiry   string       `json:"expiry"`
	Spot     float64      `json:"spot,omitempty"`
	Legs     []models.Leg `json:"legs"`
	SLLegs   []models.Leg `json:"sl_legs"`
	Error    string       `json:"error,omitempty"`
}

// PositionsResponse lists open positions with P&L.
type PositionsResponse struct {
	Success   bool              `json:"success"`
	Positions []models.Position `json:"positions"`
	TotalPnL  float64           `json:"total_pnl"`
	Error     string            `json:"error,omitempty"`
}

// ScheduledJobResponse describes one pending job.
type ScheduledJobResponse struct {
	JobID     string `json:"job_id"`
	Owner     string `json:"owner"`
	ExecuteAt string `json:"execute_at"`
	Strategy  string `json:"strategy"`
	Index     string `json:"index"`
	Expiry    string `json:"expiry"`
	Lots      int    `json:"lots"`
}

// JobsListResponse lists pending jobs in firing order.
type JobsListResponse struct {
	Jobs []ScheduledJobResponse `json:"jobs"`
}

// SquareOffResponse reports an immediate square-off.
type SquareOffResponse struct {
	Success bool                    `json:"success"`
	Message string                  `json:"message"`
	Report  *models.SquareOffReport `json:"report"`
}

// AutoSquareOffResponse describes the owner's armed square-off.
type AutoSquareOffResponse struct {
	Active   bool                      `json:"active"`
	Schedule *models.SquareOffSchedule `json:"schedule,omitempty"`
}

// MarketStatusResponse reports NSE session state in IST.
type MarketStatusResponse struct {
	IsOpen      bool   `json:"is_open"`
	Status      string `json:"status"`
	StatusLabel string `json:"status_label"`
	CurrentTime string `json:"current_time"`
}

// SpotPriceResponse is an index quote.
type SpotPriceResponse struct {
	Index     string  `json:"index"`
	LTP       float64 `json:"ltp"`
	Timestamp string  `json:"timestamp"`
}

// FillStatsResponse reports execution quality.
type FillStatsResponse struct {
	Stats  resilience.FillStats    `json:"stats"`
	Recent []resilience.FillRecord `json:"recent"`
}

// HealthResponse is the liveness probe.
type HealthResponse struct {
	Status       string                           `json:"status"`
	Time         string                           `json:"time"`
	Market       string                           `json:"market"`
	OpenBreakers int                              `json:"open_breakers"`
	Breakers     []resilience.CircuitBreakerStats `json:"breakers,omitempty"`
}

// Handlers

func (s *Server) execute(c *gin.Context) {
	var body executeRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, ExecuteResponse{
			Legs:   []models.Leg{},
			SLLegs: []models.Leg{},
			Error:  "invalid request body: " + err.Error(),
		})
		return
	}
	owner := s.owner(c, body.Owner)

	result, err := s.deps.Executor.Execute(c.Request.Context(), owner, body.StrategyRequest)
	if err != nil {
		c.JSON(statusFor(err), ExecuteResponse{
			Owner:    owner,
			Strategy: string(body.Strategy),
			Index:    string(body.Index),
			Expiry:   body.Expiry.String(),
			Legs:     []models.Leg{},
			SLLegs:   []models.Leg{},
			Error:    err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, executeResponse(result))
}

func (s *Server) positions(c *gin.Context) {
	owner := s.owner(c, "")
	snap, err := s.deps.Positions.Refresh(c.Request.Context(), owner)
	if err != nil {
		c.JSON(statusFor(err), PositionsResponse{Positions: []models.Position{}, Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, PositionsResponse{
		Success:   true,
		Positions: snap.Positions,
		TotalPnL:  snap.TotalPnL,
	})
}

func (s *Server) squareOffNow(c *gin.Context) {
	var body ownerRequest
	if !s.bindOptional(c, &body) {
		return
	}
	owner := s.owner(c, body.Owner)

	report, err := s.deps.SquareOff.SquareOffNow(c.Request.Context(), owner)
	if err != nil {
		writeError(c, err)
		return
	}

	msg := fmt.Sprintf("cancelled %d orders, closed %d positions", len(report.CancelledOrders), len(report.ClosedPositions))
	if report.Partial() {
		msg += fmt.Sprintf(", %d failures", len(report.Failures))
	}
	c.JSON(http.StatusOK, SquareOffResponse{Success: !report.Partial(), Message: msg, Report: report})
}

func (s *Server) scheduleJob(c *gin.Context) {
	var body scheduleRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	executeAt, err := utils.ResolveExecuteAt(body.ExecuteAt, s.now())
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	owner := s.owner(c, body.Owner)
	if _, err := s.deps.Accounts.Resolve(owner); err != nil {
		writeError(c, err)
		return
	}

	job, err := s.deps.Scheduler.Add(c.Request.Context(), owner, body.StrategyRequest, executeAt)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, jobResponse(*job))
}

func (s *Server) listJobs(c *gin.Context) {
	jobs := s.deps.Scheduler.List()
	resp := JobsListResponse{Jobs: make([]ScheduledJobResponse, 0, len(jobs))}
	for _, job := range jobs {
		resp.Jobs = append(resp.Jobs, jobResponse(job))
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) cancelJob(c *gin.Context) {
	jobID := c.Param("id")
	ok, err := s.deps.Scheduler.Cancel(c.Request.Context(), jobID)
	if err != nil {
		writeError(c, err)
		return
	}
	if !ok {
		writeError(c, fmt.Errorf("job %s not found or already executed: %w", jobID, apperrors.ErrJobNotFound))
		return
	}
	c.JSON(http.StatusOK, genericResponse{Success: true, Message: fmt.Sprintf("Job %s cancelled", jobID)})
}

func (s *Server) jobHistory(c *gin.Context) {
	limit, ok := queryLimit(c, 50)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": s.deps.Scheduler.History(limit)})
}

func (s *Server) setAutoSquareOff(c *gin.Context) {
	var body autoSquareOffRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	executeAt, err := utils.ResolveExecuteAt(body.ExecuteAt, s.now())
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	sch, err := s.deps.SquareOff.Set(c.Request.Context(), s.owner(c, body.Owner), executeAt)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, AutoSquareOffResponse{Active: true, Schedule: sch})
}

func (s *Server) getAutoSquareOff(c *gin.Context) {
	sch := s.deps.SquareOff.Get(s.owner(c, ""))
	c.JSON(http.StatusOK, AutoSquareOffResponse{Active: sch != nil, Schedule: sch})
}

func (s *Server) cancelAutoSquareOff(c *gin.Context) {
	owner := s.owner(c, "")
	ok, err := s.deps.SquareOff.Cancel(c.Request.Context(), owner)
	if err != nil {
		writeError(c, err)
		return
	}
	if !ok {
		writeError(c, fmt.Errorf("no auto square-off for %s: %w", owner, apperrors.ErrScheduleNotFound))
		return
	}
	c.JSON(http.StatusOK, genericResponse{Success: true, Message: "Auto square-off cancelled"})
}

func (s *Server) summaries(c *gin.Context) {
	limit, ok := queryLimit(c, 30)
	if !ok {
		return
	}
	list, err := s.deps.Summaries.ListDaySummaries(c.Request.Context(), s.owner(c, ""), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	if list == nil {
		list = []models.DaySummary{}
	}
	c.JSON(http.StatusOK, gin.H{"summaries": list})
}

func (s *Server) fillStats(c *gin.Context) {
	limit, ok := queryLimit(c, 20)
	if !ok {
		return
	}
	recent := s.deps.Fills.Recent(limit)
	if recent == nil {
		recent = []resilience.FillRecord{}
	}
	c.JSON(http.StatusOK, FillStatsResponse{Stats: s.deps.Fills.Stats(), Recent: recent})
}

func (s *Server) marketStatus(c *gin.Context) {
	now := s.now().In(utils.IndiaLocation)
	status := utils.MarketStatusAt(now)

	label := "MARKET CLOSED"
	switch status {
	case models.MarketOpen:
		label = "MARKET OPEN"
	case models.MarketPreOpen:
		label = "PRE-OPEN"
	}
	c.JSON(http.StatusOK, MarketStatusResponse{
		IsOpen:      status == models.MarketOpen,
		Status:      string(status),
		StatusLabel: label,
		CurrentTime: now.Format("15:04:05"),
	})
}

func (s *Server) spot(c *gin.Context) {
	index, ok := models.ParseIndex(c.DefaultQuery("index", string(models.NIFTY)))
	if !ok {
		badRequest(c, "index must be NIFTY or SENSEX")
		return
	}
	acct, err := s.deps.Accounts.Resolve(s.owner(c, ""))
	if err != nil {
		writeError(c, err)
		return
	}
	quote, err := acct.Gateway.GetSpotPrice(c.Request.Context(), index)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, SpotPriceResponse{
		Index:     string(quote.Index),
		LTP:       quote.LTP,
		Timestamp: quote.Timestamp.In(utils.IndiaLocation).Format(time.RFC3339),
	})
}

func (s *Server) health(c *gin.Context) {
	resp := HealthResponse{
		Status: "ok",
		Time:   s.now().In(utils.IndiaLocation).Format(time.RFC3339),
		Market: string(utils.MarketStatusAt(s.now())),
	}
	if s.deps.Breakers != nil {
		resp.Breakers = s.deps.Breakers.AllStats()
		resp.OpenBreakers = s.deps.Breakers.OpenCount()
		if resp.OpenBreakers > 0 {
			resp.Status = "degraded"
		}
	}
	c.JSON(http.StatusOK, resp)
}

// Helpers

// owner resolves the acting owner: header, then body, then query, then the
// configured default.
func (s *Server) owner(c *gin.Context, fromBody string) string {
	for _, v := range []string{c.GetHeader(headerOwner), fromBody, c.Query("owner")} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return s.cfg.DefaultOwner
}

// bindOptional decodes a JSON body when one was sent.
func (s *Server) bindOptional(c *gin.Context, dst any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func queryLimit(c *gin.Context, def int) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		badRequest(c, "limit must be a positive integer")
		return 0, false
	}
	return n, true
}

func executeResponse(r *models.ExecutionResult) ExecuteResponse {
	resp := ExecuteResponse{
		Success:  r.Success,
		State:    string(r.State),
		Owner:    r.Owner,
		Mode:     r.Mode,
		Strategy: string(r.Strategy),
		Index:    string(r.Index),
		Expiry:   r.Expiry.String(),
		Spot:     r.Spot,
		Legs:     r.EntryLegs,
		SLLegs:   r.StopLossLegs,
		Error:    r.Error,
	}
	if resp.Legs == nil {
		resp.Legs = []models.Leg{}
	}
	if resp.SLLegs == nil {
		resp.SLLegs = []models.Leg{}
	}
	return resp
}

func jobResponse(job models.ScheduledJob) ScheduledJobResponse {
	return ScheduledJobResponse{
		JobID:     job.JobID,
		Owner:     job.Owner,
		ExecuteAt: job.ExecuteAt.In(utils.IndiaLocation).Format(time.RFC3339),
		Strategy:  string(job.Request.Strategy),
		Index:     string(job.Request.Index),
		Expiry:    job.Request.Expiry.String(),
		Lots:      job.Request.Lots,
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, errorResponse{Code: "BAD_REQUEST", Error: msg})
}

func writeError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(statusFor(err), errorResponse{Code: codeFor(err), Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, apperrors.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, apperrors.ErrUnknownOwner),
		errors.Is(err, apperrors.ErrJobNotFound),
		errors.Is(err, apperrors.ErrScheduleNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperrors.ErrNotAuthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, apperrors.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, apperrors.ErrOrderRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, apperrors.ErrMarketDataUnavailable),
		errors.Is(err, apperrors.ErrBrokerUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func codeFor(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrInvalidRequest):
		return "VALIDATION_FAILED"
	case errors.Is(err, apperrors.ErrUnknownOwner):
		return "UNKNOWN_OWNER"
	case errors.Is(err, apperrors.ErrJobNotFound):
		return "JOB_NOT_FOUND"
	case errors.Is(err, apperrors.ErrScheduleNotFound):
		return "SCHEDULE_NOT_FOUND"
	case errors.Is(err, apperrors.ErrNotAuthenticated):
		return "NOT_AUTHENTICATED"
	case errors.Is(err, apperrors.ErrRateLimited):
		return "RATE_LIMITED"
	case errors.Is(err, apperrors.ErrOrderRejected):
		return "ORDER_REJECTED"
	case errors.Is(err, apperrors.ErrMarketDataUnavailable):
		return "MARKET_DATA_UNAVAILABLE"
	case errors.Is(err, apperrors.ErrBrokerUnavailable):
		return "BROKER_UNAVAILABLE"
	default:
		return "INTERNAL_ERROR"
	}
}
