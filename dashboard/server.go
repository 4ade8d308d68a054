// Package dashboard is the HTTP control surface consumed by the
// presentation layer. Every read goes through the shared event log, so
// a dashboard can run in a separate process from the engine.
package dashboard

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/rustyeddy/spiralbot/journal"
)

// Depositor is the in-process hook for crediting simulated funds. It is
// nil when the dashboard serves a log owned by another process; deposits
// are then unavailable rather than silently diverging from engine state.
type Depositor interface {
	Deposit(amount float64) error
}

// StateFunc reports the engine lifecycle state, when in-process.
type StateFunc func() string

// activeWindow is how recent the last event must be for a detached
// dashboard to consider the engine running.
const activeWindow = 2 * time.Minute

// Server exposes the control surface endpoints.
type Server struct {
	journal   journal.Journal
	log       *zap.Logger
	depositor Depositor
	state     StateFunc
	now       func() time.Time
}

func NewServer(j journal.Journal, log *zap.Logger, depositor Depositor, state StateFunc) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		journal:   j,
		log:       log,
		depositor: depositor,
		state:     state,
		now:       time.Now,
	}
}

// Router builds the gin handler.
func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.requestLogger())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api/v1")
	api.GET("/status", s.handleStatus)
	api.GET("/equity", s.handleEquity)
	api.GET("/events", s.handleEvents)
	api.POST("/deposit", s.handleDeposit)
	api.GET("/stream", s.handleStream)

	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
	}).Handler(r)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := s.now()
		c.Next()
		s.log.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", s.now().Sub(start)))
	}
}

func (s *Server) handleStatus(c *gin.Context) {
	last, ok, err := s.journal.LastEvent()
	if err != nil {
		s.fail(c, err)
		return
	}

	resp := gin.H{"running": false}
	if ok {
		resp["last_event_time"] = last.Timestamp.Format(journal.TimeLayout)
		resp["session_id"] = last.SessionID
	}

	if s.state != nil {
		state := s.state()
		resp["state"] = state
		resp["running"] = state == "RUNNING"
	} else if ok {
		// Detached mode: infer liveness from log freshness.
		resp["running"] = s.now().Sub(last.Timestamp) < activeWindow
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleEquity(c *gin.Context) {
	last, ok, err := s.journal.LastEvent()
	if err != nil {
		s.fail(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusOK, gin.H{"equity": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"equity":    last.Equity,
		"timestamp": last.Timestamp.Format(journal.TimeLayout),
	})
}

func (s *Server) handleEvents(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	filter := journal.Filter{
		Symbol: c.Query("symbol"),
		Action: c.Query("action"),
	}

	recs, err := s.journal.Tail(limit, filter)
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count":  len(recs),
		"events": toEventJSON(recs),
	})
}

type depositRequest struct {
	Amount float64 `json:"amount" binding:"required"`
}

func (s *Server) handleDeposit(c *gin.Context) {
	if s.depositor == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no running engine to credit"})
		return
	}

	var req depositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.depositor.Deposit(req.Amount); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.log.Info("deposit accepted", zap.Float64("amount", req.Amount))
	c.JSON(http.StatusOK, gin.H{"deposited": req.Amount})
}

func (s *Server) fail(c *gin.Context, err error) {
	s.log.Error("journal read failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

type eventJSON struct {
	SessionID   string  `json:"session_id"`
	Timestamp   string  `json:"timestamp"`
	Symbol      string  `json:"symbol"`
	Price       float64 `json:"price"`
	FairValue   float64 `json:"bue"`
	Delta       float64 `json:"delta"`
	Signal      string  `json:"signal"`
	Value       float64 `json:"value_estimate"`
	Action      string  `json:"action"`
	PnL         float64 `json:"pnl"`
	CloseReason string  `json:"close_reason"`
	Equity      float64 `json:"equity"`
}

func toEventJSON(recs []journal.EventRecord) []eventJSON {
	out := make([]eventJSON, 0, len(recs))
	for _, rec := range recs {
		out = append(out, eventJSON{
			SessionID:   rec.SessionID,
			Timestamp:   rec.Timestamp.Format(journal.TimeLayout),
			Symbol:      rec.Symbol,
			Price:       rec.Price,
			FairValue:   rec.FairValue,
			Delta:       rec.Delta,
			Signal:      rec.Signal,
			Value:       rec.Value,
			Action:      rec.Action,
			PnL:         rec.PnL,
			CloseReason: rec.CloseReason,
			Equity:      rec.Equity,
		})
	}
	return out
}
