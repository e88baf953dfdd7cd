package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"signal-core/internal/broker"
	"signal-core/internal/router"
	"signal-core/internal/signalstore"
	"signal-core/pkg/db"
)

const (
	headerAPIKey = "X-API-Key"
	headerSource = "X-Source"
)

// producerAuth runs the source gate. Must reject before any store mutation.
func (s *Server) producerAuth(c *gin.Context) bool {
	key := c.GetHeader(headerAPIKey)
	source := c.GetHeader(headerSource)
	if err := s.Gate.Authenticate(key, source); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":  "UNAUTHORIZED_SOURCE",
			"error": "source credentials rejected",
		})
		return false
	}
	return true
}

// ingestSignal accepts a producer signal after gate validation.
func (s *Server) ingestSignal(c *gin.Context) {
	if !s.producerAuth(c) {
		return
	}

	var raw signalstore.RawSignal
	if err := c.BindJSON(&raw); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "MALFORMED_PAYLOAD",
			"error": "invalid request payload",
		})
		return
	}

	sig, err := s.Store.Ingest(c.Request.Context(), raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "MALFORMED_PAYLOAD",
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"signal_id":  sig.ID,
		"created_at": sig.CreatedAt.UTC().Format(time.RFC3339),
	})
}

// listSignals is the public read endpoint: cache contents plus a status marker.
func (s *Server) listSignals(c *gin.Context) {
	signals := s.Store.ListToday()
	c.JSON(http.StatusOK, gin.H{
		"signals": signals,
		"count":   len(signals),
		"status": gin.H{
			"market":            marketStatus(time.Now()),
			"instance_id":       s.Meta.InstanceID,
			"version":           s.Meta.Version,
			"execution_enabled": s.Meta.ExecutionEnabled,
			"server_time":       time.Now().UTC().Format(time.RFC3339),
		},
	})
}

// marketStatus is a coarse open/closed marker for the public feed.
func marketStatus(now time.Time) string {
	switch now.UTC().Weekday() {
	case time.Saturday, time.Sunday:
		return "CLOSED"
	}
	return "OPEN"
}

// updateOutcome applies a forward-only outcome transition for a producer.
func (s *Server) updateOutcome(c *gin.Context) {
	if !s.producerAuth(c) {
		return
	}

	var req struct {
		Status string `json:"status"`
	}
	if err := c.BindJSON(&req); err != nil || req.Status == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "MALFORMED_PAYLOAD",
			"error": "status is required",
		})
		return
	}

	sig, err := s.Store.UpdateOutcome(c.Request.Context(), c.Param("id"), signalstore.Outcome(req.Status))
	if err != nil {
		switch {
		case errors.Is(err, signalstore.ErrSignalNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"code":  "NOT_FOUND",
				"error": "signal not in the active cache",
			})
		case errors.Is(err, signalstore.ErrInvalidTransition):
			c.JSON(http.StatusConflict, gin.H{
				"code":  "INVALID_TRANSITION",
				"error": err.Error(),
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":  "INTERNAL_ERROR",
				"error": err.Error(),
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"signal_id":      sig.ID,
		"outcome_status": sig.Outcome,
	})
}

// executeSignal routes an execution request through policy to a broker.
func (s *Server) executeSignal(c *gin.Context) {
	subscriberID := CurrentSubscriberID(c)
	ctx := c.Request.Context()

	sub, err := s.DB.GetSubscriberByID(ctx, subscriberID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}
	if sub == nil {
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":  "INVALID_TOKEN",
			"error": "subscriber no longer exists",
		})
		return
	}

	var req router.Request
	if err := c.BindJSON(&req); err != nil || req.SignalID == "" || req.Quantity <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "MALFORMED_PAYLOAD",
			"error": "signal_id and a positive quantity are required",
		})
		return
	}

	order, denial, err := s.Exec.Route(ctx, *sub, req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}
	if denial != nil {
		status := http.StatusForbidden
		if denial.Code == router.CodeSignalNotFound {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{
			"code":  denial.Code,
			"error": denial.Reason,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order_id":        order.ID,
		"broker_id":       order.BrokerID,
		"broker_order_id": order.BrokerOrderID,
		"symbol":          order.Symbol,
		"side":            order.Side,
		"qty":             order.Qty,
		"price":           order.Price,
		"paper":           order.Paper,
		"status":          order.Status,
	})
}

// getOrders lists the subscriber's recent orders.
func (s *Server) getOrders(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	orders, err := s.DB.GetOrdersBySubscriber(c.Request.Context(), CurrentSubscriberID(c), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}

	out := make([]gin.H, 0, len(orders))
	for _, o := range orders {
		out = append(out, gin.H{
			"order_id":        o.ID,
			"signal_id":       o.SignalID,
			"broker_id":       o.BrokerID,
			"broker_order_id": o.BrokerOrderID,
			"symbol":          o.Symbol,
			"side":            o.Side,
			"qty":             o.Qty,
			"price":           o.Price,
			"product":         o.Product,
			"paper":           o.Paper,
			"status":          o.Status,
			"created_at":      o.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, out)
}

// getPositions returns the book from the subscriber's active session, or the
// paper book when no live session exists.
func (s *Server) getPositions(c *gin.Context) {
	subscriberID := CurrentSubscriberID(c)

	adapter := s.Sessions.Live(subscriberID)
	if adapter == nil {
		adapter = s.Sessions.Paper(subscriberID)
	}

	positions, err := adapter.GetPositions(c.Request.Context())
	if err != nil {
		if errors.Is(err, broker.ErrSessionNotReady) {
			c.JSON(http.StatusConflict, gin.H{
				"code":  "SESSION_NOT_READY",
				"error": "broker session not connected",
			})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{
			"code":  "BROKER_ERROR",
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"broker_id": adapter.BrokerID(),
		"positions": positions,
	})
}

// connectBroker establishes a live session. Credentials live only in the
// session; the durable record stores just the broker link.
func (s *Server) connectBroker(c *gin.Context) {
	subscriberID := CurrentSubscriberID(c)

	var req struct {
		BrokerID  string `json:"broker_id"`
		APIKey    string `json:"api_key"`
		APISecret string `json:"api_secret"`
	}
	if err := c.BindJSON(&req); err != nil || req.BrokerID == "" || req.APIKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "MALFORMED_PAYLOAD",
			"error": "broker_id and api_key are required",
		})
		return
	}

	ctx := c.Request.Context()
	adapter, err := s.Sessions.Connect(ctx, subscriberID, broker.AuthData{
		BrokerID:  req.BrokerID,
		APIKey:    req.APIKey,
		APISecret: req.APISecret,
	})
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"code":  "BROKER_CONNECT_FAILED",
			"error": err.Error(),
		})
		return
	}

	link := db.BrokerLink{
		ID:           subscriberID + ":" + req.BrokerID,
		SubscriberID: subscriberID,
		BrokerID:     req.BrokerID,
		IsActive:     true,
	}
	if err := s.DB.UpsertBrokerLink(ctx, link); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}

	if s.Metrics != nil {
		s.Metrics.SetLiveSessions(s.Sessions.LiveCount())
	}

	c.JSON(http.StatusCreated, gin.H{
		"broker_id": adapter.BrokerID(),
		"status":    adapter.Status(),
	})
}

// disconnectBroker tears down the live session. Idempotent.
func (s *Server) disconnectBroker(c *gin.Context) {
	subscriberID := CurrentSubscriberID(c)

	s.Sessions.Disconnect(subscriberID)
	if err := s.DB.DeactivateBrokerLinks(c.Request.Context(), subscriberID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}

	if s.Metrics != nil {
		s.Metrics.SetLiveSessions(s.Sessions.LiveCount())
	}

	c.JSON(http.StatusOK, gin.H{"status": string(broker.StatusDisconnected)})
}

// getMetrics exposes the internal telemetry snapshot.
func (s *Server) getMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.Metrics.GetSnapshot())
}
