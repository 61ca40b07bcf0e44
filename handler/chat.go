package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/nexus-gateway/nexus/metering"
	"github.com/nexus-gateway/nexus/observability"
	"github.com/nexus-gateway/nexus/queue"
	"github.com/nexus-gateway/nexus/registry"
	"github.com/nexus-gateway/nexus/routing"
	"github.com/nexus-gateway/nexus/transport"
)

// ChatHandler serves /v1/chat/completions.
type ChatHandler struct {
	registry      *registry.Registry
	router        *routing.Router
	queue         *queue.RequestQueue
	queueEnabled  bool
	maxWait       time.Duration
	tokenCounter  *metering.TokenCounter
	costEngine    *metering.CostEngine
	budgetTracker *metering.BudgetTracker
	metrics       *observability.Metrics
	logger        zerolog.Logger
}

func NewChatHandler(reg *registry.Registry, router *routing.Router, q *queue.RequestQueue, queueEnabled bool, maxWait time.Duration, tc *metering.TokenCounter, costEngine *metering.CostEngine, budgetTracker *metering.BudgetTracker, metrics *observability.Metrics, logger zerolog.Logger) *ChatHandler {
	return &ChatHandler{
		registry:      reg,
		router:        router,
		queue:         q,
		queueEnabled:  queueEnabled,
		maxWait:       maxWait,
		tokenCounter:  tc,
		costEngine:    costEngine,
		budgetTracker: budgetTracker,
		metrics:       metrics,
		logger:        logger.With().Str("component", "chat_handler").Logger(),
	}
}

func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req registry.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		transport.WriteError(w, http.StatusBadRequest, "invalid_request_error", "invalid_json", "invalid request body: "+err.Error())
		return
	}
	if req.Model == "" {
		transport.WriteError(w, http.StatusBadRequest, "invalid_request_error", "missing_model", "model is required")
		return
	}

	headers := transport.ParseRequestHeaders(r.Header)

	inputTokens := h.estimateInputTokens(req)
	maxOutput := 0
	if req.MaxTokens != nil {
		maxOutput = *req.MaxTokens
	}

	result, err := h.router.SelectBackend(r.Context(), req.Model, headers.Strict, inputTokens, maxOutput)
	if err != nil {
		h.handleRoutingFailure(w, req.Model, err, result)
		return
	}

	switch result.Decision.Kind {
	case routing.DecisionRoute:
		h.dispatch(w, r, &req, result.Decision)
	case routing.DecisionQueue:
		if req.Stream {
			// Streaming requests never queue: an immediate 503.
			transport.WriteRejectionEnvelope(w, "backend at capacity; streaming requests are not queued", "", 0, "", h.registry.AgentsForModel(req.Model), nil)
			return
		}
		h.enqueueAndWait(w, r, &req, result, headers.Priority)
	default:
		h.handleRoutingFailure(w, req.Model, routing.ErrRejected, result)
	}
}

func (h *ChatHandler) handleRoutingFailure(w http.ResponseWriter, model string, err error, result *routing.RoutingResult) {
	if errors.Is(err, routing.ErrNoBackend) {
		transport.WriteError(w, http.StatusNotFound, "invalid_request_error", "model_not_found", "no backend registered for model "+model)
		return
	}

	var reasons []routing.RejectionReason
	requiredTier := 0
	zoneRequired := ""
	available := h.registry.AgentsForModel(model)
	message := "no eligible backend for model " + model
	if result != nil {
		reasons = result.Decision.RejectionReasons
		if result.Decision.Reason != "" {
			message = result.Decision.Reason
		}
		if result.Intent != nil {
			requiredTier = result.Intent.MinCapabilityTier
			if result.Intent.PrivacyConstraintSet {
				zoneRequired = result.Intent.PrivacyConstraint.String()
			}
			available = h.registry.AgentsForModel(result.Intent.ResolvedModel)
		}
	}
	transport.WriteRejectionEnvelope(w, message, "", requiredTier, zoneRequired, available, reasons)
}

func (h *ChatHandler) dispatch(w http.ResponseWriter, r *http.Request, req *registry.ChatRequest, decision routing.RoutingDecision) {
	agent, ok := h.registry.GetAgent(decision.AgentID)
	if !ok {
		transport.WriteRejectionEnvelope(w, "selected backend is no longer registered", "", 0, "", nil, nil)
		return
	}
	backend, _ := h.registry.GetBackend(decision.AgentID)

	h.registry.IncrementPending(decision.AgentID)
	defer h.registry.DecrementPending(decision.AgentID)

	if req.Stream {
		h.dispatchStream(w, r, agent, req, backend, decision)
		return
	}

	start := time.Now()
	resp, err := agent.ChatCompletion(r.Context(), req)
	elapsed := time.Since(start)

	if backend != nil {
		h.recordMetrics(backend, decision.Model, elapsed, err)
	}

	if err != nil {
		h.logger.Error().Err(err).Str("backend", decision.AgentID).Msg("backend chat completion failed")
		if errors.Is(err, context.DeadlineExceeded) {
			transport.WriteError(w, http.StatusGatewayTimeout, "api_error", "upstream_timeout", "backend request timed out: "+err.Error())
			return
		}
		transport.WriteError(w, http.StatusBadGateway, "api_error", "upstream_error", "backend request failed: "+err.Error())
		return
	}

	h.settleCost(decision.AgentID, decision.Model, resp.Usage)

	name := decision.AgentID
	zone := "open"
	kind := ""
	if backend != nil {
		name = backend.Name
		zone = backend.Profile.PrivacyZone.String()
		kind = backend.BackendType.Kind()
	}
	transport.WriteDecisionHeaders(w, name, kind, zone, decision)
	w.Header().Set("Content-Type", "application/json")
	if len(resp.Raw) > 0 {
		// Relay the upstream body byte for byte; routing metadata lives in
		// headers only.
		_, _ = w.Write(resp.Raw)
		return
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func (h *ChatHandler) dispatchStream(w http.ResponseWriter, r *http.Request, agent registry.Agent, req *registry.ChatRequest, backend *registry.Backend, decision routing.RoutingDecision) {
	stream, err := agent.ChatCompletionStream(r.Context(), req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			transport.WriteError(w, http.StatusGatewayTimeout, "api_error", "upstream_timeout", "backend stream request timed out: "+err.Error())
			return
		}
		transport.WriteError(w, http.StatusBadGateway, "api_error", "upstream_error", "backend stream request failed: "+err.Error())
		return
	}
	defer stream.Close()

	name := decision.AgentID
	zone := "open"
	kind := ""
	if backend != nil {
		name = backend.Name
		zone = backend.Profile.PrivacyZone.String()
		kind = backend.BackendType.Kind()
	}
	transport.WriteDecisionHeaders(w, name, kind, zone, decision)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, _ := w.(http.Flusher)
	for {
		chunk, err := stream.Next()
		if len(chunk) > 0 {
			_, _ = w.Write(chunk)
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			if err != io.EOF {
				h.logger.Warn().Err(err).Str("backend", decision.AgentID).Msg("stream ended with error")
			}
			return
		}
	}
}

// enqueueAndWait places req on the queue and blocks until the drain loop's
// Attempt closure either dispatches it (writing the HTTP response itself,
// from whichever goroutine runs the attempt) or gives up permanently.
func (h *ChatHandler) enqueueAndWait(w http.ResponseWriter, r *http.Request, req *registry.ChatRequest, result *routing.RoutingResult, priority queue.Priority) {
	responseCh := make(chan queue.QueuedResult, 1)
	// responded guards w against a write race between this goroutine's own
	// timeout path and the drain loop goroutine's dispatch, since Attempt
	// may run well after enqueueAndWait's own deadline has passed.
	var responded atomic.Bool

	qreq := &queue.QueuedRequest{
		Model:      req.Model,
		EnqueuedAt: time.Now(),
		Deadline:   time.Now().Add(h.maxWait),
		Priority:   priority,
		Response:   responseCh,
		Attempt: func(ctx context.Context) (bool, error) {
			retryResult, err := h.router.SelectBackend(ctx, req.Model, true, h.estimateInputTokens(*req), 0)
			if err != nil {
				// A transient Reject or NoBackend (backend mid-restart, policy
				// still excluding everything) bounces back to the queue until
				// the request's own deadline fires; the drain loop preserves
				// enqueued_at so the deadline never resets.
				if errors.Is(err, routing.ErrRejected) || errors.Is(err, routing.ErrNoBackend) {
					return true, nil
				}
				return false, err
			}
			if retryResult.Decision.Kind == routing.DecisionQueue {
				// Still saturated; ask the drain loop to requeue untouched.
				return true, nil
			}
			if !responded.CompareAndSwap(false, true) {
				// The caller already timed out and wrote its own response.
				return false, nil
			}
			h.dispatch(w, r, req, retryResult.Decision)
			return false, nil
		},
	}

	if err := h.queue.Enqueue(qreq); err != nil {
		transport.WriteRejectionEnvelope(w, "request queue is full", "", 0, "", nil, result.Decision.RejectionReasons)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.maxWait)
	defer cancel()

	select {
	case res := <-responseCh:
		if !responded.CompareAndSwap(false, true) {
			return
		}
		if res.Err != nil {
			if errors.Is(res.Err, queue.ErrDeadlineExceeded) {
				transport.WriteQueueRetryAfter(w, int(h.maxWait.Seconds()))
				transport.WriteRejectionEnvelope(w, "queued request exceeded its deadline", "", 0, "", nil, nil)
				return
			}
			transport.WriteRejectionEnvelope(w, "queued request could not be scheduled: "+res.Err.Error(), "", 0, "", nil, nil)
		}
		// nil error with no prior response: dispatch raced us and lost the
		// CompareAndSwap above, which should not happen on this branch since
		// a successful dispatch always wins its own CAS first — defensive only.
	case <-ctx.Done():
		if !responded.CompareAndSwap(false, true) {
			return
		}
		transport.WriteQueueRetryAfter(w, int(h.maxWait.Seconds()))
		transport.WriteRejectionEnvelope(w, "request timed out while queued", "", 0, "", nil, nil)
	}
}

func (h *ChatHandler) estimateInputTokens(req registry.ChatRequest) int {
	total := 0
	for _, m := range req.Messages {
		if s, ok := m.Content.(string); ok {
			total += h.tokenCounter.EstimateTokens(s)
		}
	}
	return total
}

// settleCost records the actual spend for a completed request against the
// serving backend's running tally, closing the reserve-then-settle loop
// BudgetReconciler's WouldBreach checks only project.
func (h *ChatHandler) settleCost(agentID, model string, usage registry.Usage) {
	if h.costEngine == nil || h.budgetTracker == nil {
		return
	}
	cost := h.costEngine.Estimate(model, usage.PromptTokens, usage.CompletionTokens)
	if cost <= 0 {
		return
	}
	h.budgetTracker.Record(agentID, cost)
}

func (h *ChatHandler) recordMetrics(backend *registry.Backend, model string, elapsed time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	h.metrics.RequestsTotal.WithLabelValues(backend.Name, model, status).Inc()
	h.metrics.RequestDuration.WithLabelValues(backend.Name, model).Observe(elapsed.Seconds())
	h.metrics.BackendPending.WithLabelValues(backend.Name).Set(float64(backend.Pending()))
}
