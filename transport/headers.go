package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/nexus-gateway/nexus/queue"
	"github.com/nexus-gateway/nexus/routing"
)

const (
	HeaderPriority    = "X-Nexus-Priority"
	HeaderStrict      = "X-Nexus-Strict"
	HeaderFlexible    = "X-Nexus-Flexible"
	HeaderBackend     = "X-Nexus-Backend"
	HeaderBackendType = "X-Nexus-Backend-Type"
	HeaderPrivacyZone = "X-Nexus-Privacy-Zone"
	HeaderRouteReason = "X-Nexus-Route-Reason"
	HeaderCostEst     = "X-Nexus-Cost-Estimated"
)

// ParsedRequestHeaders is the decoded form of a request's transparency
// headers.
type ParsedRequestHeaders struct {
	Priority queue.Priority
	Strict   bool
}

// ParseRequestHeaders reads X-Nexus-Priority/Strict/Flexible. Unknown or
// absent Priority values default to Normal. Strict defaults to true unless
// X-Nexus-Flexible is explicitly truthy, case-insensitively and trimmed.
// Mere presence of X-Nexus-Strict forces Strict and takes precedence over
// Flexible when both are present.
func ParseRequestHeaders(h http.Header) ParsedRequestHeaders {
	out := ParsedRequestHeaders{Priority: queue.Normal, Strict: true}

	if v := normalize(h.Get(HeaderPriority)); v == "high" {
		out.Priority = queue.High
	}

	if isTruthy(h.Get(HeaderFlexible)) {
		out.Strict = false
	}
	if _, present := h[http.CanonicalHeaderKey(HeaderStrict)]; present {
		out.Strict = true
	}

	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func isTruthy(s string) bool {
	switch normalize(s) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// WriteDecisionHeaders sets the response transparency headers for a Route
// decision. backendKind is "local" or "cloud"; the estimated cost is
// emitted only when known, formatted as a USD amount.
func WriteDecisionHeaders(w http.ResponseWriter, backendName, backendKind, privacyZone string, decision routing.RoutingDecision) {
	w.Header().Set(HeaderBackend, backendName)
	w.Header().Set(HeaderBackendType, backendKind)
	w.Header().Set(HeaderPrivacyZone, privacyZone)
	w.Header().Set(HeaderRouteReason, decision.Reason)
	if decision.CostKnown {
		w.Header().Set(HeaderCostEst, fmt.Sprintf("$%.4f", decision.CostEstimate))
	}
}

// rejectionDetail mirrors one routing.RejectionReason for the envelope.
type rejectionDetail struct {
	AgentID         string `json:"agent_id"`
	Reconciler      string `json:"reconciler"`
	Reason          string `json:"reason"`
	SuggestedAction string `json:"suggested_action"`
}

// errorContext is the "context" object inside the 503 envelope.
type errorContext struct {
	RequiredTier        int               `json:"required_tier,omitempty"`
	PrivacyZoneRequired string            `json:"privacy_zone_required,omitempty"`
	AvailableBackends   []string          `json:"available_backends"`
	RejectionReasons    []rejectionDetail `json:"rejection_reasons"`
}

// errorEnvelope is the OpenAI-compatible error body Nexus returns on every
// error status. Code marshals to null when unset, matching the OpenAI
// envelope shape.
type errorEnvelope struct {
	Error struct {
		Message string        `json:"message"`
		Type    string        `json:"type"`
		Code    *string       `json:"code"`
		Context *errorContext `json:"context,omitempty"`
	} `json:"error"`
}

func writeEnvelope(w http.ResponseWriter, status int, message, errType, code string, ctx *errorContext) {
	env := errorEnvelope{}
	env.Error.Message = message
	env.Error.Type = errType
	if code != "" {
		env.Error.Code = &code
	}
	env.Error.Context = ctx

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

// WriteError writes a contextless error envelope with the given status —
// used for malformed requests (400), unknown models (404), and upstream
// failures (502/504).
func WriteError(w http.ResponseWriter, status int, errType, code, message string) {
	writeEnvelope(w, status, message, errType, code, nil)
}

// WriteRejectionEnvelope writes the 503 body for a Reject decision (or a
// contextful queue failure). availableBackends is the set of agent ids that
// ever existed for the model before exclusion; requiredTier and
// privacyZoneRequired are zero/empty when the pipeline set no such
// constraint.
func WriteRejectionEnvelope(w http.ResponseWriter, message, code string, requiredTier int, privacyZoneRequired string, availableBackends []string, reasons []routing.RejectionReason) {
	details := make([]rejectionDetail, 0, len(reasons))
	for _, r := range reasons {
		details = append(details, rejectionDetail{
			AgentID:         r.AgentID,
			Reconciler:      r.ReconcilerName,
			Reason:          r.Reason,
			SuggestedAction: r.SuggestedAction,
		})
	}
	ctx := &errorContext{
		RequiredTier:        requiredTier,
		PrivacyZoneRequired: privacyZoneRequired,
		AvailableBackends:   availableBackends,
		RejectionReasons:    details,
	}
	writeEnvelope(w, http.StatusServiceUnavailable, message, "service_unavailable", code, ctx)
}

// WriteQueueRetryAfter sets Retry-After on a queue-timeout response; it
// never applies to an immediate Reject, queue-full, or queue-disabled 503.
func WriteQueueRetryAfter(w http.ResponseWriter, seconds int) {
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
}
