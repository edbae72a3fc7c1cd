package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"docshook/internal/deployment"
	"docshook/internal/signature"

	"github.com/google/go-github/v57/github"
)

const (
	MaxPayloadBytes        = 25 << 20 // GitHub caps deliveries at 25 MB
	RecentDeploymentsLimit = 10       // Number of recent deployments to return in status endpoint

	pushEvent = "push"
)

// Fixed response bodies of the webhook route
const (
	msgUnsupportedEvent  = "Unsupported event"
	msgMissingSignature  = "Missing signature"
	msgMissingSecret     = "Missing secret"
	msgInvalidSignature  = "Invalid signature"
	msgDeploymentFailed  = "Deployment failed"
	msgDeploymentSuccess = "Deployment successful"
	msgReadFailed        = "Failed to read payload"
	msgPayloadTooLarge   = "Payload too large"
	msgDeploymentBusy    = "Deployment busy"
)

// HandleWebhook handles GitHub webhook requests
func (s *Server) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	// The body is buffered exactly as received; the signature covers raw bytes
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxPayloadBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			respondText(w, http.StatusRequestEntityTooLarge, msgPayloadTooLarge)
			return
		}
		s.Logger.Error("Failed to read request body", "error", err)
		respondText(w, http.StatusBadRequest, msgReadFailed)
		return
	}

	eventType := r.Header.Get(github.EventTypeHeader)
	deliveryID := r.Header.Get(github.DeliveryIDHeader)

	if eventType != pushEvent {
		s.Logger.Info("Ignoring unsupported event", "event", eventType, "delivery", deliveryID)
		respondText(w, http.StatusBadRequest, msgUnsupportedEvent)
		return
	}

	signatureHeader := r.Header.Get(github.SHA256SignatureHeader)
	if signatureHeader == "" {
		respondText(w, http.StatusBadRequest, msgMissingSignature)
		return
	}

	if len(s.Config.Secret) == 0 {
		s.Logger.Error("Webhook secret is not configured, rejecting delivery", "delivery", deliveryID)
		respondText(w, http.StatusInternalServerError, msgMissingSecret)
		return
	}

	if err := signature.Check(s.Config.Secret, signatureHeader, body); err != nil {
		s.Logger.Warn("Rejected webhook signature", "reason", err, "delivery", deliveryID)
		respondText(w, http.StatusBadRequest, msgInvalidSignature)
		return
	}

	ref, commit := pushMetadata(eventType, body)

	if s.closing.Load() {
		respondText(w, http.StatusServiceUnavailable, msgDeploymentBusy)
		return
	}

	// The wait is bounded so that the response still fits in WriteTimeout
	waitCtx, cancel := context.WithTimeout(r.Context(), s.queueTimeout())
	err = s.Gate.Acquire(waitCtx)
	cancel()
	if err != nil {
		s.Logger.Warn("Gave up waiting for running deployment", "delivery", deliveryID, "error", err)
		respondText(w, http.StatusServiceUnavailable, msgDeploymentBusy)
		return
	}

	// A client disconnect must not kill a half-finished deployment
	ctx := context.WithoutCancel(r.Context())

	attempt, ran := s.deploy(ctx, deliveryID, ref, commit)
	if !ran {
		respondText(w, http.StatusServiceUnavailable, msgDeploymentBusy)
		return
	}

	if !attempt.OK() {
		respondText(w, http.StatusInternalServerError, msgDeploymentFailed)
		return
	}
	respondText(w, http.StatusOK, msgDeploymentSuccess)
}

// deploy runs the trigger and records the attempt while holding the gate,
// which the caller has acquired. It reports false when the server started
// shutting down before the deployment could begin.
func (s *Server) deploy(ctx context.Context, deliveryID, ref, commit string) (deployment.Attempt, bool) {
	defer s.Gate.Release()

	if s.closing.Load() {
		return deployment.Attempt{}, false
	}

	s.Logger.Info("Deployment started", "delivery", deliveryID, "ref", ref, "commit", commit)
	attempt := s.Trigger.Run(ctx)

	attempt.DeliveryID = deliveryID
	attempt.Ref = ref
	attempt.Commit = commit

	s.recordAttempt(ctx, attempt)
	return attempt, true
}

// recordAttempt writes the attempt to the deployment log and the history
// index. Neither failure changes the response.
func (s *Server) recordAttempt(ctx context.Context, attempt deployment.Attempt) {
	if err := s.DeployLog.Append(attempt); err != nil {
		s.Logger.Error("Failed to append deployment log", "error", err, "path", s.DeployLog.Path(), "attempt", attempt.ID)
	}

	if s.History != nil {
		if _, err := s.History.RecordAttempt(ctx, attempt); err != nil {
			s.Logger.Error("Failed to record deployment history", "error", err, "attempt", attempt.ID)
		}
	}

	if attempt.OK() {
		s.Logger.Info("deployment completed",
			"attempt", attempt.ID,
			"status", attempt.Status,
			"duration_ms", attempt.Duration.Milliseconds())
	} else {
		s.Logger.Error("deployment failed",
			"attempt", attempt.ID,
			"status", attempt.Status,
			"duration_ms", attempt.Duration.Milliseconds(),
			"error", attempt.ErrorDetail())
	}
}

// pushMetadata extracts the ref and head commit of a verified push payload.
// A payload that does not parse only loses the metadata.
func pushMetadata(eventType string, body []byte) (ref, commit string) {
	event, err := github.ParseWebHook(eventType, body)
	if err != nil {
		return "", ""
	}
	push, ok := event.(*github.PushEvent)
	if !ok {
		return "", ""
	}
	return push.GetRef(), push.GetAfter()
}

// HandleHealth handles health check requests
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":            "ok",
		"secret_configured": len(s.Config.Secret) > 0,
		"deploying":         s.Gate.Busy(),
	}

	s.respondJSON(w, http.StatusOK, response)
}

// HandleStatus handles deployment status requests
func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if s.History == nil {
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "History not available"})
		return
	}

	// Get latest deployment
	latest, err := s.History.GetLatestDeployment(r.Context())
	if err != nil {
		s.Logger.Error("Failed to get latest deployment", "error", err)
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to fetch deployment status"})
		return
	}

	// Get recent deployments
	recent, err := s.History.GetDeploymentHistory(r.Context(), RecentDeploymentsLimit)
	if err != nil {
		s.Logger.Error("Failed to get deployment history", "error", err)
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to fetch deployment status"})
		return
	}

	response := map[string]interface{}{
		"deploying":          s.Gate.Busy(),
		"latest_deployment":  latest,
		"recent_deployments": recent,
	}

	s.respondJSON(w, http.StatusOK, response)
}

// SiteHandler serves the static site build output
func SiteHandler(dir string) http.Handler {
	return http.FileServer(http.Dir(dir))
}

// respondJSON sends a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.Logger.Error("Failed to encode JSON response", "error", err)
	}
}

// respondText sends a plain-text response with an exact body
func respondText(w http.ResponseWriter, statusCode int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(statusCode)
	io.WriteString(w, body)
}
