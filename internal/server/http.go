// Package server wires the HTTP API and the gRPC health server.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"miniapp-sso/backend/internal/audit"
	healthhandler "miniapp-sso/backend/internal/health/handler"
	"miniapp-sso/backend/internal/server/interceptors"
	sessionservice "miniapp-sso/backend/internal/session/service"
	"miniapp-sso/backend/internal/telemetry"
	"miniapp-sso/backend/internal/telemetry/domain"
	ticketservice "miniapp-sso/backend/internal/ticket/service"
)

// maxBodyBytes caps request bodies on every endpoint.
const maxBodyBytes = 64 << 10

// ReasonMalformedRequest is the introspection verdict for an unreadable request body.
const ReasonMalformedRequest = "malformed request"

// SessionStarter starts mini-app sessions.
type SessionStarter interface {
	Start(ctx context.Context, userID, appID string) (*sessionservice.StartResult, error)
}

// TicketRequester mints tickets from a session nonce.
type TicketRequester interface {
	RequestTicket(ctx context.Context, userID, appID, nonce string) (*ticketservice.IssuedTicket, error)
}

// TicketIntrospector verifies and consumes tickets.
type TicketIntrospector interface {
	Introspect(ctx context.Context, ticket, appID string) (*ticketservice.Verdict, error)
}

// Deps holds the dependencies of the HTTP API.
type Deps struct {
	Sessions     SessionStarter
	Tickets      TicketRequester
	Introspector TicketIntrospector
	// Tokens validates host access tokens for the session and ticket endpoints.
	Tokens interceptors.AccessValidator
	// Health serves /healthz and /readyz. If nil, both answer 200.
	Health *healthhandler.Server
	// Audit records SSO events. May be nil.
	Audit audit.AuditLogger
	// Metrics counts SSO outcomes. May be nil.
	Metrics *telemetry.Metrics
	Log     zerolog.Logger
	// Tracer opens request spans. If nil, a no-op tracer is used.
	Tracer trace.Tracer
	// CORSOrigins may call the API from a browser (the mini-app's /sso/ticket call).
	CORSOrigins []string
}

type api struct {
	Deps
}

// NewHTTPHandler returns the full HTTP API:
//
//	POST /miniapp/session/start  host bearer token
//	POST /sso/ticket             host bearer token
//	POST /sso/introspect         unauthenticated, always 200 for semantic results
//	GET  /healthz, /readyz
func NewHTTPHandler(deps Deps) http.Handler {
	a := &api{Deps: deps}
	if a.Tracer == nil {
		a.Tracer = noop.NewTracerProvider().Tracer("")
	}
	if a.Health == nil {
		a.Health = healthhandler.NewServer(nil, nil)
	}
	auth := interceptors.Auth(a.Tokens)

	mux := http.NewServeMux()
	mux.Handle("POST /miniapp/session/start", auth(http.HandlerFunc(a.startSession)))
	mux.Handle("POST /sso/ticket", auth(http.HandlerFunc(a.requestTicket)))
	mux.HandleFunc("POST /sso/introspect", a.introspect)
	mux.HandleFunc("GET /healthz", a.Health.Live)
	mux.HandleFunc("GET /readyz", a.Health.Ready)

	var h http.Handler = mux
	h = CORS(a.CORSOrigins)(h)
	h = interceptors.ClientIP(h)
	h = interceptors.Telemetry(a.Log, a.Tracer, map[string]bool{"/healthz": true, "/readyz": true})(h)
	return h
}

type startSessionRequest struct {
	AppID string `json:"appId"`
}

type startSessionResponse struct {
	AppID                     string   `json:"appId"`
	SessionNonce              string   `json:"sessionNonce"`
	Origin                    string   `json:"origin"`
	StartURL                  string   `json:"startUrl"`
	AllowedPostMessageOrigins []string `json:"allowedPostMessageOrigins"`
	ExpiresAt                 string   `json:"expiresAt"`
}

func (a *api) startSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, _ := interceptors.GetUserID(ctx)
	var req startSessionRequest
	if err := decodeJSON(w, r, &req); err != nil || req.AppID == "" {
		writeError(w, http.StatusBadRequest, "appId is required")
		return
	}

	res, err := a.Sessions.Start(ctx, userID, req.AppID)
	a.Metrics.SessionStarted(ctx, req.AppID, audit.Outcome(err))
	if err != nil {
		code, msg := sessionErrorStatus(err)
		if audit.IsRejection(err) {
			a.logEvent(ctx, domain.Event{Type: domain.EventSessionRejected, UserID: userID, AppID: req.AppID, Reason: audit.Outcome(err)})
		} else {
			a.Log.Error().Err(err).Str("app_id", req.AppID).Msg("session start failed")
		}
		writeError(w, code, msg)
		return
	}
	a.logEvent(ctx, domain.Event{Type: domain.EventSessionStarted, UserID: userID, AppID: res.AppID, SessionID: res.SessionID})

	origins := res.AllowedPostMessageOrigins
	if origins == nil {
		origins = []string{}
	}
	writeJSON(w, http.StatusOK, startSessionResponse{
		AppID:                     res.AppID,
		SessionNonce:              res.SessionNonce,
		Origin:                    res.Origin,
		StartURL:                  res.StartURL,
		AllowedPostMessageOrigins: origins,
		ExpiresAt:                 res.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

func sessionErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, sessionservice.ErrAppNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, sessionservice.ErrAppNotActive), errors.Is(err, sessionservice.ErrLaunchDenied):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, sessionservice.ErrIframeNotSupported), errors.Is(err, sessionservice.ErrStartURLNotAllowed):
		return http.StatusBadRequest, err.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

type ticketRequest struct {
	AppID        string `json:"appId"`
	SessionNonce string `json:"sessionNonce"`
}

type ticketResponse struct {
	Ticket    string `json:"ticket"`
	ExpiresIn int    `json:"expiresIn"`
}

func (a *api) requestTicket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, _ := interceptors.GetUserID(ctx)
	var req ticketRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	issued, err := a.Tickets.RequestTicket(ctx, userID, req.AppID, req.SessionNonce)
	a.Metrics.TicketIssued(ctx, req.AppID, audit.Outcome(err))
	if err != nil {
		code, msg := ticketErrorStatus(err)
		if audit.IsRejection(err) {
			a.logEvent(ctx, domain.Event{Type: domain.EventTicketRejected, UserID: userID, AppID: req.AppID, Reason: audit.Outcome(err)})
		} else {
			a.Log.Error().Err(err).Str("app_id", req.AppID).Msg("ticket request failed")
		}
		writeError(w, code, msg)
		return
	}
	a.logEvent(ctx, domain.Event{Type: domain.EventTicketIssued, UserID: userID, AppID: req.AppID, JTI: issued.JTI})
	writeJSON(w, http.StatusOK, ticketResponse{Ticket: issued.Ticket, ExpiresIn: issued.ExpiresIn})
}

func ticketErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ticketservice.ErrMissingFields):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, ticketservice.ErrAppNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, ticketservice.ErrAppNotActive),
		errors.Is(err, ticketservice.ErrInvalidSession),
		errors.Is(err, ticketservice.ErrSessionOriginMismatch):
		return http.StatusForbidden, err.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

type introspectRequest struct {
	Ticket string `json:"ticket"`
	AppID  string `json:"appId"`
}

type introspectResponse struct {
	Valid     bool     `json:"valid"`
	Reason    string   `json:"reason,omitempty"`
	Sub       string   `json:"sub,omitempty"`
	Scopes    []string `json:"scopes,omitempty"`
	AppOrigin string   `json:"appOrigin,omitempty"`
}

func (a *api) introspect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req introspectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.Metrics.Introspection(ctx, false, ReasonMalformedRequest)
		writeJSON(w, http.StatusOK, introspectResponse{Reason: ReasonMalformedRequest})
		return
	}

	v, err := a.Introspector.Introspect(ctx, req.Ticket, req.AppID)
	if err != nil {
		a.Log.Error().Err(err).Str("app_id", req.AppID).Msg("introspection failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	a.Metrics.Introspection(ctx, v.Valid, reasonClass(v.Reason))
	if v.Valid {
		a.logEvent(ctx, domain.Event{Type: domain.EventTicketIntrospected, UserID: v.Sub, AppID: req.AppID, JTI: v.JTI})
		writeJSON(w, http.StatusOK, introspectResponse{Valid: true, Sub: v.Sub, Scopes: v.Scopes, AppOrigin: v.AppOrigin})
		return
	}
	a.logEvent(ctx, domain.Event{Type: domain.EventIntrospectRejected, AppID: req.AppID, Reason: v.Reason})
	writeJSON(w, http.StatusOK, introspectResponse{Reason: v.Reason})
}

// reasonClass drops the verification detail from "invalid ticket: ..." reasons.
func reasonClass(reason string) string {
	if i := strings.Index(reason, ":"); i > 0 && strings.HasPrefix(reason, "invalid ticket") {
		return reason[:i]
	}
	return reason
}

func (a *api) logEvent(ctx context.Context, ev domain.Event) {
	if a.Audit != nil {
		a.Audit.LogEvent(ctx, ev)
	}
}

// decodeJSON reads exactly one JSON object from the body.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
