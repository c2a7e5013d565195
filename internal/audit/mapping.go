package audit

import (
	"errors"

	sessionservice "miniapp-sso/backend/internal/session/service"
	ticketservice "miniapp-sso/backend/internal/ticket/service"
)

// OutcomeOK is the outcome of a successful operation.
const OutcomeOK = "ok"

// OutcomeInternal is the outcome of any error that is not a known rejection.
const OutcomeInternal = "internal_error"

var outcomes = []struct {
	err  error
	code string
}{
	{sessionservice.ErrAppNotFound, "app_not_found"},
	{sessionservice.ErrAppNotActive, "app_not_active"},
	{sessionservice.ErrIframeNotSupported, "iframe_not_supported"},
	{sessionservice.ErrStartURLNotAllowed, "start_url_not_allowed"},
	{sessionservice.ErrLaunchDenied, "launch_denied"},
	{ticketservice.ErrMissingFields, "missing_fields"},
	{ticketservice.ErrAppNotFound, "app_not_found"},
	{ticketservice.ErrAppNotActive, "app_not_active"},
	{ticketservice.ErrInvalidSession, "invalid_session"},
	{ticketservice.ErrSessionOriginMismatch, "session_origin_mismatch"},
}

// Outcome maps a session or ticket service error to a short, stable code for
// audit events and metric attributes. nil maps to OutcomeOK.
func Outcome(err error) string {
	if err == nil {
		return OutcomeOK
	}
	for _, o := range outcomes {
		if errors.Is(err, o.err) {
			return o.code
		}
	}
	return OutcomeInternal
}

// IsRejection reports whether err is a known client-facing rejection rather than an internal failure.
func IsRejection(err error) bool {
	o := Outcome(err)
	return o != OutcomeOK && o != OutcomeInternal
}
