package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"miniapp-sso/backend/internal/security"
	"miniapp-sso/backend/internal/ticket/repository"
)

// Rejection reasons reported in a Verdict.
const (
	ReasonExpired          = "ticket expired"
	ReasonNotFound         = "ticket not found"
	ReasonAlreadyUsed      = "ticket already used"
	ReasonConflict         = "concurrency conflict: ticket already consumed"
	ReasonMissingFields    = "ticket and appId are required"
	reasonInvalidPrefix    = "invalid ticket"
	reasonInvalidSeparator = ": "
)

// Verdict is the outcome of one introspection. Sub, Scopes and AppOrigin are set
// only when Valid and come from the verified claims.
type Verdict struct {
	Valid     bool
	Reason    string
	Sub       string
	Scopes    []string
	AppOrigin string
	JTI       string
}

func reject(reason string) *Verdict { return &Verdict{Reason: reason} }

// Introspector verifies tickets and consumes them exactly once.
type Introspector struct {
	signer *security.TicketSigner
	ledger repository.Repository
	now    func() time.Time
}

// NewIntrospector returns an Introspector over the shared ledger.
func NewIntrospector(signer *security.TicketSigner, ledger repository.Repository) *Introspector {
	return &Introspector{signer: signer, ledger: ledger, now: time.Now}
}

// WithClock returns a copy of in that reads time from now. The signer keeps its own clock.
func (in *Introspector) WithClock(now func() time.Time) *Introspector {
	cp := *in
	cp.now = now
	return &cp
}

// Introspect returns a verdict for ticket presented by appID. Every semantic rejection
// is a verdict; the error is non-nil only when the ledger cannot be read or written.
func (in *Introspector) Introspect(ctx context.Context, ticket, appID string) (*Verdict, error) {
	if ticket == "" || appID == "" {
		return reject(ReasonMissingFields), nil
	}
	claims, err := in.signer.Verify(ticket, appID)
	if err != nil {
		if errors.Is(err, security.ErrTicketExpired) {
			return reject(ReasonExpired), nil
		}
		return reject(invalidReason(err)), nil
	}
	entry, err := in.ledger.Get(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("get ledger entry: %w", err)
	}
	if entry == nil {
		return reject(ReasonNotFound), nil
	}
	if entry.Used {
		return reject(ReasonAlreadyUsed), nil
	}
	ok, err := in.ledger.TryMarkUsed(ctx, claims.ID, in.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("mark ticket used: %w", err)
	}
	if !ok {
		return reject(ReasonConflict), nil
	}
	return &Verdict{
		Valid:     true,
		Sub:       claims.Subject,
		Scopes:    claims.Scopes,
		AppOrigin: claims.AppOrigin,
		JTI:       claims.ID,
	}, nil
}

// invalidReason renders a verification failure as "invalid ticket: <detail>".
func invalidReason(err error) string {
	detail := strings.TrimPrefix(err.Error(), security.ErrTicketInvalid.Error())
	detail = strings.TrimPrefix(detail, reasonInvalidSeparator)
	if detail == "" {
		return reasonInvalidPrefix
	}
	return reasonInvalidPrefix + reasonInvalidSeparator + detail
}
