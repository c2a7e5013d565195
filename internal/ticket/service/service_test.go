package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appdomain "miniapp-sso/backend/internal/miniapp/domain"
	apprepo "miniapp-sso/backend/internal/miniapp/repository"
	"miniapp-sso/backend/internal/security"
	sessiondomain "miniapp-sso/backend/internal/session/domain"
	sessionrepo "miniapp-sso/backend/internal/session/repository"
	sessionservice "miniapp-sso/backend/internal/session/service"
	"miniapp-sso/backend/internal/ticket/domain"
	"miniapp-sso/backend/internal/ticket/repository"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// clock is a settable time source shared by every component in a fixture.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	clock        *clock
	apps         *apprepo.MemoryRepository
	registry     *sessionservice.Registry
	ledger       *repository.MemoryRepository
	issuer       *Issuer
	introspector *Introspector
}

func miniApp() *appdomain.App {
	return &appdomain.App{
		ID:             "app-1",
		Status:         appdomain.AppStatusActive,
		LaunchMode:     appdomain.LaunchModeIframe,
		Origin:         "https://mini.example",
		LaunchURL:      "https://mini.example/start?x=1",
		AllowedOrigins: []string{"https://mini.example"},
		AllowedStartURLPatterns: []appdomain.StartURLPattern{
			{PatternType: appdomain.PatternPrefix, Value: "/start"},
		},
		Scopes: []string{"profile", "email"},
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	c := &clock{now: t0}
	apps := apprepo.NewMemoryRepository(miniApp())
	registry := sessionservice.NewRegistry(apps, sessionrepo.NewMemoryRepository(), nil, 0).WithClock(c.Now)
	signer := security.NewTestTicketSigner().WithClock(c.Now)
	ledger := repository.NewMemoryRepository()
	issuer := NewIssuer(apps, registry, signer, ledger)
	issuer.now = c.Now
	return &fixture{
		clock:        c,
		apps:         apps,
		registry:     registry,
		ledger:       ledger,
		issuer:       issuer,
		introspector: NewIntrospector(signer, ledger).WithClock(c.Now),
	}
}

func (f *fixture) startSession(t *testing.T, userID string) string {
	t.Helper()
	res, err := f.registry.Start(context.Background(), userID, "app-1")
	require.NoError(t, err)
	return res.SessionNonce
}

func TestEndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.registry.Start(ctx, "u1", "app-1")
	require.NoError(t, err)
	assert.Equal(t, "https://mini.example/start?x=1", res.StartURL)

	issued, err := f.issuer.RequestTicket(ctx, "u1", "app-1", res.SessionNonce)
	require.NoError(t, err)
	assert.Equal(t, 60, issued.ExpiresIn)
	assert.NotEmpty(t, issued.Ticket)

	v, err := f.introspector.Introspect(ctx, issued.Ticket, "app-1")
	require.NoError(t, err)
	assert.True(t, v.Valid)
	assert.Equal(t, "u1", v.Sub)
	assert.Equal(t, []string{"profile", "email"}, v.Scopes)
	assert.Equal(t, "https://mini.example", v.AppOrigin)

	v, err = f.introspector.Introspect(ctx, issued.Ticket, "app-1")
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.Equal(t, ReasonAlreadyUsed, v.Reason)
	assert.Empty(t, v.Sub)
}

func TestRequestTicket_LedgerWrittenBeforeReturn(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	nonce := f.startSession(t, "u1")

	issued, err := f.issuer.RequestTicket(ctx, "u1", "app-1", nonce)
	require.NoError(t, err)

	e, err := f.ledger.Get(ctx, issued.JTI)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "u1", e.UserID)
	assert.Equal(t, "app-1", e.AppID)
	assert.False(t, e.Used)
	assert.Equal(t, t0.Add(60*time.Second), e.ExpiresAt)
}

func TestRequestTicket_SessionIsReusable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	nonce := f.startSession(t, "u1")

	a, err := f.issuer.RequestTicket(ctx, "u1", "app-1", nonce)
	require.NoError(t, err)
	b, err := f.issuer.RequestTicket(ctx, "u1", "app-1", nonce)
	require.NoError(t, err)
	assert.NotEqual(t, a.JTI, b.JTI)
}

func TestRequestTicket_Rejections(t *testing.T) {
	ctx := context.Background()

	t.Run("missing nonce", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.issuer.RequestTicket(ctx, "u1", "app-1", "")
		assert.ErrorIs(t, err, ErrMissingFields)
	})
	t.Run("missing app id", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.issuer.RequestTicket(ctx, "u1", "", f.startSession(t, "u1"))
		assert.ErrorIs(t, err, ErrMissingFields)
	})
	t.Run("unknown app", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.issuer.RequestTicket(ctx, "u1", "nope", f.startSession(t, "u1"))
		assert.ErrorIs(t, err, ErrAppNotFound)
	})
	t.Run("app disabled after session start", func(t *testing.T) {
		f := newFixture(t)
		nonce := f.startSession(t, "u1")
		app := miniApp()
		app.Status = appdomain.AppStatusDisabled
		f.apps.Put(app)
		_, err := f.issuer.RequestTicket(ctx, "u1", "app-1", nonce)
		assert.ErrorIs(t, err, ErrAppNotActive)
	})
	t.Run("unknown nonce", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.issuer.RequestTicket(ctx, "u1", "app-1", "not-a-session")
		assert.ErrorIs(t, err, ErrInvalidSession)
	})
	t.Run("other user", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.issuer.RequestTicket(ctx, "u2", "app-1", f.startSession(t, "u1"))
		assert.ErrorIs(t, err, ErrInvalidSession)
	})
	t.Run("other app", func(t *testing.T) {
		f := newFixture(t)
		other := miniApp()
		other.ID = "app-2"
		f.apps.Put(other)
		_, err := f.issuer.RequestTicket(ctx, "u1", "app-2", f.startSession(t, "u1"))
		assert.ErrorIs(t, err, ErrInvalidSession)
	})
	t.Run("expired session", func(t *testing.T) {
		f := newFixture(t)
		nonce := f.startSession(t, "u1")
		f.clock.Advance(sessionservice.DefaultTTL)
		_, err := f.issuer.RequestTicket(ctx, "u1", "app-1", nonce)
		assert.ErrorIs(t, err, ErrInvalidSession)
	})
	t.Run("origin reconfigured", func(t *testing.T) {
		f := newFixture(t)
		nonce := f.startSession(t, "u1")
		app := miniApp()
		app.Origin = "https://moved.example"
		f.apps.Put(app)
		_, err := f.issuer.RequestTicket(ctx, "u1", "app-1", nonce)
		assert.ErrorIs(t, err, ErrSessionOriginMismatch)
	})
}

type failingLedger struct{ repository.Repository }

func (failingLedger) Create(ctx context.Context, e *domain.LedgerEntry) error {
	return errors.New("ledger unavailable")
}

func TestRequestTicket_LedgerFailureReturnsNoTicket(t *testing.T) {
	f := newFixture(t)
	issuer := NewIssuer(f.apps, f.registry, security.NewTestTicketSigner(), failingLedger{})
	issued, err := issuer.RequestTicket(context.Background(), "u1", "app-1", f.startSession(t, "u1"))
	require.Error(t, err)
	assert.Nil(t, issued)
}

type fixedSessions struct{ s *sessiondomain.Session }

func (f fixedSessions) Validate(ctx context.Context, nonce string) (*sessiondomain.Session, error) {
	return f.s, nil
}

func TestRequestTicket_ClaimsFromApp(t *testing.T) {
	signer := security.NewTestTicketSigner()
	issuer := NewIssuer(
		apprepo.NewMemoryRepository(miniApp()),
		fixedSessions{s: &sessiondomain.Session{UserID: "u1", AppID: "app-1", AppOrigin: "https://mini.example"}},
		signer,
		repository.NewMemoryRepository(),
	)
	issued, err := issuer.RequestTicket(context.Background(), "u1", "app-1", "n")
	require.NoError(t, err)

	claims, err := signer.Verify(issued.Ticket, "app-1")
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject)
	assert.Equal(t, "test-sso", claims.Issuer)
	assert.Equal(t, []string{"profile", "email"}, claims.Scopes)
	assert.Equal(t, "https://mini.example", claims.AppOrigin)
	assert.Equal(t, issued.JTI, claims.ID)
	assert.Equal(t, 60*time.Second, claims.ExpiresAt.Sub(claims.IssuedAt.Time))
}

func TestRequestTicket_OriginComparedNormalized(t *testing.T) {
	testCases := []struct {
		name          string
		sessionOrigin string
		wantErr       error
	}{
		{"identical", "https://mini.example", nil},
		{"host case and default port", "https://MINI.example:443", nil},
		{"different port", "https://mini.example:8443", ErrSessionOriginMismatch},
		{"different scheme", "http://mini.example", ErrSessionOriginMismatch},
		{"empty", "", ErrSessionOriginMismatch},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			issuer := NewIssuer(
				apprepo.NewMemoryRepository(miniApp()),
				fixedSessions{s: &sessiondomain.Session{UserID: "u1", AppID: "app-1", AppOrigin: tc.sessionOrigin}},
				security.NewTestTicketSigner(),
				repository.NewMemoryRepository(),
			)
			issued, err := issuer.RequestTicket(context.Background(), "u1", "app-1", "n")
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				assert.Nil(t, issued)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, issued.Ticket)
		})
	}
}

func (f *fixture) issue(t *testing.T) *IssuedTicket {
	t.Helper()
	issued, err := f.issuer.RequestTicket(context.Background(), "u1", "app-1", f.startSession(t, "u1"))
	require.NoError(t, err)
	return issued
}

func TestIntrospect_Expired(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	issued := f.issue(t)

	f.clock.Advance(60 * time.Second)
	v, err := f.introspector.Introspect(ctx, issued.Ticket, "app-1")
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.Equal(t, ReasonExpired, v.Reason)

	// Expiry wins regardless of ledger state.
	_, err = f.ledger.TryMarkUsed(ctx, issued.JTI, t0)
	require.NoError(t, err)
	v, err = f.introspector.Introspect(ctx, issued.Ticket, "app-1")
	require.NoError(t, err)
	assert.Equal(t, ReasonExpired, v.Reason)
}

func TestIntrospect_JustBeforeExpiry(t *testing.T) {
	f := newFixture(t)
	issued := f.issue(t)
	f.clock.Advance(59 * time.Second)
	v, err := f.introspector.Introspect(context.Background(), issued.Ticket, "app-1")
	require.NoError(t, err)
	assert.True(t, v.Valid)
}

func TestIntrospect_InvalidTickets(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	issued := f.issue(t)

	other, err := security.NewTicketSigner([]byte("another-secret-0123456789abcdefgh"), "test-sso", time.Minute, 0)
	require.NoError(t, err)
	forged, err := other.WithClock(f.clock.Now).Sign("u1", "app-1", nil, "https://mini.example")
	require.NoError(t, err)

	testCases := []struct {
		name   string
		ticket string
		appID  string
	}{
		{"wrong audience", issued.Ticket, "app-2"},
		{"garbage", "not.a.jwt", "app-1"},
		{"wrong key", forged.Token, "app-1"},
		{"tampered", issued.Ticket[:len(issued.Ticket)-2] + "xx", "app-1"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			v, err := f.introspector.Introspect(ctx, tc.ticket, tc.appID)
			require.NoError(t, err)
			assert.False(t, v.Valid)
			assert.Contains(t, v.Reason, "invalid ticket")
		})
	}

	// Failed verifications leave the ticket consumable.
	v, err := f.introspector.Introspect(ctx, issued.Ticket, "app-1")
	require.NoError(t, err)
	assert.True(t, v.Valid)
}

func TestIntrospect_MissingFields(t *testing.T) {
	f := newFixture(t)
	v, err := f.introspector.Introspect(context.Background(), "", "app-1")
	require.NoError(t, err)
	assert.Equal(t, ReasonMissingFields, v.Reason)
}

func TestIntrospect_NotInLedger(t *testing.T) {
	f := newFixture(t)
	signed, err := security.NewTestTicketSigner().WithClock(f.clock.Now).Sign("u1", "app-1", nil, "https://mini.example")
	require.NoError(t, err)

	v, err := f.introspector.Introspect(context.Background(), signed.Token, "app-1")
	require.NoError(t, err)
	assert.Equal(t, ReasonNotFound, v.Reason)
}

// raceLedger reports the entry as unused but loses the flip, as when another
// process consumes the ticket between the read and the write.
type raceLedger struct{ *repository.MemoryRepository }

func (raceLedger) TryMarkUsed(ctx context.Context, jti string, now time.Time) (bool, error) {
	return false, nil
}

func TestIntrospect_LostRace(t *testing.T) {
	f := newFixture(t)
	issued := f.issue(t)
	in := NewIntrospector(security.NewTestTicketSigner().WithClock(f.clock.Now), raceLedger{f.ledger})

	v, err := in.Introspect(context.Background(), issued.Ticket, "app-1")
	require.NoError(t, err)
	assert.Equal(t, ReasonConflict, v.Reason)
}

type brokenLedger struct{ *repository.MemoryRepository }

func (brokenLedger) Get(ctx context.Context, jti string) (*domain.LedgerEntry, error) {
	return nil, errors.New("connection refused")
}

func TestIntrospect_StorageErrorIsError(t *testing.T) {
	f := newFixture(t)
	issued := f.issue(t)
	in := NewIntrospector(security.NewTestTicketSigner().WithClock(f.clock.Now), brokenLedger{f.ledger})

	v, err := in.Introspect(context.Background(), issued.Ticket, "app-1")
	require.Error(t, err)
	assert.Nil(t, v)
}

func TestIntrospect_ParallelExactlyOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	issued := f.issue(t)

	const k = 50
	verdicts := make([]*Verdict, k)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < k; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			v, err := f.introspector.Introspect(ctx, issued.Ticket, "app-1")
			if err == nil {
				verdicts[i] = v
			}
		}(i)
	}
	close(start)
	wg.Wait()

	valid := 0
	for _, v := range verdicts {
		require.NotNil(t, v)
		if v.Valid {
			valid++
			continue
		}
		assert.Contains(t, []string{ReasonAlreadyUsed, ReasonConflict}, v.Reason)
	}
	assert.Equal(t, 1, valid)
}
