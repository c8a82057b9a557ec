package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"schoolhub/access/internal/crypto"
	"schoolhub/access/internal/model"
	"schoolhub/access/internal/ratelimit"
	"schoolhub/access/internal/session"
)

type memoryDirectory struct {
	users map[string]directoryEntry
	delay time.Duration
}

type directoryEntry struct {
	identity model.Identity
	hash     string
}

func (d *memoryDirectory) LookupByEmail(ctx context.Context, email string) (model.Identity, string, error) {
	if d.delay > 0 {
		select {
		case <-ctx.Done():
			return model.Identity{}, "", ctx.Err()
		case <-time.After(d.delay):
		}
	}
	entry, ok := d.users[email]
	if !ok {
		return model.Identity{}, "", ErrIdentityNotFound
	}
	return entry.identity, entry.hash, nil
}

func newTestVerifier(t *testing.T, directory *memoryDirectory, policy ratelimit.Policy) (*Verifier, *ratelimit.MemoryLimiter) {
	t.Helper()
	limiter := ratelimit.NewMemoryLimiter(policy)
	sessions := session.NewManager(session.NewMemoryStore(), session.Config{Duration: 8 * time.Hour})
	return NewVerifier(directory, limiter, sessions, time.Second), limiter
}

func seedDirectory(t *testing.T) *memoryDirectory {
	t.Helper()
	hash, err := crypto.HashPassword("correct-horse")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	return &memoryDirectory{users: map[string]directoryEntry{
		"known@x.com": {
			identity: model.Identity{
				ID:          "user-1",
				DisplayName: "Known User",
				Email:       "known@x.com",
				Role:        model.RoleParent,
				TenantID:    "tenant-1",
				ChildIDs:    []string{"student-9"},
			},
			hash: hash,
		},
	}}
}

func TestLoginSuccess(t *testing.T) {
	ctx := context.Background()
	verifier, _ := newTestVerifier(t, seedDirectory(t), ratelimit.DefaultPolicy())

	s, token, err := verifier.Login(ctx, "  Known@X.com ", "correct-horse")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if token == "" {
		t.Fatalf("expected a session token")
	}
	if s.Identity.ID != "user-1" || s.Identity.Role != model.RoleParent {
		t.Fatalf("unexpected identity: %+v", s.Identity)
	}
	if !s.ExpiresAt.After(s.CreatedAt) {
		t.Fatalf("session must expire after creation")
	}
}

func TestLoginValidation(t *testing.T) {
	ctx := context.Background()
	verifier, limiter := newTestVerifier(t, seedDirectory(t), ratelimit.DefaultPolicy())

	tests := []struct {
		name     string
		email    string
		password string
	}{
		{"empty email", "", "pw"},
		{"no at sign", "not-an-email", "pw"},
		{"no domain dot", "a@host", "pw"},
		{"empty password", "known@x.com", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := verifier.Login(ctx, tt.email, tt.password)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
		})
	}

	// Validation failures never count against the limiter.
	res, err := limiter.Check(ctx, "known@x.com")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !res.Allowed {
		t.Fatalf("validation failures must not be rate limited")
	}
}

func TestLoginEnumerationResistance(t *testing.T) {
	ctx := context.Background()
	verifier, _ := newTestVerifier(t, seedDirectory(t), ratelimit.DefaultPolicy())

	_, _, unknownErr := verifier.Login(ctx, "unknown@x.com", "wrong")
	_, _, mismatchErr := verifier.Login(ctx, "known@x.com", "wrongpass")

	if unknownErr == nil || mismatchErr == nil {
		t.Fatalf("expected both logins to fail")
	}
	if unknownErr.Error() != mismatchErr.Error() {
		t.Fatalf("error text must be identical: %q vs %q", unknownErr, mismatchErr)
	}
	if !errors.Is(unknownErr, ErrInvalidCredentials) || !errors.Is(mismatchErr, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for both")
	}
}

func TestLoginLockoutFlow(t *testing.T) {
	ctx := context.Background()
	verifier, _ := newTestVerifier(t, seedDirectory(t), ratelimit.Policy{
		MaxAttempts: 5,
		Window:      15 * time.Minute,
		Lockout:     15 * time.Minute,
	})

	// Five wrong passwords: all reported as invalid credentials.
	for i := 0; i < 5; i++ {
		_, _, err := verifier.Login(ctx, "known@x.com", "wrongpass")
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected invalid credentials, got %v", i+1, err)
		}
	}

	// Attempt 6 hits the lockout, even with the correct password.
	_, _, err := verifier.Login(ctx, "known@x.com", "correct-horse")
	var rlErr *RateLimitError
	if !errors.As(err, &rlErr) {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
	if rlErr.Message == "" || rlErr.RetryAfter <= 0 {
		t.Fatalf("rate limit error must carry retry guidance: %+v", rlErr)
	}
}

func TestLoginSuccessClearsFailures(t *testing.T) {
	ctx := context.Background()
	verifier, limiter := newTestVerifier(t, seedDirectory(t), ratelimit.Policy{
		MaxAttempts: 5,
		Window:      15 * time.Minute,
		Lockout:     15 * time.Minute,
	})

	for i := 0; i < 3; i++ {
		if _, _, err := verifier.Login(ctx, "known@x.com", "wrongpass"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("expected invalid credentials, got %v", err)
		}
	}
	if _, _, err := verifier.Login(ctx, "known@x.com", "correct-horse"); err != nil {
		t.Fatalf("login: %v", err)
	}

	// The record is gone; four fresh failures stay under the threshold.
	res, err := limiter.Check(ctx, "known@x.com")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !res.Allowed {
		t.Fatalf("success must clear the failure count")
	}
	for i := 0; i < 4; i++ {
		_, _, _ = verifier.Login(ctx, "known@x.com", "wrongpass")
	}
	if res, _ := limiter.Check(ctx, "known@x.com"); !res.Allowed {
		t.Fatalf("old failures leaked past a successful login")
	}
}

func TestLoginVerificationTimeout(t *testing.T) {
	ctx := context.Background()
	directory := seedDirectory(t)
	directory.delay = 200 * time.Millisecond

	limiter := ratelimit.NewMemoryLimiter(ratelimit.DefaultPolicy())
	sessions := session.NewManager(session.NewMemoryStore(), session.Config{Duration: time.Hour})
	verifier := NewVerifier(directory, limiter, sessions, 20*time.Millisecond)

	_, _, err := verifier.Login(ctx, "known@x.com", "correct-horse")
	if !errors.Is(err, ErrVerificationTimeout) {
		t.Fatalf("expected ErrVerificationTimeout, got %v", err)
	}

	// A slow backend is not a failed attempt.
	if res, _ := limiter.Check(ctx, "known@x.com"); !res.Allowed {
		t.Fatalf("timeouts must not count toward lockout")
	}
}

func TestMaskEmail(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"asha@greenvale.edu", "a***@greenvale.edu"},
		{"a@x.com", "a***@x.com"},
		{"not-an-email", "***"},
		{"", "***"},
	}
	for _, tt := range tests {
		if got := MaskEmail(tt.in); got != tt.want {
			t.Fatalf("MaskEmail(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
