package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"schoolhub/access/internal/crypto"
	"schoolhub/access/internal/model"
	"schoolhub/access/internal/ratelimit"
	"schoolhub/access/internal/session"
)

// UserDirectory looks up an identity and its stored credential
// material by normalized email. Implementations return
// ErrIdentityNotFound when no such identity exists.
type UserDirectory interface {
	LookupByEmail(ctx context.Context, email string) (model.Identity, string, error)
}

// Verifier validates login input, consults the rate limiter, checks
// credentials against the directory, and issues sessions on success.
type Verifier struct {
	directory UserDirectory
	limiter   ratelimit.Limiter
	sessions  *session.Manager
	timeout   time.Duration
}

func NewVerifier(directory UserDirectory, limiter ratelimit.Limiter, sessions *session.Manager, timeout time.Duration) *Verifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Verifier{
		directory: directory,
		limiter:   limiter,
		sessions:  sessions,
		timeout:   timeout,
	}
}

// Login runs the full verification sequence and returns the new
// session with its opaque token. Failures are one of *ValidationError,
// *RateLimitError, ErrInvalidCredentials, or ErrVerificationTimeout;
// anything else is a storage fault.
func (v *Verifier) Login(ctx context.Context, email, password string) (model.Session, string, error) {
	email = NormalizeEmail(email)
	if err := validateLoginInput(email, password); err != nil {
		return model.Session{}, "", err
	}

	// The limiter is advisory: a limiter backend failure must not take
	// logins down with it.
	if res, err := v.limiter.Check(ctx, email); err == nil && !res.Allowed {
		return model.Session{}, "", &RateLimitError{RetryAfter: res.RetryAfter, Message: res.Message}
	}

	lookupCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()
	identity, passwordHash, err := v.directory.LookupByEmail(lookupCtx, email)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return model.Session{}, "", ErrVerificationTimeout
		}
		if errors.Is(err, ErrIdentityNotFound) {
			_ = v.limiter.RecordFailure(ctx, email)
			return model.Session{}, "", ErrInvalidCredentials
		}
		return model.Session{}, "", err
	}

	if err := crypto.CheckPassword(passwordHash, password); err != nil {
		_ = v.limiter.RecordFailure(ctx, email)
		return model.Session{}, "", ErrInvalidCredentials
	}

	_ = v.limiter.Clear(ctx, email)
	return v.sessions.Issue(ctx, identity)
}

func NormalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}

func validateLoginInput(email, password string) error {
	if email == "" {
		return &ValidationError{Field: "email", Reason: "required"}
	}
	if !plausibleEmail(email) {
		return &ValidationError{Field: "email", Reason: "not a valid address"}
	}
	if password == "" {
		return &ValidationError{Field: "password", Reason: "required"}
	}
	return nil
}

func plausibleEmail(email string) bool {
	at := strings.Index(email, "@")
	if at <= 0 || at != strings.LastIndex(email, "@") {
		return false
	}
	domain := email[at+1:]
	if domain == "" || !strings.Contains(domain, ".") {
		return false
	}
	if strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") {
		return false
	}
	return !strings.ContainsAny(email, " \t\r\n")
}

// MaskEmail renders an address safe for logs: "a***@domain.com".
func MaskEmail(email string) string {
	at := strings.Index(email, "@")
	if at <= 0 {
		return "***"
	}
	return email[:1] + "***" + email[at:]
}
