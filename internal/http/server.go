package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"schoolhub/access/internal/auth"
	"schoolhub/access/internal/authz"
	"schoolhub/access/internal/config"
	"schoolhub/access/internal/metrics"
	"schoolhub/access/internal/model"
	"schoolhub/access/internal/session"
)

// sessionHeader carries the opaque session token on session-scoped
// requests. The JWT access token stays in Authorization.
const sessionHeader = "X-Session-Token"

type Server struct {
	cfg      config.Config
	verifier *auth.Verifier
	sessions *session.Manager
	engine   *authz.Engine

	watchCtx    context.Context
	watchCancel context.CancelFunc
}

func NewServer(cfg config.Config, verifier *auth.Verifier, sessions *session.Manager, engine *authz.Engine) *Server {
	watchCtx, watchCancel := context.WithCancel(context.Background())
	return &Server{
		cfg:         cfg,
		verifier:    verifier,
		sessions:    sessions,
		engine:      engine,
		watchCtx:    watchCtx,
		watchCancel: watchCancel,
	}
}

// Close stops every expiry watch the server has started.
func (s *Server) Close() {
	s.watchCancel()
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/auth/login", s.handleLogin)
	r.Post("/auth/logout", s.handleLogout)
	r.Get("/auth/session", s.handleGetSession)
	r.Post("/auth/renew", s.handleRenew)

	r.With(s.authMiddleware).Get("/authz/check", s.handleAuthzCheck)

	r.Route("/tenants/{tenantId}/modules", func(r chi.Router) {
		r.With(s.authMiddleware).Get("/", s.handleGetModules)
		r.With(s.authMiddleware).Put("/{module}", s.handlePutModule)
	})

	return r
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userSummary struct {
	ID          string              `json:"id"`
	DisplayName string              `json:"displayName"`
	Email       string              `json:"email"`
	Role        string              `json:"role"`
	TenantID    string              `json:"tenantId,omitempty"`
	Staff       *model.StaffProfile `json:"staff,omitempty"`
	ChildIDs    []string            `json:"childIds,omitempty"`
}

type loginResponse struct {
	AccessToken  string      `json:"accessToken"`
	SessionToken string      `json:"sessionToken"`
	ExpiresAt    time.Time   `json:"expiresAt"`
	RedirectTo   string      `json:"redirectTo"`
	User         userSummary `json:"user"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	sess, token, err := s.verifier.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeLoginError(w, err)
		return
	}

	accessToken, err := auth.NewAccessToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, s.cfg.AccessTokenTTL, sess.Identity)
	if err != nil {
		metrics.LoginAttempts.WithLabelValues("error").Inc()
		writeError(w, http.StatusInternalServerError, "token_error")
		return
	}
	metrics.LoginAttempts.WithLabelValues("success").Inc()

	go s.watchSession(token)

	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken:  accessToken,
		SessionToken: token,
		ExpiresAt:    sess.ExpiresAt,
		RedirectTo:   model.LandingView(sess.Identity.Role),
		User:         summarize(sess.Identity),
	})
}

func (s *Server) writeLoginError(w http.ResponseWriter, err error) {
	var (
		verr  *auth.ValidationError
		rlErr *auth.RateLimitError
	)
	switch {
	case errors.As(err, &verr):
		metrics.LoginAttempts.WithLabelValues("validation").Inc()
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid_request",
			"field": verr.Field,
		})
	case errors.As(err, &rlErr):
		metrics.LoginAttempts.WithLabelValues("rate_limited").Inc()
		writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
			"error":      "too_many_attempts",
			"message":    rlErr.Message,
			"retryAfter": int(rlErr.RetryAfter.Seconds()),
		})
	case errors.Is(err, auth.ErrInvalidCredentials):
		metrics.LoginAttempts.WithLabelValues("invalid_credentials").Inc()
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error":   "invalid_credentials",
			"message": auth.ErrInvalidCredentials.Error(),
		})
	case errors.Is(err, auth.ErrVerificationTimeout):
		metrics.LoginAttempts.WithLabelValues("timeout").Inc()
		writeError(w, http.StatusGatewayTimeout, "verification_timeout")
	default:
		metrics.LoginAttempts.WithLabelValues("error").Inc()
		writeError(w, http.StatusInternalServerError, "server_error")
	}
}

// watchSession runs the expiry watch for one issued session. The watch
// outlives the login request, so it runs on the server's own context
// and stops at shutdown.
func (s *Server) watchSession(token string) {
	metrics.SessionWatches.Inc()
	defer metrics.SessionWatches.Dec()

	s.sessions.Watch(s.watchCtx, token,
		func(sess model.Session) {
			log.Printf("session %s for %s expiring at %s",
				sess.ID, auth.MaskEmail(sess.Identity.Email), sess.ExpiresAt.UTC().Format(time.RFC3339))
		},
		func(sess model.Session) {
			metrics.SessionsExpired.Inc()
			log.Printf("session %s for %s expired", sess.ID, auth.MaskEmail(sess.Identity.Email))
		},
	)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get(sessionHeader)
	if token == "" {
		writeError(w, http.StatusBadRequest, "missing_session_token")
		return
	}
	// Idempotent: logging out an already-gone session still succeeds.
	if err := s.sessions.Destroy(r.Context(), token); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type sessionResponse struct {
	ID         string      `json:"id"`
	ExpiresAt  time.Time   `json:"expiresAt"`
	RedirectTo string      `json:"redirectTo"`
	User       userSummary `json:"user"`
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get(sessionHeader)
	if token == "" {
		writeError(w, http.StatusBadRequest, "missing_session_token")
		return
	}
	sess, err := s.sessions.Load(r.Context(), token)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if sess == nil {
		writeError(w, http.StatusUnauthorized, "no_session")
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		ID:         sess.ID,
		ExpiresAt:  sess.ExpiresAt,
		RedirectTo: model.LandingView(sess.Identity.Role),
		User:       summarize(sess.Identity),
	})
}

func (s *Server) handleRenew(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get(sessionHeader)
	if token == "" {
		writeError(w, http.StatusBadRequest, "missing_session_token")
		return
	}
	sess, err := s.sessions.Renew(r.Context(), token)
	if err != nil {
		if errors.Is(err, session.ErrExpired) {
			writeError(w, http.StatusUnauthorized, "session_expired")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		ID:         sess.ID,
		ExpiresAt:  sess.ExpiresAt,
		RedirectTo: model.LandingView(sess.Identity.Role),
		User:       summarize(sess.Identity),
	})
}

func (s *Server) handleAuthzCheck(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}

	module := strings.TrimSpace(r.URL.Query().Get("module"))
	if module == "" {
		writeError(w, http.StatusBadRequest, "missing_module")
		return
	}
	role := model.Role(claims.Role)

	var allowed bool
	if raw := strings.TrimSpace(r.URL.Query().Get("permission")); raw != "" {
		level := model.PermissionLevel(raw)
		if !level.Valid() {
			writeError(w, http.StatusBadRequest, "invalid_permission")
			return
		}
		allowed = s.engine.HasPermission(role, claims.TenantID, module, level)
	} else {
		allowed = s.engine.IsModuleEnabled(role, claims.TenantID, module)
	}

	decision := "deny"
	if allowed {
		decision = "allow"
	}
	metrics.AuthzDecisions.WithLabelValues(decision).Inc()

	writeJSON(w, http.StatusOK, map[string]bool{"allowed": allowed})
}

func (s *Server) handleGetModules(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	tenantID := chi.URLParam(r, "tenantId")
	if !canAdministerTenant(claims, tenantID) {
		writeError(w, http.StatusForbidden, "admin_only")
		return
	}

	matrix, ok := s.engine.Matrix(tenantID)
	if !ok {
		writeError(w, http.StatusNotFound, "tenant_not_found")
		return
	}
	writeJSON(w, http.StatusOK, matrix)
}

type putModuleRequest struct {
	Enabled     bool     `json:"enabled"`
	Permissions []string `json:"permissions"`
}

func (s *Server) handlePutModule(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	tenantID := chi.URLParam(r, "tenantId")
	moduleName := chi.URLParam(r, "module")
	if !canAdministerTenant(claims, tenantID) {
		writeError(w, http.StatusForbidden, "admin_only")
		return
	}

	var req putModuleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	value := model.ModulePermission{Enabled: req.Enabled}
	for _, raw := range req.Permissions {
		level := model.PermissionLevel(raw)
		if !level.Valid() {
			writeError(w, http.StatusBadRequest, "invalid_permission")
			return
		}
		value.Permissions = append(value.Permissions, level)
	}

	if err := s.engine.UpdateModulePermission(r.Context(), tenantID, moduleName, value); err != nil {
		var nf *authz.NotFoundError
		if errors.As(err, &nf) {
			writeError(w, http.StatusNotFound, nf.Kind+"_not_found")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	matrix, _ := s.engine.Matrix(tenantID)
	writeJSON(w, http.StatusOK, matrix)
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing_token")
			return
		}

		claims, err := auth.ParseToken(s.cfg.JWTSecret, token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_token")
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type claimsKey struct{}

func claimsFromContext(ctx context.Context) *auth.Claims {
	value := ctx.Value(claimsKey{})
	claims, _ := value.(*auth.Claims)
	return claims
}

// canAdministerTenant allows super_admin everywhere and admins within
// their own tenant.
func canAdministerTenant(claims *auth.Claims, tenantID string) bool {
	if claims == nil || tenantID == "" {
		return false
	}
	switch model.Role(claims.Role) {
	case model.RoleSuperAdmin:
		return true
	case model.RoleAdmin:
		return claims.TenantID == tenantID
	default:
		return false
	}
}

func summarize(identity model.Identity) userSummary {
	return userSummary{
		ID:          identity.ID,
		DisplayName: identity.DisplayName,
		Email:       identity.Email,
		Role:        string(identity.Role),
		TenantID:    identity.TenantID,
		Staff:       identity.Staff,
		ChildIDs:    identity.ChildIDs,
	}
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
