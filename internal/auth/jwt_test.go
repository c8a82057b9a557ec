package auth

import (
	"testing"
	"time"

	"schoolhub/access/internal/model"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	identity := model.Identity{
		ID:       "user-1",
		Role:     model.RoleStaff,
		TenantID: "tenant-1",
	}
	token, err := NewAccessToken("secret", "issuer", time.Minute, identity)
	if err != nil {
		t.Fatalf("token error: %v", err)
	}

	claims, err := ParseToken("secret", token)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if claims.UserID != "user-1" || claims.Role != "staff" || claims.TenantID != "tenant-1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestAccessTokenWrongSecret(t *testing.T) {
	token, err := NewAccessToken("secret", "issuer", time.Minute, model.Identity{ID: "user-1", Role: model.RoleParent})
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	if _, err := ParseToken("other-secret", token); err == nil {
		t.Fatalf("expected signature rejection")
	}
}

func TestAccessTokenExpiry(t *testing.T) {
	token, err := NewAccessToken("secret", "issuer", -time.Minute, model.Identity{ID: "user-1", Role: model.RoleAdmin})
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	if _, err := ParseToken("secret", token); err == nil {
		t.Fatalf("expected expired token rejection")
	}
}
