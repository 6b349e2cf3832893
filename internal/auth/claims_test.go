package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

const testSecret = "test-secret-key-for-jwt-signing-0123456789"

func TestIssueAndParseAccessToken(t *testing.T) {
	tokens := NewTokens(testSecret, "relayhub", 15*time.Minute, 0)
	user := &User{ID: 42, Role: RoleOperator}

	token, err := tokens.IssueAccessToken(user)
	if err != nil {
		t.Fatalf("IssueAccessToken() error = %v", err)
	}
	if token == "" {
		t.Fatal("IssueAccessToken() returned empty token")
	}

	claims, err := tokens.ParseUser(token)
	if err != nil {
		t.Fatalf("ParseUser() error = %v", err)
	}
	if claims.Subject != "42" {
		t.Errorf("Subject = %q, want %q", claims.Subject, "42")
	}
	if claims.Role != RoleOperator {
		t.Errorf("Role = %q, want %q", claims.Role, RoleOperator)
	}
	if claims.ID == "" {
		t.Error("JTI (ID) should not be empty")
	}

	id, err := claims.UserID()
	if err != nil || id != 42 {
		t.Errorf("UserID() = %d, %v; want 42, nil", id, err)
	}
}

func TestParse_WrongSecret(t *testing.T) {
	token, err := NewTokens(testSecret, "relayhub", time.Minute, 0).IssueAccessToken(&User{ID: 1, Role: RoleViewer})
	if err != nil {
		t.Fatalf("IssueAccessToken() error = %v", err)
	}

	other := NewTokens(strings.Repeat("x", 40), "relayhub", time.Minute, 0)
	if _, err := other.Parse(token); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("Parse() error = %v, want ErrTokenInvalid", err)
	}
}

func TestParse_WrongIssuer(t *testing.T) {
	token, err := NewTokens(testSecret, "someone-else", time.Minute, 0).IssueAccessToken(&User{ID: 1, Role: RoleViewer})
	if err != nil {
		t.Fatalf("IssueAccessToken() error = %v", err)
	}

	if _, err := NewTokens(testSecret, "relayhub", time.Minute, 0).Parse(token); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("Parse() error = %v, want ErrTokenInvalid", err)
	}
}

func TestParse_Expired(t *testing.T) {
	tokens := NewTokens(testSecret, "relayhub", time.Minute, 0)
	issued := time.Now().Add(-time.Hour)
	tokens.now = func() time.Time { return issued }

	token, err := tokens.IssueAccessToken(&User{ID: 1, Role: RoleViewer})
	if err != nil {
		t.Fatalf("IssueAccessToken() error = %v", err)
	}

	tokens.now = time.Now
	if _, err := tokens.Parse(token); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("Parse() error = %v, want ErrTokenInvalid for expired token", err)
	}
}

func TestParse_Malformed(t *testing.T) {
	tokens := NewTokens(testSecret, "relayhub", time.Minute, 0)
	for _, raw := range []string{"", "abc.def", "not-a-valid-jwt"} {
		if _, err := tokens.Parse(raw); err == nil {
			t.Errorf("Parse(%q) should fail", raw)
		}
	}
}

func TestNewTokens_DefaultTTL(t *testing.T) {
	tokens := NewTokens(testSecret, "relayhub", 0, 0)
	if tokens.AccessTTL() != defaultAccessTTL {
		t.Errorf("AccessTTL() = %v, want %v", tokens.AccessTTL(), defaultAccessTTL)
	}
}

// ─── Device tokens ──────────────────────────────────────────────────

func TestDeviceToken_Verify(t *testing.T) {
	tokens := NewTokens(testSecret, "relayhub", time.Minute, 0)

	token, err := tokens.IssueDeviceToken("dev-1")
	if err != nil {
		t.Fatalf("IssueDeviceToken() error = %v", err)
	}

	if err := tokens.VerifyDevice(token, "dev-1"); err != nil {
		t.Errorf("VerifyDevice(dev-1) error = %v", err)
	}
	if err := tokens.VerifyDevice(token, "dev-2"); !errors.Is(err, ErrTokenSubject) {
		t.Errorf("VerifyDevice(dev-2) error = %v, want ErrTokenSubject", err)
	}

	claims, err := tokens.Parse(token)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if claims.ExpiresAt != nil {
		t.Error("device token with zero TTL should not expire")
	}
}

func TestDeviceToken_WithTTL(t *testing.T) {
	tokens := NewTokens(testSecret, "relayhub", time.Minute, 24*time.Hour)

	token, err := tokens.IssueDeviceToken("dev-1")
	if err != nil {
		t.Fatalf("IssueDeviceToken() error = %v", err)
	}
	claims, err := tokens.Parse(token)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if claims.ExpiresAt == nil {
		t.Fatal("device token should carry an expiry")
	}
	if d := time.Until(claims.ExpiresAt.Time); d < 23*time.Hour {
		t.Errorf("expiry in %v, want about 24h", d)
	}
}

func TestTokenKindsAreNotInterchangeable(t *testing.T) {
	tokens := NewTokens(testSecret, "relayhub", time.Minute, 0)

	deviceToken, err := tokens.IssueDeviceToken("7")
	if err != nil {
		t.Fatalf("IssueDeviceToken() error = %v", err)
	}
	userToken, err := tokens.IssueAccessToken(&User{ID: 7, Role: RoleAdmin})
	if err != nil {
		t.Fatalf("IssueAccessToken() error = %v", err)
	}

	if _, err := tokens.ParseUser(deviceToken); !errors.Is(err, ErrTokenKind) {
		t.Errorf("ParseUser(device token) error = %v, want ErrTokenKind", err)
	}
	if err := tokens.VerifyDevice(userToken, "7"); !errors.Is(err, ErrTokenKind) {
		t.Errorf("VerifyDevice(user token) error = %v, want ErrTokenKind", err)
	}
	if !IsAuthError(ErrTokenKind) || IsAuthError(ErrUserNotFound) {
		t.Error("IsAuthError classification wrong")
	}
}
