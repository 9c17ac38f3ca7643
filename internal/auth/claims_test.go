package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-key-for-jwt-signing-0123456789"

func TestGenerateAndParseAccessToken(t *testing.T) {
	token, err := GenerateAccessToken("installer", RoleAdmin, testSecret, 15)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	if token == "" {
		t.Fatal("GenerateAccessToken() returned empty token")
	}

	claims, err := ParseToken(token, testSecret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}

	if claims.Subject != "installer" {
		t.Errorf("Subject = %q, want %q", claims.Subject, "installer")
	}

	if claims.Role != RoleAdmin {
		t.Errorf("Role = %q, want %q", claims.Role, RoleAdmin)
	}

	if claims.ID == "" {
		t.Error("JTI (ID) should not be empty")
	}
}

func TestGenerateAccessToken_InvalidRole(t *testing.T) {
	_, err := GenerateAccessToken("installer", Role("owner"), testSecret, 15)
	if !errors.Is(err, ErrInvalidRole) {
		t.Errorf("GenerateAccessToken() error = %v, want ErrInvalidRole", err)
	}
}

func TestParseToken_WrongSecret(t *testing.T) {
	token, err := GenerateAccessToken("viewer-1", RoleViewer, "correct-secret", 15)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	_, err = ParseToken(token, "wrong-secret")
	if !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("ParseToken() error = %v, want ErrTokenInvalid", err)
	}
}

func TestParseToken_Expired(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	claims := CustomClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "installer",
			IssuedAt:  jwt.NewNumericDate(past),
			ExpiresAt: jwt.NewNumericDate(past.Add(time.Minute)),
		},
		Role: RoleAdmin,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("signing: %v", err)
	}

	_, err = ParseToken(token, testSecret)
	if !errors.Is(err, jwt.ErrTokenExpired) {
		t.Errorf("ParseToken() error = %v, want jwt.ErrTokenExpired", err)
	}
}

func TestParseToken_MissingFields(t *testing.T) {
	tests := []struct {
		name   string
		claims CustomClaims
	}{
		{
			name:   "missing subject",
			claims: CustomClaims{Role: RoleAdmin},
		},
		{
			name: "unknown role",
			claims: CustomClaims{
				RegisteredClaims: jwt.RegisteredClaims{Subject: "installer"},
				Role:             Role("owner"),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, tt.claims).SignedString([]byte(testSecret))
			if err != nil {
				t.Fatalf("signing: %v", err)
			}
			if _, err := ParseToken(token, testSecret); !errors.Is(err, ErrTokenInvalid) {
				t.Errorf("ParseToken() error = %v, want ErrTokenInvalid", err)
			}
		})
	}
}

func TestParseToken_Malformed(t *testing.T) {
	for _, token := range []string{"", "abc.def", "not-a-valid-jwt"} {
		if _, err := ParseToken(token, testSecret); err == nil {
			t.Errorf("ParseToken(%q) should fail", token)
		}
	}
}

func TestParseToken_RejectsOtherAlgorithms(t *testing.T) {
	claims := CustomClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "installer"},
		Role:             RoleAdmin,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("signing: %v", err)
	}

	if _, err := ParseToken(token, testSecret); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("ParseToken() error = %v, want ErrTokenInvalid", err)
	}
}

func TestGenerateAccessToken_DefaultTTL(t *testing.T) {
	// TTL of 0 should default to 15 minutes
	token, err := GenerateAccessToken("viewer-1", RoleViewer, testSecret, 0)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	claims, err := ParseToken(token, testSecret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}

	expectedExpiry := time.Now().Add(15 * time.Minute)
	diff := claims.ExpiresAt.Time.Sub(expectedExpiry)
	if diff < -time.Minute || diff > time.Minute {
		t.Errorf("default TTL should be ~15 minutes, got expiry diff of %v", diff)
	}
}

func TestHasPermission(t *testing.T) {
	tests := []struct {
		role Role
		perm Permission
		want bool
	}{
		{RoleViewer, PermDeviceRead, true},
		{RoleViewer, PermDeviceRemove, false},
		{RoleViewer, PermNetworkPermit, false},
		{RoleAdmin, PermDeviceRead, true},
		{RoleAdmin, PermDeviceRemove, true},
		{RoleAdmin, PermNetworkPermit, true},
		{Role("owner"), PermDeviceRead, false},
	}

	for _, tt := range tests {
		if got := HasPermission(tt.role, tt.perm); got != tt.want {
			t.Errorf("HasPermission(%q, %q) = %v, want %v", tt.role, tt.perm, got, tt.want)
		}
	}
}
