package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestInitializeAuth(t *testing.T) {
	// Test initialization
	InitializeAuth("test-secret", true)

	if authConfig == nil {
		t.Fatal("authConfig should not be nil after initialization")
	}

	if string(authConfig.JwtSecret) != "test-secret" {
		t.Errorf("Expected JwtSecret 'test-secret', got %q", string(authConfig.JwtSecret))
	}
	if !authConfig.Enabled {
		t.Error("Expected Enabled to be true")
	}
}

func TestIsAuthEnabled(t *testing.T) {
	// Test when auth config is nil
	authConfig = nil
	if IsAuthEnabled() {
		t.Error("Expected IsAuthEnabled to return false when authConfig is nil")
	}

	// Test when auth is disabled
	InitializeAuth("secret", false)
	if IsAuthEnabled() {
		t.Error("Expected IsAuthEnabled to return false when auth is disabled")
	}

	// Test when auth is enabled
	InitializeAuth("secret", true)
	if !IsAuthEnabled() {
		t.Error("Expected IsAuthEnabled to return true when auth is enabled")
	}
}

func TestGenerateJWT(t *testing.T) {
	// Test when authConfig is nil
	authConfig = nil
	_, err := GenerateJWT(&User{ID: "user-1"}, time.Hour)
	if err == nil {
		t.Error("Expected error when authConfig is nil")
	}

	InitializeAuth("test-secret-key", true)

	// Test without a user id
	if _, err := GenerateJWT(&User{Name: "No ID"}, time.Hour); err == nil {
		t.Error("Expected error for user without id")
	}
	if _, err := GenerateJWT(nil, time.Hour); err == nil {
		t.Error("Expected error for nil user")
	}

	user := &User{
		ID:    "user-1",
		Name:  "Test User",
		Email: "test@example.com",
	}

	tokenString, err := GenerateJWT(user, time.Hour)
	if err != nil {
		t.Fatalf("Failed to generate JWT: %v", err)
	}

	if tokenString == "" {
		t.Error("Generated token should not be empty")
	}

	// Parse the token to verify claims
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return authConfig.JwtSecret, nil
	})
	if err != nil {
		t.Fatalf("Failed to parse generated JWT: %v", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		t.Fatal("Failed to parse claims")
	}

	if claims.Subject != user.ID {
		t.Errorf("Expected subject %q, got %q", user.ID, claims.Subject)
	}
	if claims.Name != user.Name {
		t.Errorf("Expected name %q, got %q", user.Name, claims.Name)
	}
	if claims.Email != user.Email {
		t.Errorf("Expected email %q, got %q", user.Email, claims.Email)
	}
}

func TestValidateJWT(t *testing.T) {
	// Test when authConfig is nil
	authConfig = nil
	_, err := ValidateJWT("some-token")
	if err == nil {
		t.Error("Expected error when authConfig is nil")
	}

	InitializeAuth("test-secret-key", true)

	// Test with invalid token
	_, err = ValidateJWT("invalid-token")
	if err == nil {
		t.Error("Expected error for invalid token")
	}

	// Test with valid token
	user := &User{
		ID:    "user-1",
		Name:  "Test User",
		Email: "test@example.com",
	}

	tokenString, err := GenerateJWT(user, time.Hour)
	if err != nil {
		t.Fatalf("Failed to generate JWT for testing: %v", err)
	}

	validatedUser, err := ValidateJWT(tokenString)
	if err != nil {
		t.Fatalf("Failed to validate JWT: %v", err)
	}

	if *validatedUser != *user {
		t.Errorf("Expected user %+v, got %+v", user, validatedUser)
	}

	// Test with expired token
	expiredClaims := Claims{
		Name: "Test User",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-1 * time.Hour)), // Expired 1 hour ago
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
			Subject:   "user-1",
		},
	}

	expiredToken := jwt.NewWithClaims(jwt.SigningMethodHS256, expiredClaims)
	expiredTokenString, err := expiredToken.SignedString(authConfig.JwtSecret)
	if err != nil {
		t.Fatalf("Failed to create expired token: %v", err)
	}

	_, err = ValidateJWT(expiredTokenString)
	if err == nil {
		t.Error("Expected error for expired token")
	}

	// Test with wrong signing key
	wrongKey := []byte("wrong-key")
	wrongToken := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"}})
	wrongTokenString, _ := wrongToken.SignedString(wrongKey)

	_, err = ValidateJWT(wrongTokenString)
	if err == nil {
		t.Error("Expected error for token with wrong signing key")
	}

	// Test with a token that names no user
	noSubject := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{Name: "Anonymous"})
	noSubjectString, err := noSubject.SignedString(authConfig.JwtSecret)
	if err != nil {
		t.Fatalf("Failed to create token without subject: %v", err)
	}
	_, err = ValidateJWT(noSubjectString)
	if err == nil || !strings.Contains(err.Error(), "no subject") {
		t.Errorf("Expected missing subject error, got %v", err)
	}

	// Test with a non-HMAC algorithm
	noneToken := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"}})
	noneTokenString, err := noneToken.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("Failed to create unsigned token: %v", err)
	}
	_, err = ValidateJWT(noneTokenString)
	if err == nil {
		t.Error("Expected error for unsigned token")
	}
}

func TestOptionalAuthMiddleware(t *testing.T) {
	// Test handler that records if it was called
	handlerCalled := false
	testHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		w.WriteHeader(200)
		if _, err := w.Write([]byte("OK")); err != nil {
			http.Error(w, "Failed to write response", http.StatusInternalServerError)
		}
	})

	// Test with auth disabled
	InitializeAuth("secret", false)
	middleware := OptionalAuthMiddleware(testHandler)

	req := httptest.NewRequest("GET", "/meetings/m-1/search?q=budget", nil)
	w := httptest.NewRecorder()

	handlerCalled = false
	middleware.ServeHTTP(w, req)

	if !handlerCalled {
		t.Error("Handler should be called when auth is disabled")
	}
	if w.Code != 200 {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	// Test with auth enabled but no token
	InitializeAuth("secret", true)
	middleware = OptionalAuthMiddleware(testHandler)

	req = httptest.NewRequest("GET", "/meetings/m-1/search?q=budget", nil)
	w = httptest.NewRecorder()

	handlerCalled = false
	middleware.ServeHTTP(w, req)

	if handlerCalled {
		t.Error("Handler should not be called when auth is enabled and no token provided")
	}
	if w.Code != 401 {
		t.Errorf("Expected status 401, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Authentication required") {
		t.Error("Expected authentication required message")
	}

	// Test with valid token in Authorization header
	user := &User{ID: "user-1", Name: "Test User"}
	tokenString, err := GenerateJWT(user, time.Hour)
	if err != nil {
		t.Fatalf("Failed to generate JWT: %v", err)
	}

	req = httptest.NewRequest("GET", "/meetings/m-1/search?q=budget", nil)
	req.Header.Set("Authorization", "Bearer "+tokenString)
	w = httptest.NewRecorder()

	handlerCalled = false
	middleware.ServeHTTP(w, req)

	if !handlerCalled {
		t.Error("Handler should be called with valid token")
	}
	if w.Code != 200 {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	// Test with valid token in cookie
	req = httptest.NewRequest("GET", "/meetings/m-1/search?q=budget", nil)
	req.AddCookie(&http.Cookie{Name: "auth_token", Value: tokenString})
	w = httptest.NewRecorder()

	handlerCalled = false
	middleware.ServeHTTP(w, req)

	if !handlerCalled {
		t.Error("Handler should be called with valid token in cookie")
	}
	if w.Code != 200 {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	// Test with invalid token
	req = httptest.NewRequest("GET", "/meetings/m-1/search?q=budget", nil)
	req.Header.Set("Authorization", "Bearer invalid-token")
	w = httptest.NewRecorder()

	handlerCalled = false
	middleware.ServeHTTP(w, req)

	if handlerCalled {
		t.Error("Handler should not be called with invalid token")
	}
	if w.Code != 401 {
		t.Errorf("Expected status 401, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Invalid authentication token") {
		t.Error("Expected invalid token message")
	}
}

func TestGetUserFromContext(t *testing.T) {
	// Test with no user in context
	req := httptest.NewRequest("GET", "/test", nil)
	user := GetUserFromContext(req)
	if user != nil {
		t.Error("Expected nil user when not in context")
	}

	// Test with user in context
	testUser := &User{ID: "user-1", Name: "Test User"}
	ctx := context.WithValue(req.Context(), UserContextKey, testUser)
	req = req.WithContext(ctx)

	user = GetUserFromContext(req)
	if user == nil {
		t.Fatal("Expected user from context")
	}
	if user.ID != testUser.ID {
		t.Errorf("Expected user id %q, got %q", testUser.ID, user.ID)
	}

	// Test with wrong type in context
	ctx = context.WithValue(req.Context(), UserContextKey, "not-a-user")
	req = req.WithContext(ctx)

	user = GetUserFromContext(req)
	if user != nil {
		t.Error("Expected nil user when wrong type in context")
	}
}

func TestCanAccess(t *testing.T) {
	withUser := func(u *User) *http.Request {
		req := httptest.NewRequest("GET", "/projects/p-1/search?q=roadmap", nil)
		if u == nil {
			return req
		}
		return req.WithContext(context.WithValue(req.Context(), UserContextKey, u))
	}

	tests := []struct {
		name    string
		enabled bool
		user    *User
		owner   string
		want    bool
	}{
		{"auth disabled", false, nil, "user-1", true},
		{"owner", true, &User{ID: "user-1"}, "user-1", true},
		{"other user", true, &User{ID: "user-2"}, "user-1", false},
		{"no user", true, nil, "user-1", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			InitializeAuth("secret", tt.enabled)
			if got := CanAccess(withUser(tt.user), tt.owner); got != tt.want {
				t.Errorf("CanAccess() = %v, expected %v", got, tt.want)
			}
		})
	}
}

func TestJWTTokenExpiration(t *testing.T) {
	InitializeAuth("test-secret", true)

	user := &User{ID: "user-1", Name: "Test User"}
	tokenString, err := GenerateJWT(user, 24*time.Hour)
	if err != nil {
		t.Fatalf("Failed to generate JWT: %v", err)
	}

	// Parse the token to check expiration
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return authConfig.JwtSecret, nil
	})
	if err != nil {
		t.Fatalf("Failed to parse JWT: %v", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		t.Fatal("Failed to parse claims")
	}

	// Check that expiration is set to 24 hours from now (with some tolerance)
	expectedExpiry := time.Now().Add(24 * time.Hour)
	actualExpiry := claims.ExpiresAt.Time

	diff := actualExpiry.Sub(expectedExpiry)
	if diff > time.Minute || diff < -time.Minute {
		t.Errorf("Token expiry should be ~24 hours from now, got %v", actualExpiry)
	}

	// Check that issued at is around now
	issuedAt := claims.IssuedAt.Time
	issuedDiff := time.Since(issuedAt)
	if issuedDiff > time.Minute || issuedDiff < -time.Second {
		t.Errorf("Token issued at should be around now, got %v", issuedAt)
	}
}

func TestClaimsSerialization(t *testing.T) {
	// Test Claims JSON serialization
	claims := Claims{
		Name:  "Test User",
		Email: "test@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: "user-1",
		},
	}

	data, err := json.Marshal(claims)
	if err != nil {
		t.Fatalf("Failed to marshal Claims: %v", err)
	}
	if !strings.Contains(string(data), `"sub":"user-1"`) {
		t.Errorf("Expected subject claim in %s", data)
	}

	var unmarshaled Claims
	err = json.Unmarshal(data, &unmarshaled)
	if err != nil {
		t.Fatalf("Failed to unmarshal Claims: %v", err)
	}

	if unmarshaled.Name != claims.Name {
		t.Errorf("Expected name %q, got %q", claims.Name, unmarshaled.Name)
	}
	if unmarshaled.Subject != claims.Subject {
		t.Errorf("Expected subject %q, got %q", claims.Subject, unmarshaled.Subject)
	}
}

// Integration test that combines multiple auth functions
func TestAuthIntegration(t *testing.T) {
	// Initialize auth
	InitializeAuth("integration-secret", true)

	// Create a user
	user := &User{
		ID:    "integration-user",
		Name:  "Integration User",
		Email: "integration@example.com",
	}

	// Generate JWT
	tokenString, err := GenerateJWT(user, time.Hour)
	if err != nil {
		t.Fatalf("Failed to generate JWT: %v", err)
	}

	// Test middleware with this token
	handlerCalled := false
	allowed := false
	var contextUser *User

	testHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		contextUser = GetUserFromContext(r)
		allowed = CanAccess(r, "integration-user")
		w.WriteHeader(200)
	})

	middleware := OptionalAuthMiddleware(testHandler)
	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Bearer "+tokenString)
	w := httptest.NewRecorder()

	middleware.ServeHTTP(w, req)

	if !handlerCalled {
		t.Error("Handler should be called with valid JWT")
	}
	if contextUser == nil {
		t.Fatal("User should be in context")
	}
	if contextUser.ID != user.ID {
		t.Errorf("Context user id mismatch: expected %q, got %q", user.ID, contextUser.ID)
	}
	if !allowed {
		t.Error("Owner should be allowed access")
	}
}

// Benchmark tests
func BenchmarkGenerateJWT(b *testing.B) {
	InitializeAuth("benchmark-secret", true)
	user := &User{ID: "bench-user", Name: "Bench User"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, err := GenerateJWT(user, time.Hour)
		if err != nil {
			b.Fatalf("Failed to generate JWT: %v", err)
		}
	}
}

func BenchmarkValidateJWT(b *testing.B) {
	InitializeAuth("benchmark-secret", true)
	user := &User{ID: "bench-user", Name: "Bench User"}

	tokenString, err := GenerateJWT(user, time.Hour)
	if err != nil {
		b.Fatalf("Failed to generate JWT for benchmark: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, err := ValidateJWT(tokenString)
		if err != nil {
			b.Fatalf("Failed to validate JWT: %v", err)
		}
	}
}
