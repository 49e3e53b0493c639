package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-payments/pkg/auth"
	"github.com/angelmondragon/marketplace-payments/pkg/config"
)

var testJWT = config.JWTConfig{Secret: "secret", Issuer: "marketpay", ExpirationMinutes: 10}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func mintTestToken(t *testing.T, userID uuid.UUID, role auth.Role, perms ...auth.Permission) string {
	t.Helper()
	token, err := auth.MintAccessToken(testJWT, time.Now(), auth.AccessTokenPayload{
		UserID:      userID,
		Role:        role,
		Permissions: perms,
	})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}

func TestAuthRejectsMissingToken(t *testing.T) {
	resp := httptest.NewRecorder()
	Auth(testJWT, nil)(okHandler()).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/", nil))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestAuthRejectsInvalidToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer invalid")
	resp := httptest.NewRecorder()
	Auth(testJWT, nil)(okHandler()).ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestAuthPlacesOperatorInContext(t *testing.T) {
	userID := uuid.New()
	token := mintTestToken(t, userID, auth.RoleSupport)

	var captured auth.Operator
	handler := Auth(testJWT, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = OperatorFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if captured.ID != userID || captured.Role != auth.RoleSupport {
		t.Fatalf("unexpected operator %+v", captured)
	}
	if !captured.Can(auth.PermWebhookLogsRead) || captured.Can(auth.PermOrdersRefund) {
		t.Fatalf("support defaults not applied: %v", captured.Permissions())
	}
}

func TestRequireRole(t *testing.T) {
	mw := RequireRole(nil, auth.RoleAdmin, auth.RoleSupport)

	cases := []struct {
		name string
		op   auth.Operator
		want int
	}{
		{"anonymous", auth.Operator{}, http.StatusUnauthorized},
		{"buyer", auth.NewOperator(uuid.New(), auth.RoleBuyer), http.StatusForbidden},
		{"support", auth.NewOperator(uuid.New(), auth.RoleSupport), http.StatusOK},
		{"admin", auth.NewOperator(uuid.New(), auth.RoleAdmin), http.StatusOK},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(WithOperator(req.Context(), tc.op))
		resp := httptest.NewRecorder()
		mw(okHandler()).ServeHTTP(resp, req)
		if resp.Code != tc.want {
			t.Fatalf("%s: expected %d got %d", tc.name, tc.want, resp.Code)
		}
	}
}
