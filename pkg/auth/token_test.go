package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/marketplace-payments/pkg/config"
)

var testCfg = config.JWTConfig{Secret: "secret", Issuer: "marketpay", ExpirationMinutes: 30}

func TestMintAndParseAccessToken(t *testing.T) {
	now := time.Now().UTC()
	userID := uuid.New()

	token, err := MintAccessToken(testCfg, now, AccessTokenPayload{
		UserID:      userID,
		Role:        RoleSupport,
		Permissions: []Permission{PermOrdersRefund},
	})
	require.NoError(t, err)

	claims, err := ParseAccessToken(testCfg, token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, userID.String(), claims.Subject)
	assert.Equal(t, RoleSupport, claims.Role)
	assert.Equal(t, []Permission{PermOrdersRefund}, claims.Permissions)
	assert.Equal(t, "marketpay", claims.Issuer)
	assert.NotEmpty(t, claims.ID)
	assert.WithinDuration(t, now.Add(30*time.Minute), claims.ExpiresAt.Time, time.Second)
}

func TestParseAccessTokenRejects(t *testing.T) {
	token, err := MintAccessToken(testCfg, time.Now(), AccessTokenPayload{UserID: uuid.New(), Role: RoleAdmin})
	require.NoError(t, err)

	otherIssuer := testCfg
	otherIssuer.Issuer = "someone-else"
	_, err = ParseAccessToken(otherIssuer, token)
	assert.ErrorIs(t, err, jwt.ErrTokenInvalidIssuer)

	_, err = ParseAccessToken(testCfg, token+"x")
	assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)

	expired, err := MintAccessToken(testCfg, time.Now().Add(-time.Hour), AccessTokenPayload{UserID: uuid.New(), Role: RoleAdmin})
	require.NoError(t, err)
	_, err = ParseAccessToken(testCfg, expired)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, AccessTokenClaims{UserID: uuid.New(), Role: RoleAdmin})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = ParseAccessToken(testCfg, unsigned)
	assert.Error(t, err)
}

func TestParseToleratesSmallClockSkew(t *testing.T) {
	issued := time.Now().Add(-30*time.Minute - 10*time.Second)
	token, err := MintAccessToken(testCfg, issued, AccessTokenPayload{UserID: uuid.New(), Role: RoleBuyer})
	require.NoError(t, err)

	_, err = ParseAccessToken(testCfg, token)
	assert.NoError(t, err)
}

func TestMintValidatesInput(t *testing.T) {
	cases := map[string]struct {
		cfg     config.JWTConfig
		payload AccessTokenPayload
	}{
		"missing secret":     {config.JWTConfig{Issuer: "marketpay", ExpirationMinutes: 5}, AccessTokenPayload{UserID: uuid.New(), Role: RoleAdmin}},
		"zero ttl":           {config.JWTConfig{Secret: "s", Issuer: "marketpay"}, AccessTokenPayload{UserID: uuid.New(), Role: RoleAdmin}},
		"unknown role":       {testCfg, AccessTokenPayload{UserID: uuid.New(), Role: "owner"}},
		"unknown permission": {testCfg, AccessTokenPayload{UserID: uuid.New(), Role: RoleAdmin, Permissions: []Permission{"orders:delete"}}},
		"nil user":           {testCfg, AccessTokenPayload{Role: RoleAdmin}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := MintAccessToken(tc.cfg, time.Now(), tc.payload)
			assert.Error(t, err)
		})
	}
}
