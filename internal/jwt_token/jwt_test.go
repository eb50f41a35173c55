package jwttoken

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "parcelproof/pkg/domain"
	dErrors "parcelproof/pkg/domain-errors"
	"parcelproof/pkg/platform/middleware/auth"
	"parcelproof/pkg/requestcontext"
)

var userID = id.UserID(uuid.MustParse("550e8400-e29b-41d4-a716-446655440001"))

func newService() *JWTService {
	return NewJWTService("test-signing-key", "parcelproof", "parcelproof-api", time.Hour)
}

func TestIssueAndValidate(t *testing.T) {
	svc := newService()
	token, jti, err := svc.IssueAccessToken(context.Background(), userID, []string{auth.ScopeHandover, auth.ScopeRead})
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID.String(), claims.UserID)
	assert.Equal(t, jti, claims.ID)
	assert.Equal(t, []string{auth.ScopeHandover, auth.ScopeRead}, claims.Scope)
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt.Time, time.Minute)
}

func TestIssueRejectsBadInput(t *testing.T) {
	svc := newService()

	_, _, err := svc.IssueAccessToken(context.Background(), id.UserID{}, []string{auth.ScopeRead})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))

	_, _, err = svc.IssueAccessToken(context.Background(), userID, nil)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))

	_, _, err = svc.IssueAccessToken(context.Background(), userID, []string{" ", ""})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))

	many := make([]string, 11)
	for i := range many {
		many[i] = fmt.Sprintf("scope-%d", i)
	}
	_, _, err = svc.IssueAccessToken(context.Background(), userID, many)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}

func TestValidateExpiredToken(t *testing.T) {
	svc := newService()
	ctx := requestcontext.WithNow(context.Background(), time.Now().Add(-2*time.Hour))
	token, _, err := svc.IssueAccessToken(ctx, userID, []string{auth.ScopeRead})
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	require.ErrorContains(t, err, "token expired")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func TestValidateRejectsForeignTokens(t *testing.T) {
	svc := newService()

	t.Run("garbage", func(t *testing.T) {
		_, err := svc.ValidateToken("invalid-token-string")
		require.ErrorContains(t, err, "invalid token")
	})

	t.Run("other signing key", func(t *testing.T) {
		other := NewJWTService("another-key", "parcelproof", "parcelproof-api", time.Hour)
		token, _, err := other.IssueAccessToken(context.Background(), userID, []string{auth.ScopeRead})
		require.NoError(t, err)
		_, err = svc.ValidateToken(token)
		require.Error(t, err)
	})

	t.Run("other audience", func(t *testing.T) {
		other := NewJWTService("test-signing-key", "parcelproof", "someone-else", time.Hour)
		token, _, err := other.IssueAccessToken(context.Background(), userID, []string{auth.ScopeRead})
		require.NoError(t, err)
		_, err = svc.ValidateToken(token)
		require.Error(t, err)
	})

	t.Run("alg none", func(t *testing.T) {
		unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, AccessTokenClaims{
			UserID: userID.String(),
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    "parcelproof",
				Audience:  []string{"parcelproof-api"},
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		})
		token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = svc.ValidateToken(token)
		require.Error(t, err)
	})
}

func TestAdapterMapsClaims(t *testing.T) {
	svc := newService()
	token, jti, err := svc.IssueAccessToken(context.Background(), userID, []string{auth.ScopeIdentity})
	require.NoError(t, err)

	claims, err := NewJWTServiceAdapter(svc).ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, &auth.JWTClaims{UserID: userID.String(), Scopes: []string{auth.ScopeIdentity}, JTI: jti}, claims)
}
