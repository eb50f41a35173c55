package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"parcelproof/pkg/requestcontext"
)

const testUserID = "550e8400-e29b-41d4-a716-446655440001"

// MockJWTValidator is a testify mock for JWTValidator
type MockJWTValidator struct {
	mock.Mock
}

func (m *MockJWTValidator) ValidateToken(tokenString string) (*JWTClaims, error) {
	args := m.Called(tokenString)
	if claims := args.Get(0); claims != nil {
		return claims.(*JWTClaims), args.Error(1)
	}
	return nil, args.Error(1)
}

// mockHandler is a test handler that captures if it was called and the context
type mockHandler struct {
	called  bool
	context context.Context
}

func (m *mockHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.called = true
	m.context = r.Context()
	w.WriteHeader(http.StatusOK)
}

type AuthMiddlewareSuite struct {
	suite.Suite
	validator *MockJWTValidator
	next      *mockHandler
	logger    *slog.Logger
}

func TestAuthMiddlewareSuite(t *testing.T) {
	suite.Run(t, new(AuthMiddlewareSuite))
}

func (s *AuthMiddlewareSuite) SetupTest() {
	s.validator = new(MockJWTValidator)
	s.next = &mockHandler{}
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (s *AuthMiddlewareSuite) serve(h http.Handler, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/handovers/pickup", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func (s *AuthMiddlewareSuite) TestValidTokenPopulatesContext() {
	s.validator.On("ValidateToken", "good").Return(&JWTClaims{
		UserID: testUserID,
		Scopes: []string{ScopeHandover},
		JTI:    "jti-1",
	}, nil)

	w := s.serve(RequireAuth(s.validator, s.logger)(s.next), "Bearer good")

	s.Equal(http.StatusOK, w.Code)
	s.Require().True(s.next.called)
	s.Equal(testUserID, requestcontext.UserID(s.next.context).String())
	s.Equal([]string{ScopeHandover}, Scopes(s.next.context))
	s.validator.AssertExpectations(s.T())
}

func (s *AuthMiddlewareSuite) TestMissingHeader() {
	w := s.serve(RequireAuth(s.validator, s.logger)(s.next), "")
	s.Equal(http.StatusUnauthorized, w.Code)
	s.False(s.next.called)
	s.validator.AssertNotCalled(s.T(), "ValidateToken", mock.Anything)
}

func (s *AuthMiddlewareSuite) TestWrongScheme() {
	w := s.serve(RequireAuth(s.validator, s.logger)(s.next), "Basic dXNlcjpwYXNz")
	s.Equal(http.StatusUnauthorized, w.Code)
	s.False(s.next.called)
}

func (s *AuthMiddlewareSuite) TestInvalidToken() {
	s.validator.On("ValidateToken", "expired").Return(nil, errors.New("token is expired"))

	w := s.serve(RequireAuth(s.validator, s.logger)(s.next), "Bearer expired")
	s.Equal(http.StatusUnauthorized, w.Code)
	s.JSONEq(`{"error":"unauthorized","error_description":"Invalid or expired token"}`, w.Body.String())
	s.False(s.next.called)
}

func (s *AuthMiddlewareSuite) TestMalformedUserID() {
	s.validator.On("ValidateToken", "odd").Return(&JWTClaims{UserID: "not-a-uuid"}, nil)

	w := s.serve(RequireAuth(s.validator, s.logger)(s.next), "Bearer odd")
	s.Equal(http.StatusUnauthorized, w.Code)
	s.False(s.next.called)
}

func (s *AuthMiddlewareSuite) TestRequireScope() {
	s.validator.On("ValidateToken", "reader").Return(&JWTClaims{
		UserID: testUserID,
		Scopes: []string{ScopeRead},
	}, nil)

	chain := func(scope string) http.Handler {
		return RequireAuth(s.validator, s.logger)(RequireScope(scope, s.logger)(s.next))
	}

	s.Run("granted", func() {
		s.next.called = false
		w := s.serve(chain(ScopeRead), "Bearer reader")
		s.Equal(http.StatusOK, w.Code)
		s.True(s.next.called)
	})

	s.Run("not granted", func() {
		s.next.called = false
		w := s.serve(chain(ScopeHandover), "Bearer reader")
		s.Equal(http.StatusForbidden, w.Code)
		s.False(s.next.called)
	})
}
