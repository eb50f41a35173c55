package handler

import (
	"crypto/ed25519"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"parcelproof/internal/identity/handler/mocks"
	"parcelproof/internal/identity/models"
	id "parcelproof/pkg/domain"
	dErrors "parcelproof/pkg/domain-errors"
	"parcelproof/pkg/requestcontext"
)

type IdentityHandlerSuite struct {
	suite.Suite
	ctrl    *gomock.Controller
	service *mocks.MockService
	handler *Handler
	userID  id.UserID
}

func TestIdentityHandlerSuite(t *testing.T) {
	suite.Run(t, new(IdentityHandlerSuite))
}

func (s *IdentityHandlerSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.service = mocks.NewMockService(s.ctrl)
	s.handler = New(s.service, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.userID = id.UserID(uuid.MustParse("550e8400-e29b-41d4-a716-446655440001"))
}

func (s *IdentityHandlerSuite) request(method string, authenticated bool) *http.Request {
	req := httptest.NewRequest(method, "/v1/identity", nil)
	if authenticated {
		req = req.WithContext(requestcontext.WithUserID(req.Context(), s.userID))
	}
	return req
}

func (s *IdentityHandlerSuite) identity() *models.Identity {
	return &models.Identity{
		UserID:    s.userID,
		DID:       "did:key:z6MkTest",
		PublicKey: make(ed25519.PublicKey, ed25519.PublicKeySize),
		Storage:   models.StorageSoftware,
		Degraded:  true,
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func (s *IdentityHandlerSuite) TestEnsureReturnsPublicIdentity() {
	s.service.EXPECT().EnsureIdentity(gomock.Any(), s.userID).Return(s.identity(), nil)

	w := httptest.NewRecorder()
	s.handler.HandleEnsure(w, s.request(http.MethodPost, true))

	s.Equal(http.StatusOK, w.Code)
	var body IdentityResponse
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &body))
	s.Equal("did:key:z6MkTest", body.DID)
	s.Equal("software", body.Storage)
	s.True(body.Degraded)
	s.NotContains(w.Body.String(), "private")
}

func (s *IdentityHandlerSuite) TestMissingUserContextReturns500() {
	w := httptest.NewRecorder()
	s.handler.HandleEnsure(w, s.request(http.MethodPost, false))
	s.Equal(http.StatusInternalServerError, w.Code)
}

func (s *IdentityHandlerSuite) TestErrorMapping() {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"not found", dErrors.New(dErrors.CodeNotFound, "identity not found"), http.StatusNotFound},
		{"directory down", dErrors.New(dErrors.CodeUnavailable, "failed to read identity directory"), http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			s.service.EXPECT().LoadIdentity(gomock.Any(), s.userID).Return(nil, tc.err)
			w := httptest.NewRecorder()
			s.handler.HandleGet(w, s.request(http.MethodGet, true))
			s.Equal(tc.status, w.Code)
		})
	}
}

func (s *IdentityHandlerSuite) TestDelete() {
	s.Run("success returns 204", func() {
		s.service.EXPECT().DeleteIdentity(gomock.Any(), s.userID).Return(nil)
		w := httptest.NewRecorder()
		s.handler.HandleDelete(w, s.request(http.MethodDelete, true))
		s.Equal(http.StatusNoContent, w.Code)
	})

	s.Run("unknown identity returns 404", func() {
		s.service.EXPECT().DeleteIdentity(gomock.Any(), s.userID).
			Return(dErrors.New(dErrors.CodeNotFound, "identity not found"))
		w := httptest.NewRecorder()
		s.handler.HandleDelete(w, s.request(http.MethodDelete, true))
		s.Equal(http.StatusNotFound, w.Code)
	})
}

var _ Service = (*mocks.MockService)(nil)
