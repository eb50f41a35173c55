package httptransport

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	handoverhandler "parcelproof/internal/handover/handler"
	handovermocks "parcelproof/internal/handover/handler/mocks"
	"parcelproof/internal/handover/models"
	identityhandler "parcelproof/internal/identity/handler"
	identitymocks "parcelproof/internal/identity/handler/mocks"
	jwttoken "parcelproof/internal/jwt_token"
	"parcelproof/internal/platform/health"
	id "parcelproof/pkg/domain"
	dErrors "parcelproof/pkg/domain-errors"
	"parcelproof/pkg/platform/middleware/auth"
	"parcelproof/pkg/testutil"
)

type routerFixture struct {
	router   http.Handler
	jwt      *jwttoken.JWTService
	handover *handovermocks.MockService
	identity *identitymocks.MockService
}

func newRouterFixture(t *testing.T) *routerFixture {
	ctrl := gomock.NewController(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	jwt := jwttoken.NewJWTService("router-test-key", "parcelproof", "parcelproof-api", time.Hour)
	handover := handovermocks.NewMockService(ctrl)
	identity := identitymocks.NewMockService(ctrl)

	router := NewRouter(Deps{
		Logger:    logger,
		Validator: jwttoken.NewJWTServiceAdapter(jwt),
		Identity:  identityhandler.New(identity, logger),
		Handover:  handoverhandler.New(handover, logger),
		Health:    health.New("parcelproof"),
	})
	return &routerFixture{router: router, jwt: jwt, handover: handover, identity: identity}
}

func (f *routerFixture) bearer(t *testing.T, scopes ...string) string {
	token, _, err := f.jwt.IssueAccessToken(context.Background(), testutil.TestIDs.Sender, scopes)
	require.NoError(t, err)
	return "Bearer " + token
}

func (f *routerFixture) get(path, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestPublicEndpoints(t *testing.T) {
	f := newRouterFixture(t)

	w := f.get("/health/live", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = f.get("/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthenticationAndScopes(t *testing.T) {
	f := newRouterFixture(t)

	t.Run("missing bearer token", func(t *testing.T) {
		w := f.get("/v1/packages/PKG-1/events", "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("scope not granted", func(t *testing.T) {
		w := f.get("/v1/packages/PKG-1/events", f.bearer(t, auth.ScopeHandover))
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("read scope reaches handler", func(t *testing.T) {
		f.handover.EXPECT().History(gomock.Any(), id.PackageID("PKG-1")).
			Return(&models.History{PackageID: "PKG-1"}, nil)
		w := f.get("/v1/packages/PKG-1/events", f.bearer(t, auth.ScopeRead))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("identity routes carry the token's user", func(t *testing.T) {
		f.identity.EXPECT().LoadIdentity(gomock.Any(), testutil.TestIDs.Sender).
			Return(nil, dErrors.New(dErrors.CodeNotFound, "identity not found"))
		w := f.get("/v1/identity", f.bearer(t, auth.ScopeIdentity))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
