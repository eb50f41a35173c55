// Package httptransport assembles the public router. It is the thin HTTP
// layer: handlers delegate to domain services and hold no business logic.
package httptransport

import (
	"log/slog"
	"net/http"
	"net/netip"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	handoverhandler "parcelproof/internal/handover/handler"
	identityhandler "parcelproof/internal/identity/handler"
	"parcelproof/internal/platform/health"
	"parcelproof/pkg/platform/middleware/auth"
	"parcelproof/pkg/platform/middleware/client"
	"parcelproof/pkg/platform/middleware/request"
	"parcelproof/pkg/platform/validation"
)

// Deps are the collaborators mounted on the router.
type Deps struct {
	Logger         *slog.Logger
	Validator      auth.JWTValidator
	Identity       *identityhandler.Handler
	Handover       *handoverhandler.Handler
	Health         *health.Handler
	Metrics        *request.Metrics
	TrustedProxies []netip.Prefix
}

// NewRouter wires all public endpoints with middleware.
func NewRouter(d Deps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(request.Recovery(logger))
	r.Use(request.RequestID)
	r.Use(client.New(&client.Config{TrustedProxies: d.TrustedProxies}).Handler)
	r.Use(request.Observe(logger, d.Metrics))
	r.Use(request.ContentTypeJSON)

	if d.Health != nil {
		d.Health.Register(r)
	}
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(d.Validator, logger))

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireScope(auth.ScopeIdentity, logger))
			r.Use(request.BodyLimit(validation.MaxBodySize))
			d.Identity.Register(r)
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireScope(auth.ScopeHandover, logger))
			r.Use(request.BodyLimit(validation.MaxHandoverBodySize))
			d.Handover.RegisterHandovers(r)
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireScope(auth.ScopeRead, logger))
			d.Handover.RegisterPackages(r)
		})
	})

	return r
}
