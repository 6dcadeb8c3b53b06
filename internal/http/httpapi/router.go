package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/nandanakrishna556/gictor-server/internal/http/handlers"
	"github.com/nandanakrishna556/gictor-server/internal/middleware"
)

// Options carries everything the router needs besides the handlers.
type Options struct {
	JWTSecret      string
	AllowedOrigins []string
	DefaultLocale  string
	Country        middleware.CountryLookup
	Metrics        http.Handler
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(app.Logger),
		middleware.CORS(opts.AllowedOrigins),
		middleware.Locale(opts.DefaultLocale, opts.Country),
	)

	// Health
	r.Get("/v1/healthz", app.Health)

	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics)
	}

	// Worker callbacks authenticate with a shared key, not a bearer token.
	r.Post("/v1/callbacks/generation", app.Callback)

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthJWT(opts.JWTSecret))

		r.Route("/v1/generations", func(r chi.Router) {
			r.Post("/", app.Dispatch)
			r.Get("/{id}", app.GenerationStatus)
		})

		r.Route("/v1/credits", func(r chi.Router) {
			r.Get("/", app.CreditBalance)
			r.Get("/transactions", app.CreditTransactions)
		})

		r.Get("/v1/assets", app.FinishedAssets)
	})

	return r
}
