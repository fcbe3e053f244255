package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/averlon/posledger/internal/service/daily"
	"github.com/averlon/posledger/internal/service/posting"
)

// Store is the persistence surface the API needs: the service-facing repo and
// writer interfaces plus the channel registry.
type Store interface {
	posting.Repo
	posting.Writer
	daily.Repo
	daily.Writer
	ChannelReader
	ChannelWriter
}

// Server wires the posting and reconciliation services behind the HTTP surface.
type Server struct {
	poster   posting.Service
	days     daily.Service
	channels interface {
		ChannelReader
		ChannelWriter
	}
	ready ReadyChecker
	log   *slog.Logger
	loc   *time.Location
	rt    *chi.Mux
}

// New builds the server, constructing the reconciliation service first so the
// poster can use it to resolve opening balances.
func New(store Store, log *slog.Logger, loc *time.Location, maxLookback int) *Server {
	if loc == nil {
		loc = time.UTC
	}
	days := daily.New(store, store, loc, maxLookback)
	poster := posting.New(store, store, days, loc)

	s := &Server{
		poster:   poster,
		days:     days,
		channels: store,
		log:      log,
		loc:      loc,
		rt:       chi.NewRouter(),
	}
	if rc, ok := any(store).(ReadyChecker); ok {
		s.ready = rc
	}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.rt.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.rt.Use(chimw.RequestID)
	s.rt.Use(chimw.RealIP)
	s.rt.Use(requestLogger(s.log))
	s.rt.Use(recoverer(s.log))
	s.rt.Use(metricsMiddleware)
	s.rt.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	s.rt.Get("/healthz", s.handleHealthz)
	s.rt.Get("/readyz", s.handleReadyz)
	s.rt.Method(http.MethodGet, "/metrics", metricsHandler())

	s.rt.Route("/v1", func(r chi.Router) {
		r.Route("/entries", func(r chi.Router) {
			r.With(validatePostEntry).Post("/", s.handlePostEntry)
			r.With(validateListEntries(s.loc)).Get("/", s.handleListEntries)
		})

		r.Route("/channels", func(r chi.Router) {
			r.Get("/", s.handleListChannels)
			r.With(validatePostChannel).Post("/", s.handleCreateChannel)
			r.Route("/{id}", func(r chi.Router) {
				r.Use(withChannelID)
				r.Get("/", s.handleGetChannel)
				r.Delete("/", s.handleDeactivateChannel)
				r.Get("/balance", s.handleChannelBalance)
			})
		})

		r.Route("/days/{date}", func(r chi.Router) {
			r.Use(withDay)
			r.Get("/opening", s.handleGetOpening)
			r.With(validatePutOpening).Put("/opening", s.handlePutOpening)
			r.Get("/closing", s.handleGetClosing)
			r.Post("/closing", s.handleComputeClosing)
			r.Get("/confirmation", s.handleGetConfirmation)
			r.With(validateConfirmation).Post("/confirmation", s.handlePostConfirmation)
		})

		r.With(validateReverse).Post("/documents/{id}/reverse", s.handleReverseDocument)

		r.With(validateReportRange).Get("/reports/daily", s.handleDailyReport)
		r.Get("/dictionary/sources", s.handleSourceDictionary)
	})
}
