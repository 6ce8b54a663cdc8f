// Package httpapi exposes the matcher over HTTP.
package httpapi

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/spigell/cv-matcher/internal/auth"
	"github.com/spigell/cv-matcher/internal/screening"
	"github.com/spigell/cv-matcher/internal/storage"
)

const (
	defaultMaxUploadBytes = 32 << 20
	multipartMemory       = 8 << 20
)

type Screener interface {
	Single(ctx context.Context, caller screening.Caller, req screening.SingleRequest) (screening.SingleResult, error)
	Batch(ctx context.Context, caller screening.Caller, req screening.BatchRequest) (screening.BatchResult, error)
	Demo(ctx context.Context, caller screening.Caller, req screening.DemoRequest) (screening.SingleResult, error)
}

type Accounts interface {
	Resolve(ctx context.Context, bearer string) (*storage.User, error)
	Login(ctx context.Context, email, password string, userType storage.UserType) (auth.Token, error)
	RegisterEmployee(ctx context.Context, reg auth.EmployeeRegistration) (auth.Registered, error)
	RegisterEmployer(ctx context.Context, reg auth.EmployerRegistration) (auth.Registered, error)
}

type History interface {
	RecentUploads(ctx context.Context, userID string, limit int64) ([]storage.UploadRecord, error)
	RecentBatches(ctx context.Context, userID string, limit int64) ([]storage.BatchSummary, error)
}

type Deps struct {
	Screening Screener
	Accounts  Accounts
	History   History
	Logger    *zap.Logger
	Recorder  HTTPRecorder
	Metrics   http.Handler
	// Ready reports whether backing stores are reachable.
	Ready func(ctx context.Context) error

	TrustForwardedFor bool
	MaxUploadBytes    int64
}

type server struct {
	screening Screener
	accounts  Accounts
	history   History
	ready     func(ctx context.Context) error

	trustForwardedFor bool
	maxUploadBytes    int64
}

// NewHandler builds the routed HTTP handler.
func NewHandler(deps Deps) http.Handler {
	s := &server{
		screening:         deps.Screening,
		accounts:          deps.Accounts,
		history:           deps.History,
		ready:             deps.Ready,
		trustForwardedFor: deps.TrustForwardedFor,
		maxUploadBytes:    deps.MaxUploadBytes,
	}
	if s.maxUploadBytes <= 0 {
		s.maxUploadBytes = defaultMaxUploadBytes
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := mux.NewRouter()
	router.Use(observe(logger.Named("http"), deps.Recorder), recoverPanics)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/demo", s.demo).Methods(http.MethodPost)
	api.HandleFunc("/register/employee", s.registerEmployee).Methods(http.MethodPost)
	api.HandleFunc("/register/employer", s.registerEmployer).Methods(http.MethodPost)
	api.HandleFunc("/token", s.token).Methods(http.MethodPost)

	private := api.NewRoute().Subrouter()
	private.Use(s.requireUser)
	private.HandleFunc("/employee", s.employee).Methods(http.MethodPost)
	private.HandleFunc("/employer", s.employer).Methods(http.MethodPost)
	private.HandleFunc("/profile", s.profile).Methods(http.MethodGet)
	private.HandleFunc("/profile/history", s.profileHistory).Methods(http.MethodGet)

	router.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)
	if deps.Metrics != nil {
		router.Handle("/metrics", deps.Metrics).Methods(http.MethodGet)
	}

	return cors(router)
}

func (s *server) healthz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			requestLogger(r).Warn("readiness check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
