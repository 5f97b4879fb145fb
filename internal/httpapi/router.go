package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/fieldsync/syncserver/internal/auth"
	"github.com/fieldsync/syncserver/internal/authflow"
	"github.com/fieldsync/syncserver/internal/syncengine"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Server holds the dependencies HTTP handlers need: the connection pool
// (for health checks), the sync/resolve-conflict engine, the auth/OTP
// workflow, and the JWT config the bearer middleware validates against.
type Server struct {
	DB       *pgxpool.Pool
	JWTCfg   auth.JWTCfg
	Engine   *syncengine.Engine
	AuthFlow *authflow.Flow
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode json response")
	}
}

// errorResponse is a standalone error body, not wired to a conflict.
type errorResponse struct {
	Error         string `json:"error"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// writeError writes a plain error response with the correlation ID from
// context, for errors with no richer conflict payload to attach.
func writeError(w http.ResponseWriter, r *http.Request, code int, message string) {
	writeJSON(w, code, errorResponse{
		Error:         message,
		CorrelationID: GetCorrelationID(r.Context()),
	})
}

// entityURLToKey maps the /api/sync/{entity} path segment to the registry
// entity key, since the URL spells task-assignment with a hyphen while the
// registry (and the stored table name) use an underscore.
var entityURLToKey = map[string]string{
	"user":            "user",
	"registration":    "registration",
	"supply":          "supply",
	"task":            "task",
	"task-assignment": "task_assignment",
	"location":        "location",
	"alert":           "alert",
	"notification":    "notification",
}

// Routes builds the full HTTP route table: auth routes plus a
// sync/resolve-conflict pair per registered entity.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(CorrelationMiddleware)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/api/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Get("/api/sync/info", s.Info)

	r.Post("/api/register", s.Register)
	r.Post("/api/login", s.Login)
	r.Post("/api/forgot-password", s.ForgotPassword)
	r.Post("/api/verify-otp", s.VerifyOTP)
	r.Post("/api/reset-password", s.ResetPassword)

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(s.JWTCfg))

		r.Get("/api/test-protected", s.TestProtected)

		for urlSeg, entityKey := range entityURLToKey {
			urlSeg, entityKey := urlSeg, entityKey
			r.Post("/api/sync/"+urlSeg, s.syncHandler(entityKey))
			r.Post("/api/sync/"+urlSeg+"/resolve-conflict", s.resolveConflictHandler(entityKey))
		}
	})

	return r
}
