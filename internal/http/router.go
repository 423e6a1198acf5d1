package http

import (
	"net/http"

	"tms/internal/auth"
	"tms/internal/config"
	"tms/internal/http/handler"
	mw "tms/internal/http/middleware"
	"tms/internal/task"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"gorm.io/gorm"
)

func NewRouter(cfg config.Config, db *gorm.DB, jwtSvc *auth.JWT) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(mw.CORS(cfg.CORSAllowedOrigins, cfg.CORSAllowCredentials))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	ah := &handler.AuthHandler{
		DB:             db,
		JWT:            jwtSvc,
		SignupTokenTTL: cfg.SignupTokenTTL,
		LoginTokenTTL:  cfg.LoginTokenTTL,
	}
	r.Post("/auth/signup", ah.Signup)
	r.Post("/auth/login", ah.Login)

	me := &handler.MeHandler{DB: db}
	r.With(auth.RequireAuth(jwtSvc)).Get("/me", me.Me)

	taskSvc := &task.Service{DB: db}
	th := &handler.TaskHandler{Svc: taskSvc}

	r.Route("/tasks", func(r chi.Router) {
		r.Use(auth.RequireAuth(jwtSvc))

		r.Post("/", th.Create)
		r.Get("/", th.List)

		r.Put("/bulk-update", th.BulkUpdate)

		r.Get("/{id}", th.Get)
		r.Put("/{id}", th.Update)
		r.Delete("/{id}", th.Delete)
	})

	return r
}
