package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/leca/dt-image-store/internal/api"
	"github.com/leca/dt-image-store/internal/config"
	"github.com/leca/dt-image-store/internal/handler"
	"github.com/leca/dt-image-store/internal/imagestore"
	"github.com/leca/dt-image-store/internal/upload"
)

const (
	// imageField is the multipart field carrying the uploaded file.
	imageField = "image"
	// nameField is the optional form field suggesting a file name.
	nameField = "name"
	// formOverhead is the room left in a request body for multipart framing
	// and plain fields on top of the file itself.
	formOverhead = 1 << 20
)

// Server holds the application dependencies and HTTP router.
type Server struct {
	Store  *imagestore.Storage
	Config *config.Config
	Router chi.Router
}

// New creates a new Server with a fully configured chi router.
func New(store *imagestore.Storage, cfg *config.Config) *Server {
	s := &Server{Store: store, Config: cfg}

	h := &handler.Handler{
		Store:   store,
		Bounds:  cfg.Bounds(),
		Started: time.Now(),
	}

	r := chi.NewRouter()

	// CORS — must be before other middleware to handle preflight OPTIONS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Content-Length", "Content-Type", "X-Cache"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.Health)
	r.Get("/stats", h.GetStats)
	r.Get("/images", h.ListImages)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	naming := upload.NamingPolicy{AllowNaming: cfg.AllowNaming, NameField: nameField}
	r.With(
		api.RequireMultipart,
		api.BodyLimit(cfg.MaxFileSize+formOverhead),
		store.StoreImageMiddleware(naming, imageField),
	).Post("/image", h.UploadImage)
	r.Get("/image/{filename}", h.GetImage)

	r.NotFound(h.NotFound)

	s.Router = r
	return s
}
