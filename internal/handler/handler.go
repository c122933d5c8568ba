package handler

import (
	"time"

	"github.com/leca/dt-image-store/internal/imagestore"
	"github.com/leca/dt-image-store/internal/model"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	Store   *imagestore.Storage
	Bounds  model.ResolutionBounds
	Started time.Time
}
