package handler

import (
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/leca/dt-image-store/internal/api"
	"github.com/leca/dt-image-store/internal/imageproc"
	"github.com/leca/dt-image-store/internal/imagestore"
	"github.com/leca/dt-image-store/internal/model"
	"github.com/leca/dt-image-store/internal/upload"
)

// UploadImage handles POST /image after the store middleware has written the
// file. It reports the stored image.
func (h *Handler) UploadImage(w http.ResponseWriter, r *http.Request) {
	res, ok := upload.ResultFromContext(r.Context())
	if !ok {
		api.InternalError(w, "upload result missing")
		return
	}
	resp := api.SuccessResponse(res.Image)
	if res.Requested != "" {
		resp = resp.WithMessage(api.MessageRenamed,
			"name "+res.Requested+" is taken, stored as "+res.Image.Name)
	}
	api.WriteJSON(w, http.StatusOK, resp)
}

// GetImage handles GET /image/{filename}[?resolution=HxW].
func (h *Handler) GetImage(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "filename")

	var res *model.Resolution
	if q := r.URL.Query().Get("resolution"); q != "" {
		parsed, err := model.ParseResolution(q, h.Bounds)
		if err != nil {
			api.InvalidField(w, "resolution", err.Error())
			return
		}
		res = &parsed
	}

	result, err := h.Store.GetImage(r.Context(), name, res)
	if err != nil {
		if errors.Is(err, imagestore.ErrImageNotFound) {
			api.NotFound(w, "image not found")
			return
		}
		if errors.Is(err, imageproc.ErrTooManyPixels) {
			api.Unprocessable(w, "image is too large to resize")
			return
		}
		slog.Error("serving image", "name", name, "error", err)
		api.InternalError(w, "failed to read image")
		return
	}

	cacheStatus := "MISS"
	if result.Cached {
		cacheStatus = "HIT"
	}
	if res == nil {
		cacheStatus = "BYPASS"
	}

	w.Header().Set("Content-Type", string(result.Image.ContentType))
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
	disposition := mime.FormatMediaType("inline", map[string]string{"filename": result.Image.Name})
	if disposition == "" {
		disposition = "inline"
	}
	w.Header().Set("Content-Disposition", disposition)
	w.Header().Set("X-Cache", cacheStatus)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(result.Data); err != nil {
		slog.Warn("writing image response", "name", name, "error", err)
	}
}

// ListImages handles GET /images.
func (h *Handler) ListImages(w http.ResponseWriter, r *http.Request) {
	page := 1
	perPage := 100
	if v := r.URL.Query().Get("page"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			page = p
		}
	}
	if v := r.URL.Query().Get("per_page"); v != "" {
		if pp, err := strconv.Atoi(v); err == nil && pp > 0 {
			perPage = min(pp, 1000)
		}
	}

	images, total, err := h.Store.ListImages(page, perPage)
	if err != nil {
		slog.Error("listing images", "error", err)
		api.InternalError(w, "failed to list images")
		return
	}

	// Ensure non-nil slice for JSON serialisation.
	if images == nil {
		images = []model.Image{}
	}

	info := api.ResultInfo{
		Page:       page,
		PerPage:    perPage,
		Count:      len(images),
		TotalCount: total,
		TotalPages: (total + perPage - 1) / perPage,
	}
	api.WriteJSON(w, http.StatusOK, api.PaginatedResponse(map[string]interface{}{"images": images}, info))
}
