package imagestore

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/leca/dt-image-store/internal/api"
	"github.com/leca/dt-image-store/internal/capacity"
	"github.com/leca/dt-image-store/internal/imageproc"
	"github.com/leca/dt-image-store/internal/metrics"
	"github.com/leca/dt-image-store/internal/storage"
	"github.com/leca/dt-image-store/internal/upload"
)

// StoreImageMiddleware consumes one image uploaded under fieldName, named by
// customizer. On success the stored image is put in the request context (see
// upload.ResultFromContext) and next is called; on failure an error response
// is written and next is not called.
func (s *Storage) StoreImageMiddleware(customizer upload.FilenameCustomizer, fieldName string) func(http.Handler) http.Handler {
	h := &upload.Handler{
		Engine:           upload.NewDiskEngine(customizer, s.permanent),
		Catalog:          s.catalog,
		Tracker:          s.tracker,
		Evictor:          s.cache,
		FieldName:        fieldName,
		MaxFileSize:      s.opts.MaxFileSize,
		MaxFieldNameSize: s.opts.MaxFieldNameSize,
		MaxPixels:        s.opts.MaxInputPixels,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, err := h.Handle(r)
			if err != nil {
				writeUploadError(w, err)
				return
			}
			metrics.RecordUpload("stored")

			if s.journal != nil {
				if err := s.journal.RecordImage(res.Image); err != nil {
					slog.Error("journaling upload", "name", res.Image.Name, "error", err)
				}
			}

			next.ServeHTTP(w, r.WithContext(upload.WithResult(r.Context(), res)))
		})
	}
}

func writeUploadError(w http.ResponseWriter, err error) {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.Is(err, capacity.ErrInsufficientCapacity):
		metrics.RecordUpload("rejected")
		slog.Warn("upload rejected", "error", err)
		api.InsufficientStorage(w, "insufficient storage capacity")
	case errors.Is(err, upload.ErrFileTooLarge), errors.As(err, &maxBytes),
		errors.Is(err, imageproc.ErrTooManyPixels):
		metrics.RecordUpload("rejected")
		api.TooLarge(w, err.Error())
	case errors.Is(err, upload.ErrUnsupportedType):
		metrics.RecordUpload("rejected")
		api.UnsupportedMediaType(w, err.Error())
	case errors.Is(err, upload.ErrNotMultipart),
		errors.Is(err, upload.ErrMalformedForm),
		errors.Is(err, upload.ErrNoFile),
		errors.Is(err, upload.ErrFieldNameTooLong),
		errors.Is(err, storage.ErrInvalidName):
		metrics.RecordUpload("rejected")
		api.BadRequest(w, err.Error())
	case errors.Is(err, upload.ErrUnexpectedField):
		metrics.RecordUpload("rejected")
		api.InvalidField(w, "file", err.Error())
	default:
		metrics.RecordUpload("failed")
		slog.Error("upload failed", "error", err)
		api.InternalError(w, "failed to store image")
	}
}
