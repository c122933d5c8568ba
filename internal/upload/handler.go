// Package upload streams multipart image uploads into the permanent store,
// admitting them against the capacity budget before any byte is written.
package upload

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/leca/dt-image-store/internal/capacity"
	"github.com/leca/dt-image-store/internal/catalog"
	"github.com/leca/dt-image-store/internal/imageproc"
	"github.com/leca/dt-image-store/internal/model"
)

var (
	ErrNotMultipart     = errors.New("request is not multipart/form-data")
	ErrMalformedForm    = errors.New("malformed multipart form")
	ErrNoFile           = errors.New("no image provided")
	ErrUnexpectedField  = errors.New("unexpected file field")
	ErrUnsupportedType  = errors.New("unsupported image type")
	ErrFileTooLarge     = errors.New("file too large")
	ErrFieldNameTooLong = errors.New("field name too long")
	ErrUploadFailed     = errors.New("upload failed")
)

const (
	// sniffSize is how much of the file is inspected to confirm its type.
	sniffSize = 3072
	// maxFieldValueSize bounds plain form values read before the file part.
	maxFieldValueSize = 1 << 16
)

// Result is a completed upload.
type Result struct {
	Image model.Image
	// Requested is the name the engine asked for when the image was stored
	// under a different one because of a collision. Empty otherwise.
	Requested string
}

type resultKey struct{}

// WithResult returns a copy of ctx carrying res.
func WithResult(ctx context.Context, res *Result) context.Context {
	return context.WithValue(ctx, resultKey{}, res)
}

// ResultFromContext returns the upload stored by WithResult.
func ResultFromContext(ctx context.Context) (*Result, bool) {
	res, ok := ctx.Value(resultKey{}).(*Result)
	return res, ok
}

// Handler consumes one image per request.
type Handler struct {
	Engine           Engine
	Catalog          *catalog.Catalog
	Tracker          *capacity.Tracker
	Evictor          capacity.Evictor
	FieldName        string
	MaxFileSize      int64
	MaxFieldNameSize int
	// MaxPixels rejects images whose header declares more pixels. Zero
	// means imageproc.DefaultMaxPixels.
	MaxPixels int64
}

// Handle reads the multipart body of r. Plain fields before the file part are
// handed to the engine for naming; the file part must be under FieldName and
// parts after it are ignored.
func (h *Handler) Handle(r *http.Request) (*Result, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotMultipart, err)
	}

	form := url.Values{}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, ErrNoFile
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedForm, err)
		}

		field := part.FormName()
		if h.MaxFieldNameSize > 0 && len(field) > h.MaxFieldNameSize {
			return nil, fmt.Errorf("%w: %d bytes", ErrFieldNameTooLong, len(field))
		}

		if part.FileName() == "" {
			value, err := io.ReadAll(io.LimitReader(part, maxFieldValueSize+1))
			if err != nil {
				return nil, fmt.Errorf("%w: reading field %q: %w", ErrMalformedForm, field, err)
			}
			if len(value) > maxFieldValueSize {
				return nil, fmt.Errorf("%w: field %q too large", ErrMalformedForm, field)
			}
			form.Add(field, string(value))
			continue
		}

		if field != h.FieldName {
			return nil, fmt.Errorf("%w: %q", ErrUnexpectedField, field)
		}
		return h.store(r, form, part.FileName(), part.Header.Get("Content-Type"), part)
	}
}

func (h *Handler) store(r *http.Request, form url.Values, fileName, declared string, body io.Reader) (*Result, error) {
	ctx := r.Context()

	ct, ok := model.ParseContentType(declared)
	if !ok {
		return nil, fmt.Errorf("%w: declared %q", ErrUnsupportedType, declared)
	}

	br := bufio.NewReaderSize(body, sniffSize)
	head, err := br.Peek(sniffSize)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}
	if len(head) == 0 {
		return nil, ErrNoFile
	}
	if sniffed := mimetype.Detect(head); !sniffed.Is("image/png") && !sniffed.Is("image/jpeg") {
		return nil, fmt.Errorf("%w: content is %s", ErrUnsupportedType, sniffed.String())
	}
	// Headers that end past the peeked bytes are checked again on resize.
	if err := imageproc.CheckPixels(head, h.MaxPixels); errors.Is(err, imageproc.ErrTooManyPixels) {
		return nil, err
	}

	estimate := h.MaxFileSize
	if r.ContentLength > 0 && r.ContentLength < estimate {
		estimate = r.ContentLength
	}
	reservation, err := h.Tracker.Reserve(estimate, h.Evictor)
	if err != nil {
		return nil, err
	}

	info := FileInfo{FieldName: h.FieldName, FileName: fileName, ContentType: ct}
	requested, err := h.Engine.CustomizeFilename(form, info)
	if err != nil {
		reservation.Release()
		return nil, err
	}
	name := h.Catalog.Claim(requested, func() string {
		return uuid.NewString() + "." + ct.Extension()
	})

	n, err := h.Engine.WriteStream(ctx, name, &limitedReader{ctx: ctx, r: br, n: estimate})
	if err != nil {
		h.abort(name, reservation)
		if errors.Is(err, ErrFileTooLarge) {
			return nil, fmt.Errorf("%w: limit is %d bytes", ErrFileTooLarge, estimate)
		}
		return nil, fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}

	img := h.Catalog.Register(name, ct, n, reservation)
	slog.Info("stored image", "name", img.Name, "size", img.Size, "contentType", img.ContentType)
	res := &Result{Image: img}
	if name != requested {
		res.Requested = requested
	}
	return res, nil
}

// abort undoes a failed write. The engine does not leave partial files, so a
// missing file is expected here.
func (h *Handler) abort(name string, reservation *capacity.Reservation) {
	if err := h.Engine.RemoveFile(name); err == nil {
		slog.Warn("removed partial upload", "name", name)
	}
	reservation.Release()
	h.Catalog.Release(name)
}

// limitedReader fails with ErrFileTooLarge once more than n bytes are read,
// and stops as soon as ctx is done.
type limitedReader struct {
	ctx context.Context
	r   io.Reader
	n   int64
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if err := l.ctx.Err(); err != nil {
		return 0, err
	}
	if l.n <= 0 {
		var extra [1]byte
		k, err := l.r.Read(extra[:])
		if k > 0 {
			return 0, ErrFileTooLarge
		}
		return 0, err
	}
	if int64(len(p)) > l.n {
		p = p[:l.n]
	}
	k, err := l.r.Read(p)
	l.n -= int64(k)
	return k, err
}
