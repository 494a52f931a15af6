package image

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/docker/go-units"
	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/alteration-tracker/internal/api/respond"
	"github.com/aliskhannn/alteration-tracker/internal/errs"
	"github.com/aliskhannn/alteration-tracker/internal/model"
)

// formField is the multipart field carrying the image.
const formField = "image"

// multipartOverhead is the room left for boundaries and part headers on top
// of the file size cap.
const multipartOverhead = 1 << 20

// service defines the interface for image ingestion.
type service interface {
	Ingest(ctx context.Context, data []byte, contentType string) (*model.ImageAsset, error)
}

// Handler provides HTTP handlers for image endpoints.
type Handler struct {
	service   service
	maxUpload int64
}

// NewHandler creates a new Handler with the given service and file size cap.
func NewHandler(s service, maxUpload int64) *Handler {
	return &Handler{service: s, maxUpload: maxUpload}
}

// Upload handles POST /images. It reads the multipart field "image", runs
// it through the ingestion pipeline, and responds with the stored reference.
func (h *Handler) Upload(c *ginext.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload+multipartOverhead)

	file, header, err := c.Request.FormFile(formField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			respond.FromError(c, h.tooLarge())
		case errors.Is(err, http.ErrMissingFile):
			respond.Fail(c, http.StatusBadRequest, fmt.Errorf("no file uploaded in field %q", formField))
		default:
			zlog.Logger.Warn().Err(err).Msg("failed to read multipart form")
			respond.Fail(c, http.StatusBadRequest, fmt.Errorf("expected multipart form with field %q", formField))
		}
		return
	}
	defer file.Close()

	if header.Size > h.maxUpload {
		respond.FromError(c, h.tooLarge())
		return
	}

	// one byte past the cap is enough for the size gate to fire
	data, err := io.ReadAll(io.LimitReader(file, h.maxUpload+1))
	if err != nil {
		respond.FromError(c, fmt.Errorf("read upload: %w", err))
		return
	}

	contentType := header.Header.Get("Content-Type")

	zlog.Logger.Debug().
		Str("filename", header.Filename).
		Int64("size", header.Size).
		Str("content_type", contentType).
		Msg("image received")

	asset, err := h.service.Ingest(c.Request.Context(), data, contentType)
	if err != nil {
		respond.FromError(c, err)
		return
	}

	respond.Created(c, asset)
}

func (h *Handler) tooLarge() error {
	return fmt.Errorf("%w: image exceeds %s", errs.ErrPayloadTooLarge, units.BytesSize(float64(h.maxUpload)))
}
