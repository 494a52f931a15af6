package image

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"
	"time"

	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/alteration-tracker/internal/errs"
	"github.com/aliskhannn/alteration-tracker/internal/model"
	"github.com/aliskhannn/alteration-tracker/internal/processor"
	"github.com/aliskhannn/alteration-tracker/internal/storage/object"
)

// objectStorage defines the interface for the remote object store.
type objectStorage interface {
	Put(ctx context.Context, src io.Reader, size int64, contentType, ext string) (object.Object, error)
}

// transcoder defines the interface for the CPU-bound transform stage.
type transcoder interface {
	Transcode(data []byte) (*processor.Result, error)
}

// Options holds the ingestion limits.
type Options struct {
	MaxUploadBytes int64
	UploadTimeout  time.Duration
}

// Service turns raw uploaded bytes into a stored, referenceable image.
// Each call is independent; the storage client is the only shared resource.
type Service struct {
	storage   objectStorage
	processor transcoder
	opts      Options
}

// NewService creates a new Service with the given storage, processor and limits.
func NewService(s objectStorage, p transcoder, opts Options) *Service {
	return &Service{storage: s, processor: p, opts: opts}
}

// Ingest validates, transcodes and uploads an image. Stages run in order and
// each one is a hard gate: nothing is transcoded for an oversized or non-image
// upload, and nothing is uploaded for an undecodable one.
func (s *Service) Ingest(ctx context.Context, data []byte, contentType string) (*model.ImageAsset, error) {
	if int64(len(data)) > s.opts.MaxUploadBytes {
		return nil, fmt.Errorf("image is %d bytes, limit is %d: %w", len(data), s.opts.MaxUploadBytes, errs.ErrPayloadTooLarge)
	}

	if !isImageType(contentType) {
		return nil, fmt.Errorf("content type %q is not an image: %w", contentType, errs.ErrUnsupportedMedia)
	}

	res, err := s.processor.Transcode(data)
	if err != nil {
		if errors.Is(err, processor.ErrDecode) {
			return nil, fmt.Errorf("image could not be decoded: %w", errs.ErrValidation)
		}
		return nil, fmt.Errorf("transcode: %w", err)
	}

	zlog.Logger.Debug().
		Int("original_bytes", len(data)).
		Int("transcoded_bytes", len(res.Data)).
		Int("width", res.Width).
		Int("height", res.Height).
		Msg("image transcoded")

	obj, err := s.upload(ctx, res.Data)
	if err != nil {
		return nil, err
	}

	zlog.Logger.Info().
		Str("public_id", obj.Key).
		Int64("bytes", obj.Size).
		Msg("image stored")

	return &model.ImageAsset{
		ImageRef: model.ImageRef{URL: obj.URL, PublicID: obj.Key},
		Bytes:    int64(len(res.Data)),
		Width:    res.Width,
		Height:   res.Height,
		Format:   res.Format,
	}, nil
}

type putResult struct {
	obj object.Object
	err error
}

// upload blocks until the object store accepts the bytes or the upload
// deadline passes. It is detached from the caller's cancellation so that a
// disconnecting client does not abort a half-written object; the deadline is
// what bounds it.
func (s *Service) upload(ctx context.Context, data []byte) (object.Object, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.UploadTimeout)
	defer cancel()

	done := make(chan putResult, 1)
	go func() {
		obj, err := s.storage.Put(ctx, bytes.NewReader(data), int64(len(data)), "image/"+processor.OutputFormat, "jpg")
		done <- putResult{obj: obj, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return object.Object{}, fmt.Errorf("%w: %v", errs.ErrUpstreamStorage, r.err)
		}
		return r.obj, nil
	case <-ctx.Done():
		return object.Object{}, fmt.Errorf("%w: upload did not finish within %s", errs.ErrUpstreamStorage, s.opts.UploadTimeout)
	}
}

// isImageType reports whether the declared content type is in the image family.
func isImageType(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}

	return strings.HasPrefix(mt, "image/") && len(mt) > len("image/")
}
