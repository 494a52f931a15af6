package processor

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp" // imaging does not register a WebP decoder
)

// OutputFormat is the encoding every transcoded image is stored in.
const OutputFormat = "jpeg"

// ErrDecode is returned when the input bytes are not a decodable image.
var ErrDecode = errors.New("failed to decode image")

// Options controls the transform stage.
type Options struct {
	MaxWidth int // longest edge in pixels, never upscaled
	Quality  int // JPEG quality 1-100
}

// Result is the re-encoded image ready for upload.
type Result struct {
	Data   []byte
	Width  int
	Height int
	Format string
}

// Processor normalizes uploaded images: it applies EXIF orientation, bounds
// the longest edge and re-encodes to JPEG.
type Processor struct {
	opts Options
}

// New creates a new Processor with the given options.
func New(opts Options) *Processor {
	return &Processor{opts: opts}
}

// Transcode decodes data, rotates it upright, shrinks it so that its longest
// edge fits MaxWidth and encodes it as JPEG at the configured quality.
// The whole image is held in memory; callers bound len(data) beforehand.
func (p *Processor) Transcode(data []byte) (*Result, error) {
	// Decode with EXIF orientation applied so the output is upright.
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	img = p.fit(img)

	buf := bytes.NewBuffer(make([]byte, 0, len(data)))
	if err := imaging.Encode(buf, img, imaging.JPEG, imaging.JPEGQuality(p.opts.Quality)); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	b := img.Bounds()

	return &Result{
		Data:   buf.Bytes(),
		Width:  b.Dx(),
		Height: b.Dy(),
		Format: OutputFormat,
	}, nil
}

// fit bounds the longest edge by MaxWidth, keeping the aspect ratio.
// Images already within bounds are returned unchanged.
func (p *Processor) fit(img image.Image) image.Image {
	b := img.Bounds()
	if b.Dx() <= p.opts.MaxWidth && b.Dy() <= p.opts.MaxWidth {
		return img
	}

	return imaging.Fit(img, p.opts.MaxWidth, p.opts.MaxWidth, imaging.Lanczos)
}
