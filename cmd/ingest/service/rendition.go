package service

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/semaphore"

	"github.com/lyzr/assetingest/common/metrics"
)

// maxSourcePixels guards against decompression bombs; 100 megapixels
const maxSourcePixels = 100_000_000

// RenditionPolicy bounds and encodes the served copy of an image
type RenditionPolicy struct {
	MaxWidth  int
	MaxHeight int
	Format    string // "jpeg", "png" or "auto"
	Quality   int    // JPEG quality 1..100
	// Progressive is advisory. The JPEG encoder in use writes baseline scans.
	Progressive bool
}

// Rendition is a derived image and its final dimensions
type Rendition struct {
	Data        []byte
	Width       int
	Height      int
	ContentType string
	Ext         string
}

// RenditionEngine decodes, bounds and re-encodes images on a limited number of workers
type RenditionEngine struct {
	policy  RenditionPolicy
	sem     *semaphore.Weighted
	metrics *metrics.Metrics
}

// NewRenditionEngine allows at most workers derivations to run at once
func NewRenditionEngine(policy RenditionPolicy, workers int, m *metrics.Metrics) *RenditionEngine {
	if workers < 1 {
		workers = 1
	}
	return &RenditionEngine{
		policy:  policy,
		sem:     semaphore.NewWeighted(int64(workers)),
		metrics: m,
	}
}

// Policy returns the engine's rendition policy
func (e *RenditionEngine) Policy() RenditionPolicy {
	return e.policy
}

// Derive produces the rendition of src. Waiting for a worker honours ctx.
func (e *RenditionEngine) Derive(ctx context.Context, src []byte) (*Rendition, error) {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, &IngestError{
			Stage:   StageDerive,
			Kind:    KindTransientStorage,
			Code:    CodeTimeout,
			Message: "no rendition worker became available in time",
			Err:     err,
		}
	}
	defer e.sem.Release(1)

	e.metrics.RenditionStarted()
	defer e.metrics.RenditionDone()

	return e.derive(src)
}

func (e *RenditionEngine) derive(src []byte) (*Rendition, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(src))
	if err != nil {
		return nil, processingFailure(CodeUnsupportedInput, "image could not be decoded", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > maxSourcePixels {
		return nil, processingFailure(CodeUnsupportedInput,
			fmt.Sprintf("image dimensions %dx%d are not supported", cfg.Width, cfg.Height), nil)
	}

	img, err := imaging.Decode(bytes.NewReader(src), imaging.AutoOrientation(true))
	if err != nil {
		return nil, processingFailure(CodeUnsupportedInput, "image could not be decoded", err)
	}

	b := img.Bounds()
	w, h := FitWithin(b.Dx(), b.Dy(), e.policy.MaxWidth, e.policy.MaxHeight)
	if w != b.Dx() || h != b.Dy() {
		img = imaging.Resize(img, w, h, imaging.Lanczos)
	}

	out, contentType, ext := e.outputFormat(format)

	var encodeOpts []imaging.EncodeOption
	if out == imaging.JPEG {
		img = flatten(img)
		encodeOpts = append(encodeOpts, imaging.JPEGQuality(e.policy.Quality))
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, out, encodeOpts...); err != nil {
		return nil, processingFailure(CodeEncodeError, "rendition could not be encoded", err)
	}

	final := img.Bounds()
	return &Rendition{
		Data:        buf.Bytes(),
		Width:       final.Dx(),
		Height:      final.Dy(),
		ContentType: contentType,
		Ext:         ext,
	}, nil
}

// outputFormat picks the encoding for a source decoded as format
func (e *RenditionEngine) outputFormat(format string) (imaging.Format, string, string) {
	switch e.policy.Format {
	case "png":
		return imaging.PNG, "image/png", "png"
	case "auto":
		if format == "png" || format == "gif" {
			return imaging.PNG, "image/png", "png"
		}
	}
	return imaging.JPEG, "image/jpeg", "jpg"
}

// flatten composites translucent images onto white so JPEG output has no dark fringes
func flatten(img image.Image) image.Image {
	if o, ok := img.(interface{ Opaque() bool }); ok && o.Opaque() {
		return img
	}
	b := img.Bounds()
	bg := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(bg, img, image.Pt(0, 0), 1.0)
}

// FitWithin scales srcW x srcH to fit inside boundW x boundH keeping aspect ratio.
// It never enlarges. The limiting axis lands exactly on its bound and the other
// is rounded to the nearest pixel, minimum 1.
func FitWithin(srcW, srcH, boundW, boundH int) (int, int) {
	if srcW <= boundW && srcH <= boundH {
		return srcW, srcH
	}

	// Compare boundW/srcW with boundH/srcH without floating point
	if int64(boundW)*int64(srcH) <= int64(boundH)*int64(srcW) {
		h := (int64(srcH)*int64(boundW) + int64(srcW)/2) / int64(srcW)
		return boundW, max(int(h), 1)
	}
	w := (int64(srcW)*int64(boundH) + int64(srcH)/2) / int64(srcH)
	return max(int(w), 1), boundH
}
