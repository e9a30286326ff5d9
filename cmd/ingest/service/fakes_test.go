package service

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/assetingest/cmd/ingest/repository"
	"github.com/lyzr/assetingest/common/blobstore"
	"github.com/lyzr/assetingest/common/logger"
	"github.com/lyzr/assetingest/common/metrics"
	"github.com/lyzr/assetingest/common/models"
)

// fakeStore is an in-memory blob store with failure injection
type fakeStore struct {
	mu         sync.Mutex
	blobs      map[string][]byte
	puts       []string
	deletes    []string
	failPut    func(name string) error
	failDelete error
}

func newFakeStore() *fakeStore {
	return &fakeStore{blobs: make(map[string][]byte)}
}

func (s *fakeStore) Put(ctx context.Context, name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts = append(s.puts, name)
	if s.failPut != nil {
		if err := s.failPut(name); err != nil {
			return err
		}
	}
	s.blobs[name] = append([]byte(nil), data...)
	return nil
}

func (s *fakeStore) Get(ctx context.Context, name string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.blobs[name]
	if !ok {
		return nil, blobstore.ErrNotFound
	}
	return data, nil
}

func (s *fakeStore) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes = append(s.deletes, name)
	if s.failDelete != nil {
		return s.failDelete
	}
	if _, ok := s.blobs[name]; !ok {
		return blobstore.ErrNotFound
	}
	delete(s.blobs, name)
	return nil
}

func (s *fakeStore) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.blobs))
	for name := range s.blobs {
		out = append(out, name)
	}
	return out
}

func (s *fakeStore) putCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.puts)
}

// failingCatalog refuses writes
type failingCatalog struct {
	*repository.MemoryAssetRepository
	err error
}

func (c *failingCatalog) Create(ctx context.Context, asset *models.Asset) error {
	return c.err
}

// recordingOrphans remembers reported names
type recordingOrphans struct {
	mu    sync.Mutex
	names []string
}

func (r *recordingOrphans) ReportOrphan(ctx context.Context, name string, cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, name)
}

func testMetrics() *metrics.Metrics {
	return metrics.MustNew(prometheus.NewRegistry())
}

func testPolicy() RenditionPolicy {
	return RenditionPolicy{MaxWidth: 192, MaxHeight: 108, Format: "jpeg", Quality: 80}
}

type pipelineFixture struct {
	pipeline *Pipeline
	store    *fakeStore
	catalog  *repository.MemoryAssetRepository
	orphans  *recordingOrphans
}

func newPipelineFixture(t *testing.T, maxBytes int64, catalog Catalog) *pipelineFixture {
	t.Helper()
	store := newFakeStore()
	mem := repository.NewMemoryAssetRepository()
	if catalog == nil {
		catalog = mem
	}
	orphans := &recordingOrphans{}

	p := NewPipeline(PipelineDeps{
		Validator: NewValidator(ValidationPolicy{
			AllowedTypes: []string{"image/jpeg", "image/png", "image/webp", "image/gif"},
			MaxBytes:     maxBytes,
		}),
		Allocator: NewAllocator(),
		Store:     store,
		Engine:    NewRenditionEngine(testPolicy(), 2, testMetrics()),
		Catalog:   catalog,
		Orphans:   orphans,
		Metrics:   testMetrics(),
		Logger:    logger.Discard(),
	}, PipelineConfig{PublicBase: "uploads", DefaultListLimit: 50, MaxListLimit: 200})

	return &pipelineFixture{pipeline: p, store: store, catalog: mem, orphans: orphans}
}

func gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	return img
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, gradient(w, h), &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func pngBytes(t *testing.T, w, h int, translucent bool) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			a := uint8(255)
			if translucent {
				a = 100
			}
			img.Set(x, y, color.NRGBA{R: 200, G: uint8(x), B: uint8(y), A: a})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func gifBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, gif.Encode(&buf, gradient(w, h), nil))
	return buf.Bytes()
}
