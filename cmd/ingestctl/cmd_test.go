package main

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/assetingest/cmd/ingest/container"
	"github.com/lyzr/assetingest/cmd/ingest/handlers"
	"github.com/lyzr/assetingest/cmd/ingest/repository"
	"github.com/lyzr/assetingest/common/bootstrap"
	"github.com/lyzr/assetingest/common/config"
	"github.com/lyzr/assetingest/common/logger"
)

// useMemoryBackends points every invocation in the test at one shared
// catalog and a temporary blob directory
func useMemoryBackends(t *testing.T) *repository.MemoryAssetRepository {
	t.Helper()

	cfg := config.Default("ingestctl")
	cfg.Ingest.CatalogBackend = "memory"
	cfg.Storage.LocalDir = t.TempDir()
	cfg.Cache.Enabled = false
	cfg.Ingest.MaxWidth = 64
	cfg.Ingest.MaxHeight = 64

	catalog := repository.NewMemoryAssetRepository()
	setupOptions = []bootstrap.Option{
		bootstrap.WithCustomConfig(cfg),
		bootstrap.WithCustomLogger(logger.Discard()),
		bootstrap.WithRegisterer(prometheus.NewRegistry()),
	}
	containerOptions = []container.Option{container.WithCatalog(catalog)}

	t.Cleanup(func() {
		setupOptions = nil
		containerOptions = nil
	})
	return catalog
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	outputJSON, verbose, principal, listLimit, listName = false, false, "ingestctl", 0, ""

	var out bytes.Buffer
	err := run(context.Background(), args, &out, &out)
	return out.String(), err
}

func writeJPEG(t *testing.T, dir, name string, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

// TestCommandStructure verifies that all commands are properly registered
func TestCommandStructure(t *testing.T) {
	for _, name := range []string{"ingest", "list", "ls", "rm", "watch"} {
		t.Run(name, func(t *testing.T) {
			cmd, _, err := rootCmd.Find([]string{name})
			require.NoError(t, err)
			require.NotNil(t, cmd)
			assert.NotEmpty(t, cmd.Short)
		})
	}
}

func TestIngestListRemove(t *testing.T) {
	catalog := useMemoryBackends(t)
	dir := t.TempDir()
	path := writeJPEG(t, dir, "sunset.jpg", 128, 64)

	out, err := execute(t, "ingest", "--json", "--as", "alice", path)
	require.NoError(t, err, out)

	var resp handlers.BatchResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Assets, 1)
	assert.Empty(t, resp.Errors)

	asset := resp.Assets[0]
	assert.Equal(t, "sunset.jpg", asset.OriginalName)
	assert.Equal(t, "alice", asset.CreatedBy)
	assert.Equal(t, 64, *asset.Width)
	assert.Equal(t, 32, *asset.Height)
	assert.Equal(t, 1, catalog.Len())

	out, err = execute(t, "list")
	require.NoError(t, err)
	assert.Contains(t, out, asset.ID)
	assert.Contains(t, out, "64x32")

	out, err = execute(t, "rm", asset.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "removed "+asset.ID)
	assert.Equal(t, 0, catalog.Len())

	out, err = execute(t, "rm", asset.ID)
	assert.Error(t, err)
	assert.Contains(t, out, "not found")

	out, err = execute(t, "ls", "--json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"assets":[]}`, out)
}

func TestList_FiltersByName(t *testing.T) {
	useMemoryBackends(t)
	dir := t.TempDir()
	beach := writeJPEG(t, dir, "beach.jpg", 16, 16)
	forest := writeJPEG(t, dir, "forest.jpg", 16, 16)

	_, err := execute(t, "ingest", beach, forest)
	require.NoError(t, err)

	out, err := execute(t, "list", "--json", "--name", "BEACH")
	require.NoError(t, err)

	var resp struct {
		Assets []struct {
			OriginalName string `json:"originalName"`
		} `json:"assets"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Assets, 1)
	assert.Equal(t, "beach.jpg", resp.Assets[0].OriginalName)
}

func TestIngest_ReportsEachFailure(t *testing.T) {
	catalog := useMemoryBackends(t)
	dir := t.TempDir()
	good := writeJPEG(t, dir, "good.jpg", 16, 16)
	notes := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(notes, []byte("not an image"), 0o644))

	out, err := execute(t, "ingest", good, notes)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 files failed")
	assert.Contains(t, out, "unsupported_type")
	assert.Equal(t, 1, catalog.Len())
}

func TestIngest_MissingFile(t *testing.T) {
	useMemoryBackends(t)

	_, err := execute(t, "ingest", filepath.Join(t.TempDir(), "nope.jpg"))
	assert.Error(t, err)
}

func TestDeclaredType_SniffsWithoutExtension(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 2, 2))))
	path := filepath.Join(t.TempDir(), "scan")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	req, err := openRequest(path)
	require.NoError(t, err)
	defer req.Body.(*os.File).Close()

	assert.Equal(t, "image/png", req.DeclaredType)
	assert.Equal(t, int64(buf.Len()), req.DeclaredSize)

	// The sniffed bytes must still be part of the body
	data := make([]byte, buf.Len())
	_, err = req.Body.Read(data)
	require.NoError(t, err)
	assert.Equal(t, buf.Bytes(), data)
}

func TestWatchDir_IngestsImagesOnce(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())

	var (
		mu   sync.Mutex
		seen []string
	)
	done := make(chan error, 1)
	go func() {
		done <- watchDir(ctx, dir, 50*time.Millisecond, &bytes.Buffer{}, func(ctx context.Context, path string) {
			mu.Lock()
			seen = append(seen, filepath.Base(path))
			mu.Unlock()
		})
	}()

	// Give the watcher time to register the directory
	time.Sleep(100 * time.Millisecond)
	writeJPEG(t, dir, "photo.jpg", 8, 8)
	writeJPEG(t, dir, ".partial.jpg", 8, 8)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("x"), 0o644))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1
	}, 2*time.Second, 20*time.Millisecond)

	// Nothing else may arrive after the debounce settles
	time.Sleep(150 * time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"photo.jpg"}, seen)
}

func TestWatchDir_ZeroDebounce(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())

	var (
		mu   sync.Mutex
		seen []string
	)
	done := make(chan error, 1)
	go func() {
		done <- watchDir(ctx, dir, 0, &bytes.Buffer{}, func(ctx context.Context, path string) {
			mu.Lock()
			seen = append(seen, filepath.Base(path))
			mu.Unlock()
		})
	}()

	time.Sleep(100 * time.Millisecond)
	writeJPEG(t, dir, "burst.jpg", 8, 8)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) > 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	for _, name := range seen {
		assert.Equal(t, "burst.jpg", name)
	}
}

func TestWatchable(t *testing.T) {
	assert.True(t, watchable("/in/a.JPG"))
	assert.True(t, watchable("b.webp"))
	assert.False(t, watchable(".tmp.png"))
	assert.False(t, watchable("~lock.png"))
	assert.False(t, watchable("doc.pdf"))
}

func TestHumanBytes(t *testing.T) {
	assert.Equal(t, "512 B", humanBytes(512))
	assert.Equal(t, "1.0 KiB", humanBytes(1024))
	assert.Equal(t, "1.5 MiB", humanBytes(3<<19))
}
