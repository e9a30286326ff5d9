package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/lyzr/assetingest/cmd/ingest/service"
)

var watchDebounce time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Ingest images as they appear in a directory",
	Long: `Watch a directory and ingest every image file created or rewritten in it.

Events for one file are debounced so a file is ingested once it stops
changing. Hidden and temporary files are ignored.

Examples:
  ingestctl watch ./dropbox
  ingestctl watch --debounce 2s /mnt/camera`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 500*time.Millisecond, "Quiet period before a changed file is ingested")
}

var watchedExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
}

func runWatch(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, formatMuted("Watching "+args[0]+", press Ctrl+C to stop"))

	var outMu sync.Mutex
	return watchDir(cmd.Context(), args[0], watchDebounce, cmd.ErrOrStderr(), func(ctx context.Context, path string) {
		outMu.Lock()
		defer outMu.Unlock()
		ingestFile(ctx, out, path)
	})
}

// watchDir calls ingest for every image file in dir once it has been quiet
// for debounce. It returns when ctx is done, after in-flight ingests finish.
func watchDir(ctx context.Context, dir string, debounce time.Duration, errOut io.Writer, ingest func(ctx context.Context, path string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	var (
		mu       sync.Mutex
		inflight sync.WaitGroup
		timers   = make(map[string]*time.Timer)
	)
	defer func() {
		mu.Lock()
		for path, t := range timers {
			if t.Stop() {
				inflight.Done()
			}
			delete(timers, path)
		}
		mu.Unlock()
		inflight.Wait()
	}()

	schedule := func(path string) {
		mu.Lock()
		defer mu.Unlock()

		if t, ok := timers[path]; ok && t.Stop() {
			inflight.Done()
		}
		inflight.Add(1)
		var t *time.Timer
		t = time.AfterFunc(debounce, func() {
			defer inflight.Done()
			mu.Lock()
			if timers[path] == t {
				delete(timers, path)
			}
			mu.Unlock()
			ingest(ctx, path)
		})
		timers[path] = t
	}

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !watchable(event.Name) {
				continue
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				schedule(event.Name)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintln(errOut, formatError("watcher error: "+err.Error()))

		case <-ctx.Done():
			return nil
		}
	}
}

func watchable(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || strings.HasPrefix(base, "~") {
		return false
	}
	return watchedExts[strings.ToLower(filepath.Ext(base))]
}

func ingestFile(ctx context.Context, w io.Writer, path string) {
	req, err := openRequest(path)
	if err != nil {
		fmt.Fprintln(w, formatError(err.Error()))
		return
	}
	defer req.Body.(io.Closer).Close()

	result := service.Result{}
	result.Asset, result.Err = appContainer.Pipeline.Ingest(ctx, req)
	// Failures are already printed; the watcher keeps going
	_ = reportIngest(w, []string{path}, []service.Result{result})
}
