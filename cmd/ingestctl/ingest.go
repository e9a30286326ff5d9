package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lyzr/assetingest/cmd/ingest/handlers"
	"github.com/lyzr/assetingest/cmd/ingest/service"
	"github.com/lyzr/assetingest/common/models"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>...",
	Short: "Ingest image files through the pipeline",
	Long: `Ingest one or more image files. Each file is an independent run:
one failing file never affects the others.

Examples:
  ingestctl ingest photo.jpg
  ingestctl ingest --as alice shots/*.png
  ingestctl ingest -v --json a.jpg b.webp`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	reqs := make([]service.Request, 0, len(args))
	defer func() {
		for _, r := range reqs {
			r.Body.(io.Closer).Close()
		}
	}()
	for _, path := range args {
		req, err := openRequest(path)
		if err != nil {
			return err
		}
		reqs = append(reqs, req)
	}

	progress := make(chan service.Progress, len(reqs)*8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for p := range progress {
			if verbose {
				fmt.Fprintln(cmd.ErrOrStderr(), formatMuted(fmt.Sprintf("[%s] %s", args[p.Index], p.State)))
			}
		}
	}()

	results := appContainer.Pipeline.IngestBatch(ctx, reqs, progress)
	close(progress)
	<-done

	return reportIngest(cmd.OutOrStdout(), args, results)
}

// openRequest builds a pipeline request for a local file. The declared type
// comes from the extension, or from the leading bytes when the extension is unknown.
func openRequest(path string) (service.Request, error) {
	f, err := os.Open(path)
	if err != nil {
		return service.Request{}, fmt.Errorf("open %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return service.Request{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		f.Close()
		return service.Request{}, fmt.Errorf("%s is a directory", path)
	}

	declared, err := declaredType(f, path)
	if err != nil {
		f.Close()
		return service.Request{}, err
	}

	return service.Request{
		Filename:     filepath.Base(path),
		DeclaredType: declared,
		DeclaredSize: info.Size(),
		Body:         f,
		Principal:    principal,
	}, nil
}

func declaredType(f *os.File, path string) (string, error) {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t, nil
	}

	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind %s: %w", path, err)
	}
	return http.DetectContentType(head[:n]), nil
}

func reportIngest(w io.Writer, paths []string, results []service.Result) error {
	resp := handlers.BatchResponse{
		Assets: make([]*models.Asset, 0, len(results)),
		Errors: make([]handlers.BatchError, 0),
	}
	for _, r := range results {
		if r.Err == nil {
			resp.Assets = append(resp.Assets, r.Asset)
			continue
		}
		body := handlers.ErrorBody{Code: "internal", Message: r.Err.Error()}
		if ie, ok := service.AsIngestError(r.Err); ok {
			body = handlers.ErrorBody{Stage: string(ie.Stage), Code: ie.Code, Message: ie.Message}
		}
		resp.Errors = append(resp.Errors, handlers.BatchError{
			Index:        r.Index,
			OriginalName: paths[r.Index],
			ErrorBody:    body,
		})
	}

	if outputJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(resp); err != nil {
			return err
		}
	} else {
		for _, r := range results {
			if r.Err != nil {
				continue
			}
			fmt.Fprintln(w, formatSuccess(fmt.Sprintf("%s -> %s (%dx%d, %s)",
				paths[r.Index], r.Asset.URL, *r.Asset.Width, *r.Asset.Height, humanBytes(r.Asset.SizeBytes))))
		}
		for _, e := range resp.Errors {
			fmt.Fprintln(w, formatError(fmt.Sprintf("%s: %s at %s: %s", e.OriginalName, e.Code, e.Stage, e.Message)))
		}
	}

	if len(resp.Errors) > 0 {
		return fmt.Errorf("%d of %d files failed", len(resp.Errors), len(results))
	}
	return nil
}
