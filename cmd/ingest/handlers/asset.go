package handlers

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/assetingest/cmd/ingest/service"
	"github.com/lyzr/assetingest/common/blobstore"
	"github.com/lyzr/assetingest/common/logger"
	commonmw "github.com/lyzr/assetingest/common/middleware"
	"github.com/lyzr/assetingest/common/models"
)

// MaxFilesPerUpload caps the file parts accepted in one multipart request
const MaxFilesPerUpload = 20

// AssetHandler serves the asset API and rendition blobs
type AssetHandler struct {
	pipeline *service.Pipeline
	store    blobstore.Store
	log      *logger.Logger
}

// NewAssetHandler creates a new asset handler
func NewAssetHandler(pipeline *service.Pipeline, store blobstore.Store, log *logger.Logger) *AssetHandler {
	return &AssetHandler{
		pipeline: pipeline,
		store:    store,
		log:      log,
	}
}

// ErrorBody is the caller-safe description of a failure
type ErrorBody struct {
	Stage   string `json:"stage"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse wraps ErrorBody
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// BatchError describes one failed file of a multi-file upload
type BatchError struct {
	Index        int    `json:"index"`
	OriginalName string `json:"originalName"`
	ErrorBody
}

// BatchResponse is returned for multi-file uploads
type BatchResponse struct {
	Assets []*models.Asset `json:"assets"`
	Errors []BatchError    `json:"errors"`
}

// upload is one file part read off the request. err is set when the part
// was rejected before its bytes were read.
type upload struct {
	req service.Request
	err error
}

// Upload ingests every "file" part of a multipart request. Parts are streamed:
// a disallowed type is rejected from the part header and its body is skipped.
// POST /api/v1/assets
func (h *AssetHandler) Upload(c echo.Context) error {
	mr, err := c.Request().MultipartReader()
	if err != nil {
		return malformed(c)
	}

	principal := commonmw.Principal(c)
	var uploads []upload
	for {
		fp, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return h.readFailure(c, err)
		}
		if fp.FormName() != "file" || fp.FileName() == "" {
			fp.Close()
			continue
		}
		if len(uploads) == MaxFilesPerUpload {
			fp.Close()
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: ErrorBody{
				Stage:   string(service.StageValidate),
				Code:    "too_many_files",
				Message: "at most " + strconv.Itoa(MaxFilesPerUpload) + " files per request",
			}})
		}

		u := upload{req: service.Request{
			Filename:     fp.FileName(),
			DeclaredType: fp.Header.Get(echo.HeaderContentType),
			Principal:    principal,
		}}
		if u.err = h.pipeline.Admit(u.req.DeclaredType); u.err == nil {
			data, err := io.ReadAll(io.LimitReader(fp, h.pipeline.PayloadLimit()))
			if err != nil {
				fp.Close()
				return h.readFailure(c, err)
			}
			u.req.Body = bytes.NewReader(data)
			u.req.DeclaredSize = int64(len(data))
		}
		fp.Close()
		uploads = append(uploads, u)
	}

	if len(uploads) == 0 {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: ErrorBody{
			Stage:   string(service.StageValidate),
			Code:    service.CodeEmptyPayload,
			Message: "no file uploaded",
		}})
	}

	ctx := c.Request().Context()

	if len(uploads) == 1 {
		if err := uploads[0].err; err != nil {
			return h.fail(c, err)
		}
		asset, err := h.pipeline.Ingest(ctx, uploads[0].req)
		if err != nil {
			return h.fail(c, err)
		}
		return c.JSON(http.StatusCreated, asset)
	}

	// Only admitted parts run; positions maps a run back to its part index
	reqs := make([]service.Request, 0, len(uploads))
	positions := make([]int, 0, len(uploads))
	results := make([]service.Result, len(uploads))
	for i, u := range uploads {
		if u.err != nil {
			results[i] = service.Result{Index: i, Err: u.err}
			continue
		}
		reqs = append(reqs, u.req)
		positions = append(positions, i)
	}
	for _, r := range h.pipeline.IngestBatch(ctx, reqs, nil) {
		i := positions[r.Index]
		r.Index = i
		results[i] = r
	}

	resp := BatchResponse{
		Assets: make([]*models.Asset, 0, len(results)),
		Errors: make([]BatchError, 0),
	}
	for _, r := range results {
		if r.Err != nil {
			_, body := h.classify(r.Err)
			resp.Errors = append(resp.Errors, BatchError{
				Index:        r.Index,
				OriginalName: uploads[r.Index].req.Filename,
				ErrorBody:    body,
			})
			continue
		}
		resp.Assets = append(resp.Assets, r.Asset)
	}

	status := http.StatusOK
	if len(resp.Errors) > 0 {
		status = http.StatusMultiStatus
	}
	return c.JSON(status, resp)
}

// readFailure reports a request body that broke off mid-stream. Errors from
// the body limit middleware keep their own status.
func (h *AssetHandler) readFailure(c echo.Context, err error) error {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}
	h.log.Warn("upload body unreadable", "error", err)
	return malformed(c)
}

func malformed(c echo.Context) error {
	return c.JSON(http.StatusBadRequest, ErrorResponse{Error: ErrorBody{
		Stage:   string(service.StageValidate),
		Code:    "malformed_request",
		Message: "request is not a valid multipart upload",
	}})
}

// ListAssets returns the newest assets first, optionally those whose name contains q
// GET /api/v1/assets?limit=N&q=name
func (h *AssetHandler) ListAssets(c echo.Context) error {
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: ErrorBody{
				Stage:   string(service.StageCatalog),
				Code:    "invalid_limit",
				Message: "limit must be a positive integer",
			}})
		}
		limit = n
	}

	query := service.ListQuery{Limit: limit, Name: strings.TrimSpace(c.QueryParam("q"))}
	assets, err := h.pipeline.List(c.Request().Context(), query)
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"assets": assets,
		"limit":  h.pipeline.ListLimit(limit),
	})
}

// GetAsset returns one asset
// GET /api/v1/assets/:id
func (h *AssetHandler) GetAsset(c echo.Context) error {
	asset, err := h.pipeline.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, asset)
}

// DeleteAsset removes an asset and its blobs
// DELETE /api/v1/assets/:id
func (h *AssetHandler) DeleteAsset(c echo.Context) error {
	if err := h.pipeline.Remove(c.Request().Context(), c.Param("id")); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ServeBlob streams a rendition from the blob store. Originals are not public.
// GET /<public-base>/:name
func (h *AssetHandler) ServeBlob(c echo.Context) error {
	name := c.Param("name")
	if strings.HasPrefix(name, service.OriginalPrefix) {
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	}

	data, err := h.store.Get(c.Request().Context(), name)
	if errors.Is(err, blobstore.ErrNotFound) || errors.Is(err, blobstore.ErrInvalidName) {
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	}
	if err != nil {
		h.log.Error("failed to read blob", "blob", name, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to read blob")
	}

	// Names are never reused, so the bytes behind one never change
	c.Response().Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	return c.Blob(http.StatusOK, blobstore.ContentType(name), data)
}

func (h *AssetHandler) fail(c echo.Context, err error) error {
	status, body := h.classify(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", "path", c.Path(), "status", status, "error", err)
	}
	return c.JSON(status, ErrorResponse{Error: body})
}

// classify maps a pipeline error to a status and a caller-safe body.
// Internal causes never reach the body.
func (h *AssetHandler) classify(err error) (int, ErrorBody) {
	if errors.Is(err, service.ErrNotFound) {
		return http.StatusNotFound, ErrorBody{
			Stage:   string(service.StageCatalog),
			Code:    "not_found",
			Message: "asset not found",
		}
	}

	ie, ok := service.AsIngestError(err)
	if !ok {
		return http.StatusInternalServerError, ErrorBody{
			Code:    "internal",
			Message: "internal error",
		}
	}

	return StatusFor(ie), ErrorBody{
		Stage:   string(ie.Stage),
		Code:    ie.Code,
		Message: ie.Message,
	}
}

// StatusFor is the HTTP status of an ingestion failure
func StatusFor(ie *service.IngestError) int {
	switch ie.Kind {
	case service.KindInvalidInput:
		switch ie.Code {
		case service.CodeTooLarge:
			return http.StatusRequestEntityTooLarge
		case service.CodeUnsupportedType:
			return http.StatusUnsupportedMediaType
		}
		return http.StatusBadRequest
	case service.KindProcessing:
		return http.StatusUnprocessableEntity
	case service.KindTransientStorage:
		if ie.Code == service.CodeQuotaExceeded || ie.Code == service.CodeTimeout {
			return http.StatusServiceUnavailable
		}
		return http.StatusInternalServerError
	case service.KindCatalog:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
