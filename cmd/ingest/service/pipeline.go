package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lyzr/assetingest/cmd/ingest/repository"
	"github.com/lyzr/assetingest/common/blobstore"
	"github.com/lyzr/assetingest/common/logger"
	"github.com/lyzr/assetingest/common/metrics"
	"github.com/lyzr/assetingest/common/models"
)

// ErrNotFound is returned by Get and Remove for an unknown asset id
var ErrNotFound = repository.ErrNotFound

// State is a step of one ingestion run
type State string

const (
	StateReceived         State = "received"
	StateValidated        State = "validated"
	StateOriginalStored   State = "original_stored"
	StateRenditionDerived State = "rendition_derived"
	StateRenditionStored  State = "rendition_stored"
	StateCataloged        State = "cataloged"
	StateFailed           State = "failed"
)

// ListQuery selects a page of assets; see repository.ListQuery
type ListQuery = repository.ListQuery

// Catalog is the durable asset record store
type Catalog interface {
	Create(ctx context.Context, asset *models.Asset) error
	Get(ctx context.Context, id string) (*models.Asset, error)
	List(ctx context.Context, q ListQuery) ([]*models.Asset, error)
	Delete(ctx context.Context, id string) error
}

// OrphanReporter is told about blobs whose cleanup failed
type OrphanReporter interface {
	ReportOrphan(ctx context.Context, name string, cause error)
}

// Request is one upload. DeclaredSize is -1 when unknown.
type Request struct {
	Filename     string
	DeclaredType string
	DeclaredSize int64
	Body         io.Reader
	Principal    string
}

// Progress is a state transition of the run at Index within a batch
type Progress struct {
	Index int
	ID    string
	State State
	Err   error
}

// Result is the outcome of the run at Index within a batch
type Result struct {
	Index int
	Asset *models.Asset
	Err   error
}

// PipelineConfig holds the pipeline's operational limits
type PipelineConfig struct {
	PublicBase       string
	StoreTimeout     time.Duration
	CatalogTimeout   time.Duration
	BatchConcurrency int
	DefaultListLimit int
	MaxListLimit     int
}

// PipelineDeps are the collaborators a pipeline orchestrates
type PipelineDeps struct {
	Validator *Validator
	Allocator *Allocator
	Store     blobstore.Store
	Engine    *RenditionEngine
	Catalog   Catalog
	Orphans   OrphanReporter
	Metrics   *metrics.Metrics
	Logger    *logger.Logger
}

// Pipeline is the only writer of assets: blobs first, catalog record last
type Pipeline struct {
	PipelineDeps
	cfg PipelineConfig
	now func() time.Time
}

// NewPipeline wires a pipeline
func NewPipeline(deps PipelineDeps, cfg PipelineConfig) *Pipeline {
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 10 * time.Second
	}
	if cfg.CatalogTimeout <= 0 {
		cfg.CatalogTimeout = 5 * time.Second
	}
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = 8
	}
	if cfg.DefaultListLimit <= 0 {
		cfg.DefaultListLimit = 50
	}
	if cfg.MaxListLimit <= 0 {
		cfg.MaxListLimit = 200
	}
	return &Pipeline{
		PipelineDeps: deps,
		cfg:          cfg,
		now:          time.Now,
	}
}

// Ingest runs one upload through the pipeline
func (p *Pipeline) Ingest(ctx context.Context, req Request) (*models.Asset, error) {
	return p.run(ctx, 0, req, nil)
}

// IngestBatch runs every request as an independent concurrent run and returns
// one result per request in input order. One run's failure never affects another.
// progress, when non-nil, receives transitions without blocking the runs.
func (p *Pipeline) IngestBatch(ctx context.Context, reqs []Request, progress chan<- Progress) []Result {
	results := make([]Result, len(reqs))

	g := new(errgroup.Group)
	g.SetLimit(p.cfg.BatchConcurrency)

	for i := range reqs {
		g.Go(func() error {
			asset, err := p.run(ctx, i, reqs[i], progress)
			results[i] = Result{Index: i, Asset: asset, Err: err}
			return nil
		})
	}
	g.Wait()

	return results
}

// Admit checks a declared type before any of its bytes are read. A rejection
// is counted like a run that failed validation.
func (p *Pipeline) Admit(declaredType string) error {
	err := p.Validator.ValidateType(declaredType)
	if err != nil {
		p.Metrics.IncStageFailure(string(StageValidate), string(KindInvalidInput))
		p.Metrics.ObserveIngest(CodeUnsupportedType, 0)
	}
	return err
}

// PayloadLimit is how many bytes of one upload are worth reading: the
// ceiling plus one, so an oversized payload is still detected
func (p *Pipeline) PayloadLimit() int64 {
	return p.Validator.MaxBytes() + 1
}

// run is the state machine for one upload
func (p *Pipeline) run(ctx context.Context, index int, req Request, progress chan<- Progress) (asset *models.Asset, err error) {
	start := time.Now()
	var payloadSize int
	var id Identifier

	notify := func(state State, err error) {
		if progress == nil {
			return
		}
		select {
		case progress <- Progress{Index: index, ID: id.Token, State: state, Err: err}:
		default:
		}
	}

	defer func() {
		if err != nil {
			outcome := "error"
			if ie, ok := AsIngestError(err); ok {
				outcome = ie.Code
				p.Metrics.IncStageFailure(string(ie.Stage), string(ie.Kind))
				p.Logger.WithStage(string(ie.Stage)).Warn("ingestion failed",
					"asset_id", id.Token,
					"code", ie.Code,
					"filename", req.Filename,
					"error", err,
				)
			}
			p.Metrics.ObserveIngest(outcome, 0)
			notify(StateFailed, err)
			return
		}
		p.Metrics.ObserveIngest("ok", payloadSize)
		p.Logger.Info("asset ingested",
			"asset_id", asset.ID,
			"size", asset.SizeBytes,
			"width", asset.Width,
			"height", asset.Height,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}()

	notify(StateReceived, nil)

	// Received -> Validated
	if err := p.Validator.Validate(req.DeclaredType, req.DeclaredSize); err != nil {
		return nil, err
	}
	payload, err := p.readPayload(req.Body)
	if err != nil {
		return nil, err
	}
	payloadSize = len(payload)
	notify(StateValidated, nil)

	id = p.Allocator.Allocate(req.Filename, req.DeclaredType)
	log := p.Logger.WithAssetID(id.Token).WithPrincipal(req.Principal)
	originalKey := id.OriginalKey()

	// Validated -> OriginalStored
	if err := p.put(ctx, StageStoreOriginal, originalKey, payload); err != nil {
		return nil, err
	}
	notify(StateOriginalStored, nil)

	// OriginalStored -> RenditionDerived
	stageStart := time.Now()
	rendition, err := p.Engine.Derive(ctx, payload)
	p.Metrics.ObserveStage(string(StageDerive), err == nil, time.Since(stageStart))
	if err != nil {
		log.Warn("rendition failed", "error", err)
		p.cleanup(ctx, originalKey)
		return nil, err
	}
	notify(StateRenditionDerived, nil)

	// RenditionDerived -> RenditionStored
	renditionKey := id.RenditionKey(rendition.Ext)
	if err := p.put(ctx, StageStoreRendition, renditionKey, rendition.Data); err != nil {
		log.Warn("storing rendition failed", "error", err)
		p.cleanup(ctx, renditionKey, originalKey)
		return nil, err
	}
	notify(StateRenditionStored, nil)

	// RenditionStored -> Cataloged
	width, height := rendition.Width, rendition.Height
	asset = &models.Asset{
		ID:           id.Token,
		OriginalName: req.Filename,
		MimeType:     NormalizeType(req.DeclaredType),
		SizeBytes:    int64(len(payload)),
		OriginalKey:  originalKey,
		RenditionKey: renditionKey,
		URL:          p.publicURL(renditionKey),
		Width:        &width,
		Height:       &height,
		CreatedBy:    req.Principal,
		CreatedAt:    p.now().UTC(),
	}

	stageStart = time.Now()
	catalogCtx, cancel := context.WithTimeout(ctx, p.cfg.CatalogTimeout)
	err = p.Catalog.Create(catalogCtx, asset)
	cancel()
	p.Metrics.ObserveStage(string(StageCatalog), err == nil, time.Since(stageStart))
	if err != nil {
		log.Error("catalog write failed", "error", err)
		p.cleanup(ctx, renditionKey, originalKey)
		return nil, catalogFailure(err)
	}
	notify(StateCataloged, nil)

	return asset, nil
}

// readPayload reads at most one byte past the ceiling so a lying declared size is still caught
func (p *Pipeline) readPayload(body io.Reader) ([]byte, error) {
	if body == nil {
		return nil, p.Validator.ValidateSize(0)
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, io.LimitReader(body, p.PayloadLimit())); err != nil {
		return nil, &IngestError{
			Stage:   StageValidate,
			Kind:    KindInvalidInput,
			Code:    CodeIOError,
			Message: "upload could not be read",
			Err:     err,
		}
	}
	if err := p.Validator.ValidateSize(int64(buf.Len())); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (p *Pipeline) put(ctx context.Context, stage Stage, name string, data []byte) error {
	start := time.Now()
	putCtx, cancel := context.WithTimeout(ctx, p.cfg.StoreTimeout)
	defer cancel()

	err := p.Store.Put(putCtx, name, data)
	p.Metrics.ObserveStage(string(stage), err == nil, time.Since(start))
	if err != nil {
		return storageFailure(stage, err)
	}
	return nil
}

// cleanup deletes blobs of a failed run. It runs even when ctx is already
// cancelled, and failures are reported as orphans instead of returned.
func (p *Pipeline) cleanup(ctx context.Context, names ...string) {
	base := context.WithoutCancel(ctx)
	for _, name := range names {
		delCtx, cancel := context.WithTimeout(base, p.cfg.StoreTimeout)
		err := blobstore.DeleteIfExists(delCtx, p.Store, name)
		cancel()
		if err == nil {
			continue
		}
		p.Logger.Error("cleanup failed, blob orphaned", "blob", name, "error", err)
		if p.Orphans != nil {
			p.Orphans.ReportOrphan(base, name, err)
		}
	}
}

func (p *Pipeline) publicURL(name string) string {
	if p.cfg.PublicBase == "" {
		return "/" + name
	}
	return "/" + p.cfg.PublicBase + "/" + name
}

// ListLimit clamps a requested page size; 0 or less selects the default
func (p *Pipeline) ListLimit(limit int) int {
	if limit <= 0 {
		return p.cfg.DefaultListLimit
	}
	return min(limit, p.cfg.MaxListLimit)
}

// List returns the newest assets matching q first. q.Limit is clamped by ListLimit.
func (p *Pipeline) List(ctx context.Context, q ListQuery) ([]*models.Asset, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.CatalogTimeout)
	defer cancel()

	q.Limit = p.ListLimit(q.Limit)
	assets, err := p.Catalog.List(ctx, q)
	if err != nil {
		return nil, catalogFailure(err)
	}
	return assets, nil
}

// Get returns one asset or ErrNotFound
func (p *Pipeline) Get(ctx context.Context, id string) (*models.Asset, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.CatalogTimeout)
	defer cancel()

	asset, err := p.Catalog.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, catalogFailure(err)
	}
	return asset, nil
}

// Remove deletes the catalog record, which is authoritative, then both blobs best-effort
func (p *Pipeline) Remove(ctx context.Context, id string) error {
	catalogCtx, cancel := context.WithTimeout(ctx, p.cfg.CatalogTimeout)
	defer cancel()

	asset, err := p.Catalog.Get(catalogCtx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return catalogFailure(err)
	}

	if err := p.Catalog.Delete(catalogCtx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Removed concurrently; the other remover owns blob cleanup
			return ErrNotFound
		}
		return catalogFailure(fmt.Errorf("delete %s: %w", id, err))
	}

	p.cleanup(ctx, asset.BlobKeys()...)
	p.Logger.Info("asset removed", "asset_id", id)
	return nil
}
