// Package batch dispatches per-image extraction over a bounded worker pool.
// Every input path yields exactly one result: a validated annotation, an
// optional overlay render, or the error that stopped that image. One
// image's failure never aborts the others, and cancelling the context stops
// dispatch without losing result slots.
package batch

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"

	"github.com/wudi/labelkit/extensions"
	"github.com/wudi/labelkit/extractor"
	"github.com/wudi/labelkit/merge"
	"github.com/wudi/labelkit/observability"
	"github.com/wudi/labelkit/ocr"
	"github.com/wudi/labelkit/overlay"
	"github.com/wudi/labelkit/schema"
	"github.com/wudi/labelkit/storage"
)

// DefaultConcurrency bounds in-flight image analyses when the caller does
// not choose.
const DefaultConcurrency = 4

// Cache is the annotation store consulted before dispatching OCR and
// updated after a successful merge. Implementations must be safe for
// concurrent use.
type Cache interface {
	Get(ctx context.Context, version schema.Version, model, digest string) (*schema.Annotation, bool, error)
	Put(ctx context.Context, version schema.Version, model, digest string, ann *schema.Annotation) error
}

// Result is one image's outcome. Annotation and Err are mutually
// exclusive; every other member is best-effort diagnostics.
type Result struct {
	// Path is the input location (or upload name) the result belongs to.
	Path string
	// Annotation is the validated record, nil when Err is set.
	Annotation *schema.Annotation
	// Overlay is the box visualization, when rendering was requested and
	// the source image decoded.
	Overlay *image.NRGBA
	// Diagnostics reports what the merge pass did.
	Diagnostics merge.Diagnostics
	// Render reports what the overlay pass drew and skipped.
	Render overlay.Report
	// ExtensionFailures counts extension hook errors for this image.
	ExtensionFailures int
	// FromCache is set when the annotation came from the cache and no OCR
	// call was made.
	FromCache bool
	// Err is the failure that stopped this image, nil on success.
	Err error
}

// Runner orchestrates per-image extraction. Construct with New; safe for
// concurrent use.
type Runner struct {
	engine      ocr.Engine
	version     schema.Version
	model       string
	concurrency int
	docFormat   bool
	boxFormat   bool
	rules       []extractor.Rule
	renderer    *overlay.Renderer
	hub         extensions.Hub
	cache       Cache
	log         observability.Logger

	merger *merge.Merger
}

// Option configures a Runner.
type Option func(*Runner)

// WithEngine selects the OCR engine. The default is ocr.DefaultEngine().
func WithEngine(engine ocr.Engine) Option {
	return func(r *Runner) {
		if engine != nil {
			r.engine = engine
		}
	}
}

// WithVersion selects the record schema version. The default is schema.V2.
func WithVersion(v schema.Version) Option {
	return func(r *Runner) {
		if v.Valid() {
			r.version = v
		}
	}
}

// WithModel overrides the engine's default model identifier.
func WithModel(model string) Option {
	return func(r *Runner) { r.model = model }
}

// WithConcurrency bounds the number of in-flight image analyses.
func WithConcurrency(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithFormats controls which annotation formats requests declare.
func WithFormats(document, box bool) Option {
	return func(r *Runner) {
		r.docFormat = document
		r.boxFormat = box
	}
}

// WithRules appends static extraction rules applied to every image.
func WithRules(rules ...extractor.Rule) Option {
	return func(r *Runner) { r.rules = append(r.rules, rules...) }
}

// WithOverlay enables box rendering. A nil renderer disables it.
func WithOverlay(renderer *overlay.Renderer) Option {
	return func(r *Runner) { r.renderer = renderer }
}

// WithHub attaches the extension hub consulted around each image.
func WithHub(hub extensions.Hub) Option {
	return func(r *Runner) { r.hub = hub }
}

// WithCache attaches the annotation cache.
func WithCache(cache Cache) Option {
	return func(r *Runner) { r.cache = cache }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(log observability.Logger) Option {
	return func(r *Runner) {
		if log != nil {
			r.log = log
		}
	}
}

// New creates a Runner.
func New(opts ...Option) *Runner {
	r := &Runner{
		engine:      ocr.DefaultEngine(),
		version:     schema.V2,
		concurrency: DefaultConcurrency,
		docFormat:   true,
		boxFormat:   true,
		log:         observability.NopLogger{},
	}
	for _, opt := range opts {
		opt(r)
	}
	r.merger = merge.New(merge.WithRules(r.rules...), merge.WithLogger(r.log))
	return r
}

// Input is one in-memory image for RunBytes.
type Input struct {
	// Name identifies the image in results and annotations, like an upload
	// file name.
	Name string
	// Data is the encoded image payload.
	Data []byte
}

// Run processes every path and returns exactly one result per input, in
// input order. Cancellation stops dispatch; in-flight images finish and
// never-dispatched images report the context error.
func (r *Runner) Run(ctx context.Context, paths []string) []Result {
	return r.pooled(ctx, len(paths),
		func(i int) string { return paths[i] },
		func(ctx context.Context, i int) Result { return r.ProcessFile(ctx, paths[i]) })
}

// RunBytes is Run over in-memory images, for callers that receive uploads
// instead of paths. The same one-result-per-input guarantee applies.
func (r *Runner) RunBytes(ctx context.Context, inputs []Input) []Result {
	return r.pooled(ctx, len(inputs),
		func(i int) string { return inputs[i].Name },
		func(ctx context.Context, i int) Result {
			return r.Process(ctx, inputs[i].Name, inputs[i].Data)
		})
}

// pooled dispatches n jobs over the worker pool. Every index gets exactly
// one result slot; indexes never dispatched after cancellation are filled
// with the context error.
func (r *Runner) pooled(ctx context.Context, n int, path func(int) string, work func(context.Context, int) Result) []Result {
	results := make([]Result, n)
	if n == 0 {
		return results
	}

	workers := r.concurrency
	if workers > n {
		workers = n
	}
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				results[idx] = work(ctx, idx)
			}
		}()
	}

	next := 0
dispatch:
	for ; next < n; next++ {
		select {
		case <-ctx.Done():
			break dispatch
		case jobs <- next:
		}
	}
	close(jobs)
	for i := next; i < n; i++ {
		results[i] = Result{Path: path(i), Err: ctx.Err()}
	}
	wg.Wait()

	failed := 0
	for i := range results {
		if results[i].Err != nil {
			failed++
		}
	}
	r.log.Info("batch finished",
		observability.Int(observability.MetricImagesProcessed, len(results)),
		observability.Int(observability.MetricImagesFailed, failed))
	return results
}

// ProcessFile reads one image from disk and processes it.
func (r *Runner) ProcessFile(ctx context.Context, path string) Result {
	if err := ctx.Err(); err != nil {
		return Result{Path: path, Err: err}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Result{Path: path, Err: fmt.Errorf("read image: %w", err)}
	}
	res := r.Process(ctx, filepath.Base(path), data)
	res.Path = path
	return res
}

// Process runs the pipeline over one in-memory image: cache check, OCR,
// extension hooks, merge, optional overlay. The result's Path is the given
// name; callers with a filesystem path should prefer ProcessFile.
func (r *Runner) Process(ctx context.Context, name string, data []byte) Result {
	res := Result{Path: name}
	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}
	log := r.log.With(observability.String("image", name))

	var digest string
	if r.cache != nil {
		digest = storage.Digest(data)
		ann, found, err := r.cache.Get(ctx, r.version, r.model, digest)
		if err != nil {
			log.Warn("cache lookup failed", observability.Error("error", err))
		} else if found {
			log.Debug("cache hit", observability.Int(observability.MetricCacheHits, 1))
			res.Annotation = ann
			res.FromCache = true
			return res
		}
	}

	req := ocr.RequestFromBytes(name, data, r.requestOptions()...)
	resp, err := r.engine.Process(ctx, req)
	if err != nil {
		log.Error("ocr failed", observability.Error("error", err))
		res.Err = fmt.Errorf("ocr %s: %w", r.engine.Name(), err)
		return res
	}

	state := &extensions.State{Path: name, Version: r.version, Response: resp}
	if r.hub != nil {
		res.ExtensionFailures += r.hub.Run(ctx, extensions.PhaseInspect, state)
		res.ExtensionFailures += r.hub.Run(ctx, extensions.PhaseExtract, state)
	}

	merger := r.merger
	if len(state.Rules) > 0 {
		merger = merge.New(
			merge.WithRules(append(append([]extractor.Rule{}, r.rules...), state.Rules...)...),
			merge.WithLogger(r.log),
		)
	}
	product, diag, err := merger.Merge(ctx, r.version, resp)
	res.Diagnostics = diag
	if err != nil {
		log.Error("merge failed", observability.Error("error", err))
		res.Err = err
		return res
	}
	res.Annotation = &schema.Annotation{ImageID: name, ProductDetails: product}

	if r.hub != nil {
		state.Annotation = res.Annotation
		res.ExtensionFailures += r.hub.Run(ctx, extensions.PhaseFinalize, state)
	}

	if r.renderer != nil {
		if src, err := overlay.Decode(data); err != nil {
			log.Warn("overlay skipped, image not decodable", observability.Error("error", err))
		} else {
			res.Overlay, res.Render = r.renderer.Render(src, resp)
		}
	}

	if r.cache != nil {
		if err := r.cache.Put(ctx, r.version, r.model, digest, res.Annotation); err != nil {
			log.Warn("cache write failed", observability.Error("error", err))
		}
	}
	return res
}

func (r *Runner) requestOptions() []ocr.RequestOption {
	opts := []ocr.RequestOption{}
	if r.model != "" {
		opts = append(opts, ocr.WithModel(r.model))
	}
	if r.docFormat {
		opts = append(opts, ocr.WithDocumentFormat(ocr.DocumentFormat(r.version)))
	}
	if r.boxFormat {
		opts = append(opts, ocr.WithBoxFormat(ocr.BoxFormat()))
	}
	return opts
}
