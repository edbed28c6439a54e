// Package server exposes the extraction pipeline over HTTP: multipart
// image analysis, recent-result listing and a health probe. Handlers
// return one JSON entry per uploaded file, mirroring the batch runner's
// one-result-per-input guarantee, so a bad image degrades one entry
// instead of the request.
package server

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/wudi/labelkit/batch"
	"github.com/wudi/labelkit/extensions"
	"github.com/wudi/labelkit/extractor"
	"github.com/wudi/labelkit/observability"
	"github.com/wudi/labelkit/ocr"
	"github.com/wudi/labelkit/overlay"
	"github.com/wudi/labelkit/schema"
	"github.com/wudi/labelkit/storage"
	"github.com/wudi/labelkit/store"
)

// DefaultMaxUploadMB caps the request body when the caller does not choose.
const DefaultMaxUploadMB = 16

// ResultStore is the annotation store as the server needs it: the batch
// cache plus recent-result listing. *store.Store satisfies it.
type ResultStore interface {
	batch.Cache
	Recent(ctx context.Context, limit int) ([]store.Entry, error)
}

// Server is the HTTP analysis service. Construct with New.
type Server struct {
	engine      ocr.Engine
	version     schema.Version
	model       string
	overlay     bool
	concurrency int
	maxUploadMB int64
	hub         extensions.Hub
	rules       []extractor.Rule
	results     ResultStore
	uploads     storage.Uploader
	renderer    *overlay.Renderer
	log         observability.Logger
	router      *gin.Engine
}

// Option configures a Server.
type Option func(*Server)

// WithEngine selects the OCR engine. The default is ocr.DefaultEngine().
func WithEngine(engine ocr.Engine) Option {
	return func(s *Server) {
		if engine != nil {
			s.engine = engine
		}
	}
}

// WithVersion sets the default record schema version.
func WithVersion(v schema.Version) Option {
	return func(s *Server) {
		if v.Valid() {
			s.version = v
		}
	}
}

// WithModel sets the default model identifier.
func WithModel(model string) Option {
	return func(s *Server) { s.model = model }
}

// WithOverlay sets whether analysis renders overlays unless the request
// says otherwise.
func WithOverlay(enabled bool) Option {
	return func(s *Server) { s.overlay = enabled }
}

// WithConcurrency bounds in-flight analyses per request.
func WithConcurrency(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithMaxUploadMB caps the multipart request body size.
func WithMaxUploadMB(mb int64) Option {
	return func(s *Server) {
		if mb > 0 {
			s.maxUploadMB = mb
		}
	}
}

// WithHub attaches the extension hub consulted around each image.
func WithHub(hub extensions.Hub) Option {
	return func(s *Server) { s.hub = hub }
}

// WithRules appends static extraction rules applied to every image.
func WithRules(rules ...extractor.Rule) Option {
	return func(s *Server) { s.rules = append(s.rules, rules...) }
}

// WithResultStore attaches the annotation store used as cache and for the
// recent-results listing.
func WithResultStore(rs ResultStore) Option {
	return func(s *Server) {
		if rs != nil {
			s.results = rs
		}
	}
}

// WithUploads persists accepted images into the given blob store.
func WithUploads(up storage.Uploader) Option {
	return func(s *Server) {
		if up != nil {
			s.uploads = up
		}
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(log observability.Logger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// New creates the server and its routes.
func New(opts ...Option) *Server {
	s := &Server{
		engine:      ocr.DefaultEngine(),
		version:     schema.V2,
		concurrency: batch.DefaultConcurrency,
		maxUploadMB: DefaultMaxUploadMB,
		log:         observability.NopLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.renderer = overlay.New(overlay.WithLogger(s.log))

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))
	router.MaxMultipartMemory = s.maxUploadMB << 20
	router.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUploadMB<<20)
		c.Next()
	})

	router.GET("/healthz", s.health)
	v1 := router.Group("/v1")
	v1.POST("/analyze", s.analyze)
	v1.GET("/results/recent", s.recent)

	s.router = router
	return s
}

// Handler returns the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.log.Info("server listening", observability.String("addr", addr))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// entry is one uploaded file's analysis outcome.
type entry struct {
	Path      string             `json:"path"`
	Record    *schema.Annotation `json:"record,omitempty"`
	Populated []string           `json:"populated,omitempty"`
	Skipped   []string           `json:"skipped,omitempty"`
	Degraded  bool               `json:"degraded,omitempty"`
	FromCache bool               `json:"from_cache,omitempty"`
	StoredID  string             `json:"stored_id,omitempty"`
	Overlay   string             `json:"overlay_png,omitempty"`
	Error     string             `json:"error,omitempty"`
}

func (s *Server) analyze(c *gin.Context) {
	version := s.version
	if raw := requestValue(c, "schema_version"); raw != "" {
		v, err := schema.ParseVersion(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		version = v
	}
	overlayOn := s.overlay
	if raw := requestValue(c, "overlay"); raw != "" {
		on, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("overlay: %v", err)})
			return
		}
		overlayOn = on
	}
	model := s.model
	if raw := requestValue(c, "model"); raw != "" {
		model = raw
	}

	form, err := c.MultipartForm()
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": fmt.Sprintf("request body exceeds %d MB", s.maxUploadMB),
			})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart form required"})
		return
	}
	files := form.File["images"]
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no images attached; send files under the images field"})
		return
	}

	entries := make([]entry, len(files))
	var (
		inputs []batch.Input
		slots  []int
	)
	for i, fh := range files {
		entries[i].Path = fh.Filename
		data, err := readUpload(fh)
		if err != nil {
			entries[i].Error = fmt.Sprintf("read upload: %v", err)
			continue
		}
		if s.uploads != nil {
			id, err := s.uploads.Upload(c.Request.Context(), fh.Filename, data)
			if err != nil {
				s.log.Warn("upload persistence failed",
					observability.String("image", fh.Filename),
					observability.Error("error", err))
			} else {
				entries[i].StoredID = id
			}
		}
		inputs = append(inputs, batch.Input{Name: fh.Filename, Data: data})
		slots = append(slots, i)
	}

	runner := s.newRunner(version, model, overlayOn)
	results := runner.RunBytes(c.Request.Context(), inputs)
	for j, res := range results {
		e := &entries[slots[j]]
		e.Populated = res.Diagnostics.Populated
		e.Skipped = res.Diagnostics.Dropped
		e.Degraded = res.Diagnostics.Fallback
		e.FromCache = res.FromCache
		if res.Err != nil {
			e.Error = res.Err.Error()
			continue
		}
		e.Record = res.Annotation
		if res.Overlay != nil {
			if png, err := overlay.EncodePNG(res.Overlay); err == nil {
				e.Overlay = base64.StdEncoding.EncodeToString(png)
			}
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"schema_version": version.String(),
		"engine":         s.engine.Name(),
		"count":          len(entries),
		"results":        entries,
	})
}

func (s *Server) recent(c *gin.Context) {
	if s.results == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "annotation store not configured"})
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("limit: %v", err)})
			return
		}
		limit = n
	}
	entries, err := s.results.Recent(c.Request.Context(), limit)
	if err != nil {
		s.log.Error("recent lookup failed", observability.Error("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "listing recent results failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(entries), "results": entries})
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"engine":         s.engine.Name(),
		"engines":        ocr.Engines(),
		"schema_version": s.version.String(),
	})
}

func (s *Server) newRunner(version schema.Version, model string, overlayOn bool) *batch.Runner {
	opts := []batch.Option{
		batch.WithEngine(s.engine),
		batch.WithVersion(version),
		batch.WithModel(model),
		batch.WithConcurrency(s.concurrency),
		batch.WithRules(s.rules...),
		batch.WithLogger(s.log),
	}
	if s.hub != nil {
		opts = append(opts, batch.WithHub(s.hub))
	}
	if s.results != nil {
		opts = append(opts, batch.WithCache(s.results))
	}
	if overlayOn {
		opts = append(opts, batch.WithOverlay(s.renderer))
	}
	return batch.New(opts...)
}

// requestValue reads an option from the form body, falling back to the
// query string.
func requestValue(c *gin.Context, name string) string {
	if v := c.PostForm(name); v != "" {
		return v
	}
	return c.Query(name)
}

func readUpload(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
