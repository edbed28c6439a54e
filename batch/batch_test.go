package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/wudi/labelkit/extensions"
	"github.com/wudi/labelkit/extractor"
	"github.com/wudi/labelkit/merge"
	"github.com/wudi/labelkit/observability"
	"github.com/wudi/labelkit/ocr"
	"github.com/wudi/labelkit/overlay"
	"github.com/wudi/labelkit/schema"
	"github.com/wudi/labelkit/storage"
)

type fakeEngine struct {
	block   bool
	delay   time.Duration
	started chan string
	process func(req ocr.Request) (*ocr.Response, error)

	mu       sync.Mutex
	calls    []string
	inflight int
	peak     int
}

func (f *fakeEngine) Name() string { return "fake" }

func (f *fakeEngine) Process(ctx context.Context, req ocr.Request) (*ocr.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req.ID)
	f.inflight++
	if f.inflight > f.peak {
		f.peak = f.inflight
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inflight--
		f.mu.Unlock()
	}()

	if f.started != nil {
		f.started <- req.ID
	}
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	if f.process != nil {
		return f.process(req)
	}
	return annotated("Oat Bars"), nil
}

func (f *fakeEngine) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func annotated(name string) *ocr.Response {
	return &ocr.Response{
		Model:              "fake-ocr",
		DocumentAnnotation: json.RawMessage(fmt.Sprintf(`{"product_name": %q}`, name)),
	}
}

type fakeCache struct {
	mu   sync.Mutex
	data map[string]*schema.Annotation
	puts int
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: make(map[string]*schema.Annotation)}
}

func cacheKey(v schema.Version, model, digest string) string {
	return v.String() + "|" + model + "|" + digest
}

func (c *fakeCache) Get(_ context.Context, v schema.Version, model, digest string) (*schema.Annotation, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ann, ok := c.data[cacheKey(v, model, digest)]
	return ann, ok, nil
}

func (c *fakeCache) Put(_ context.Context, v schema.Version, model, digest string, ann *schema.Annotation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[cacheKey(v, model, digest)] = ann
	c.puts++
	return nil
}

type ruleExtension struct{ rule extractor.Rule }

func (e ruleExtension) Name() string            { return "rule-contrib" }
func (e ruleExtension) Phase() extensions.Phase { return extensions.PhaseExtract }
func (e ruleExtension) Priority() int           { return 0 }

func (e ruleExtension) Execute(_ context.Context, s *extensions.State) error {
	s.Rules = append(s.Rules, e.rule)
	return nil
}

type failingExtension struct{ phase extensions.Phase }

func (e failingExtension) Name() string            { return "boom" }
func (e failingExtension) Phase() extensions.Phase { return e.phase }
func (e failingExtension) Priority() int           { return 0 }

func (e failingExtension) Execute(context.Context, *extensions.State) error {
	return errors.New("boom")
}

func writeImages(t *testing.T, names ...string) []string {
	t.Helper()
	dir := t.TempDir()
	paths := make([]string, len(names))
	for i, name := range names {
		paths[i] = filepath.Join(dir, name)
		if err := os.WriteFile(paths[i], []byte("payload of "+name), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return paths
}

func TestRunOneResultPerInput(t *testing.T) {
	eng := &fakeEngine{process: func(req ocr.Request) (*ocr.Response, error) {
		if strings.Contains(req.ID, "blurry") {
			return nil, errors.New("unreadable scan")
		}
		return annotated("Oat Bars"), nil
	}}
	paths := writeImages(t, "front.png", "blurry.png", "back.png")
	runner := New(WithEngine(eng), WithConcurrency(2))

	results := runner.Run(context.Background(), paths)
	if len(results) != len(paths) {
		t.Fatalf("got %d results, want %d", len(results), len(paths))
	}
	for i, res := range results {
		if res.Path != paths[i] {
			t.Errorf("result %d path = %q, want %q", i, res.Path, paths[i])
		}
	}
	for _, i := range []int{0, 2} {
		if results[i].Err != nil {
			t.Fatalf("result %d failed: %v", i, results[i].Err)
		}
		got := results[i].Annotation.ProductDetails.ProductName.EN
		if got != "Oat Bars" {
			t.Errorf("result %d product name = %q, want %q", i, got, "Oat Bars")
		}
		if want := filepath.Base(paths[i]); results[i].Annotation.ImageID != want {
			t.Errorf("result %d image id = %q, want %q", i, results[i].Annotation.ImageID, want)
		}
	}
	if results[1].Err == nil {
		t.Fatal("blurry image should fail")
	}
	if results[1].Annotation != nil {
		t.Errorf("failed image should carry no annotation, got %+v", results[1].Annotation)
	}
	if !strings.Contains(results[1].Err.Error(), "unreadable scan") {
		t.Errorf("failure should carry the engine error, got %v", results[1].Err)
	}
}

func TestRunMissingFile(t *testing.T) {
	eng := &fakeEngine{}
	paths := writeImages(t, "front.png")
	paths = append(paths, filepath.Join(t.TempDir(), "absent.png"))
	runner := New(WithEngine(eng))

	results := runner.Run(context.Background(), paths)
	if results[0].Err != nil {
		t.Fatalf("readable image failed: %v", results[0].Err)
	}
	if !errors.Is(results[1].Err, fs.ErrNotExist) {
		t.Errorf("missing file error = %v, want fs.ErrNotExist", results[1].Err)
	}
	if eng.callCount() != 1 {
		t.Errorf("engine called %d times, want 1", eng.callCount())
	}
}

func TestRunCancellation(t *testing.T) {
	eng := &fakeEngine{block: true, started: make(chan string, 4)}
	paths := writeImages(t, "a.png", "b.png", "c.png", "d.png")
	runner := New(WithEngine(eng), WithConcurrency(1))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-eng.started
		cancel()
	}()
	results := runner.Run(ctx, paths)
	if len(results) != len(paths) {
		t.Fatalf("got %d results, want %d", len(results), len(paths))
	}
	for i, res := range results {
		if res.Path != paths[i] {
			t.Errorf("result %d path = %q, want %q", i, res.Path, paths[i])
		}
		if !errors.Is(res.Err, context.Canceled) {
			t.Errorf("result %d error = %v, want context.Canceled", i, res.Err)
		}
		if res.Annotation != nil {
			t.Errorf("result %d should carry no annotation after cancel", i)
		}
	}
	if eng.callCount() > 1 {
		t.Errorf("engine called %d times after cancel, want at most 1", eng.callCount())
	}
}

func TestRunCacheHit(t *testing.T) {
	paths := writeImages(t, "front.png")
	data, err := os.ReadFile(paths[0])
	if err != nil {
		t.Fatal(err)
	}
	cached := &schema.Annotation{
		ImageID:        "front.png",
		ProductDetails: &schema.Product{ProductName: schema.Text{EN: "Cached"}},
	}
	cache := newFakeCache()
	cache.data[cacheKey(schema.V2, "", storage.Digest(data))] = cached

	eng := &fakeEngine{}
	runner := New(WithEngine(eng), WithCache(cache))
	results := runner.Run(context.Background(), paths)

	if results[0].Err != nil {
		t.Fatalf("cache hit failed: %v", results[0].Err)
	}
	if !results[0].FromCache {
		t.Error("result should be marked FromCache")
	}
	if results[0].Annotation.ProductDetails.ProductName.EN != "Cached" {
		t.Errorf("annotation = %+v, want cached record", results[0].Annotation.ProductDetails)
	}
	if eng.callCount() != 0 {
		t.Errorf("engine called %d times on cache hit, want 0", eng.callCount())
	}
}

func TestProcessStoresResultInCache(t *testing.T) {
	cache := newFakeCache()
	runner := New(WithEngine(&fakeEngine{}), WithCache(cache), WithModel("fake-ocr"))

	data := []byte("front payload")
	res := runner.Process(context.Background(), "front.png", data)
	if res.Err != nil {
		t.Fatalf("process failed: %v", res.Err)
	}
	if cache.puts != 1 {
		t.Fatalf("cache puts = %d, want 1", cache.puts)
	}
	ann, ok := cache.data[cacheKey(schema.V2, "fake-ocr", storage.Digest(data))]
	if !ok {
		t.Fatal("annotation not stored under digest key")
	}
	if ann.ProductDetails.ProductName.EN != "Oat Bars" {
		t.Errorf("stored annotation = %+v", ann.ProductDetails)
	}
}

func TestProcessHubContributesRules(t *testing.T) {
	eng := &fakeEngine{process: func(ocr.Request) (*ocr.Response, error) {
		return &ocr.Response{
			DocumentAnnotation: json.RawMessage(`{"product_name": "Oat Bars"}`),
			Pages:              []ocr.Page{{Markdown: "SKU: 884422"}},
		}, nil
	}}
	hub := extensions.NewHub(observability.NopLogger{})
	rule := extractor.FuncRule{RuleName: "sku", Fn: func(line string) (string, interface{}, error) {
		if rest, ok := strings.CutPrefix(line, "SKU: "); ok {
			return "barcode", rest, nil
		}
		return "", nil, nil
	}}
	if err := hub.Register(ruleExtension{rule: rule}); err != nil {
		t.Fatal(err)
	}

	runner := New(WithEngine(eng), WithHub(hub))
	res := runner.Process(context.Background(), "front.png", []byte("img"))
	if res.Err != nil {
		t.Fatalf("process failed: %v", res.Err)
	}
	if got := res.Annotation.ProductDetails.Barcode; got != "884422" {
		t.Errorf("barcode = %q, want %q", got, "884422")
	}
	if res.Diagnostics.Sources["barcode"] != merge.SourceText {
		t.Errorf("barcode source = %q, want %q", res.Diagnostics.Sources["barcode"], merge.SourceText)
	}
}

func TestProcessExtensionFailureCounted(t *testing.T) {
	hub := extensions.NewHub(observability.NopLogger{})
	if err := hub.Register(failingExtension{phase: extensions.PhaseInspect}); err != nil {
		t.Fatal(err)
	}
	runner := New(WithEngine(&fakeEngine{}), WithHub(hub))

	res := runner.Process(context.Background(), "front.png", []byte("img"))
	if res.Err != nil {
		t.Fatalf("extension failure should not fail the image: %v", res.Err)
	}
	if res.ExtensionFailures != 1 {
		t.Errorf("extension failures = %d, want 1", res.ExtensionFailures)
	}
	if res.Annotation == nil {
		t.Error("annotation should still be produced")
	}
}

func TestProcessOverlay(t *testing.T) {
	png, err := overlay.EncodePNG(image.NewNRGBA(image.Rect(0, 0, 40, 30)))
	if err != nil {
		t.Fatal(err)
	}
	eng := &fakeEngine{process: func(ocr.Request) (*ocr.Response, error) {
		return &ocr.Response{
			DocumentAnnotation: json.RawMessage(`{"product_name": "Oat Bars"}`),
			BoxAnnotations: []ocr.BoxAnnotation{
				{Key: "brand", Value: "Acme", Label: "brand", Bbox: []interface{}{2.0, 2.0, 20.0, 12.0}},
			},
		}, nil
	}}
	runner := New(WithEngine(eng), WithOverlay(overlay.New()))

	res := runner.Process(context.Background(), "front.png", png)
	if res.Err != nil {
		t.Fatalf("process failed: %v", res.Err)
	}
	if res.Overlay == nil {
		t.Fatal("overlay should be rendered")
	}
	if res.Render.RegionBoxes != 1 {
		t.Errorf("region boxes = %d, want 1", res.Render.RegionBoxes)
	}
	if res.Diagnostics.Sources["brand"] != merge.SourceBoxes {
		t.Errorf("brand source = %q, want %q", res.Diagnostics.Sources["brand"], merge.SourceBoxes)
	}
}

func TestProcessOverlayUndecodableImage(t *testing.T) {
	runner := New(WithEngine(&fakeEngine{}), WithOverlay(overlay.New()))

	res := runner.Process(context.Background(), "front.png", []byte("not an image"))
	if res.Err != nil {
		t.Fatalf("undecodable source should not fail extraction: %v", res.Err)
	}
	if res.Overlay != nil {
		t.Error("overlay should be skipped for undecodable sources")
	}
	if res.Annotation == nil {
		t.Error("annotation should still be produced")
	}
}

func TestRunConcurrencyBound(t *testing.T) {
	eng := &fakeEngine{delay: 10 * time.Millisecond}
	names := make([]string, 8)
	for i := range names {
		names[i] = fmt.Sprintf("img-%d.png", i)
	}
	paths := writeImages(t, names...)
	runner := New(WithEngine(eng), WithConcurrency(2))

	results := runner.Run(context.Background(), paths)
	for i, res := range results {
		if res.Err != nil {
			t.Fatalf("result %d failed: %v", i, res.Err)
		}
	}
	if eng.callCount() != len(paths) {
		t.Errorf("engine called %d times, want %d", eng.callCount(), len(paths))
	}
	if eng.peak > 2 {
		t.Errorf("peak concurrency = %d, want at most 2", eng.peak)
	}
}

func TestRunBytes(t *testing.T) {
	eng := &fakeEngine{process: func(req ocr.Request) (*ocr.Response, error) {
		if req.ID == "broken.png" {
			return nil, errors.New("unreadable scan")
		}
		return annotated("Oat Bars"), nil
	}}
	runner := New(WithEngine(eng), WithConcurrency(2))

	inputs := []Input{
		{Name: "front.png", Data: []byte("front")},
		{Name: "broken.png", Data: []byte("broken")},
	}
	results := runner.RunBytes(context.Background(), inputs)
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Err != nil || results[0].Path != "front.png" {
		t.Errorf("result 0 = %q/%v", results[0].Path, results[0].Err)
	}
	if results[0].Annotation.ImageID != "front.png" {
		t.Errorf("image id = %q", results[0].Annotation.ImageID)
	}
	if results[1].Err == nil || results[1].Path != "broken.png" {
		t.Errorf("result 1 = %q/%v", results[1].Path, results[1].Err)
	}
}

func TestRunEmptyInput(t *testing.T) {
	runner := New(WithEngine(&fakeEngine{}))
	results := runner.Run(context.Background(), nil)
	if len(results) != 0 {
		t.Fatalf("got %d results for empty input", len(results))
	}
}
