// Command labelscan extracts product metadata from package images and
// emits one JSON report per image, to stdout or into an output directory
// alongside optional overlay renders.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/wudi/labelkit/batch"
	"github.com/wudi/labelkit/config"
	"github.com/wudi/labelkit/extensions"
	"github.com/wudi/labelkit/observability"
	"github.com/wudi/labelkit/ocr"
	"github.com/wudi/labelkit/ocr/gemini"
	"github.com/wudi/labelkit/ocr/mistral"
	_ "github.com/wudi/labelkit/ocr/tesseract"
	"github.com/wudi/labelkit/overlay"
	"github.com/wudi/labelkit/schema"
	"github.com/wudi/labelkit/scripting"
	"github.com/wudi/labelkit/store"
)

type options struct {
	configPath  string
	engine      string
	model       string
	schemaName  string
	concurrency int
	overlay     bool
	outDir      string
	rules       string
	verbose     bool
	paths       []string
	set         map[string]bool
}

func main() {
	opts, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "labelscan: %v\n", err)
		os.Exit(2)
	}
	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "labelscan: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var opts options
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: labelscan [flags] <image|glob> ...\n")
		flag.PrintDefaults()
	}
	configPath := flag.String("config", "", "Config file (default: labelkit.yaml if present)")
	engine := flag.String("engine", "", "OCR engine: mistral, gemini or tesseract")
	model := flag.String("model", "", "Model identifier override")
	schemaName := flag.String("schema", "", "Record schema version: v1 or v2")
	concurrency := flag.Int("concurrency", batch.DefaultConcurrency, "Images processed in parallel")
	overlayOn := flag.Bool("overlay", false, "Render bounding-box overlays")
	outDir := flag.String("out", "", "Directory for per-image reports and overlays (default: stdout)")
	rules := flag.String("rules", "", "Comma-separated JavaScript rule files")
	verbose := flag.Bool("v", false, "Debug logging")
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		return options{}, errors.New("no input images")
	}
	opts.configPath = *configPath
	opts.engine = *engine
	opts.model = *model
	opts.schemaName = *schemaName
	opts.concurrency = *concurrency
	opts.overlay = *overlayOn
	opts.outDir = *outDir
	opts.rules = *rules
	opts.verbose = *verbose
	opts.paths = flag.Args()
	opts.set = make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { opts.set[f.Name] = true })
	return opts, nil
}

func run(opts options) error {
	_ = godotenv.Load()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.set["engine"] {
		cfg.Engine = opts.engine
	}
	if opts.set["model"] {
		cfg.Model = opts.model
	}
	if opts.set["schema"] {
		cfg.SchemaVersion = opts.schemaName
	}
	if opts.set["concurrency"] {
		cfg.Concurrency = opts.concurrency
	}
	if opts.set["overlay"] {
		cfg.Overlay.Enabled = opts.overlay
	}
	if opts.set["rules"] {
		cfg.Rules = splitList(opts.rules)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	log := observability.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	engine, err := buildEngine(cfg)
	if err != nil {
		return err
	}

	hub := extensions.NewHub(log)
	if err := hub.Register(extensions.NewListSanitizer()); err != nil {
		return err
	}
	if len(cfg.Rules) > 0 {
		scriptRules, err := extensions.NewScriptRules(scripting.NewEngine(), cfg.Rules...)
		if err != nil {
			return fmt.Errorf("load rules: %w", err)
		}
		if err := hub.Register(scriptRules); err != nil {
			return err
		}
	}

	runnerOpts := []batch.Option{
		batch.WithEngine(engine),
		batch.WithVersion(cfg.Version()),
		batch.WithModel(cfg.Model),
		batch.WithConcurrency(cfg.Concurrency),
		batch.WithHub(hub),
		batch.WithLogger(log),
	}
	if cfg.Overlay.Enabled {
		runnerOpts = append(runnerOpts, batch.WithOverlay(overlay.New(overlay.WithLogger(log))))
	}
	if cfg.Store.DSN != "" {
		cache, err := store.Open(cfg.Store.DSN, store.WithLogger(log))
		if err != nil {
			return err
		}
		defer cache.Close()
		runnerOpts = append(runnerOpts, batch.WithCache(cache))
	}
	runner := batch.New(runnerOpts...)

	paths, err := expandPaths(opts.paths)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	results := runner.Run(ctx, paths)
	if err := emit(results, opts.outDir, cfg.Version()); err != nil {
		return err
	}

	failed := 0
	for i := range results {
		if results[i].Err != nil {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d images failed", failed, len(results))
	}
	return nil
}

func buildEngine(cfg *config.Config) (ocr.Engine, error) {
	switch cfg.Engine {
	case "mistral":
		key := cfg.ResolveAPIKey()
		if key == "" {
			return nil, errors.New("engine mistral needs an API key: set api_key or MISTRAL_API_KEY")
		}
		var opts []mistral.Option
		if cfg.Model != "" {
			opts = append(opts, mistral.WithModel(cfg.Model))
		}
		return mistral.New(key, opts...), nil
	case "gemini":
		key := cfg.ResolveAPIKey()
		if key == "" {
			return nil, errors.New("engine gemini needs an API key: set api_key, GEMINI_API_KEY or GOOGLE_API_KEY")
		}
		return gemini.New(key, cfg.Model), nil
	default:
		return ocr.Lookup(cfg.Engine)
	}
}

// expandPaths resolves glob patterns. An argument without wildcards (or
// matching nothing) passes through literally so a missing file surfaces as
// that image's result instead of silently shrinking the batch.
func expandPaths(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		matches, err := filepath.Glob(arg)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", arg, err)
		}
		if len(matches) == 0 {
			paths = append(paths, arg)
			continue
		}
		paths = append(paths, matches...)
	}
	if len(paths) == 0 {
		return nil, errors.New("no input images")
	}
	return paths, nil
}

// report is the per-image output document.
type report struct {
	Path       string             `json:"path"`
	Schema     string             `json:"schema_version"`
	Annotation *schema.Annotation `json:"annotation,omitempty"`
	Populated  []string           `json:"populated,omitempty"`
	Skipped    []string           `json:"skipped,omitempty"`
	Degraded   bool               `json:"degraded,omitempty"`
	FromCache  bool               `json:"from_cache,omitempty"`
	Overlay    string             `json:"overlay,omitempty"`
	Error      string             `json:"error,omitempty"`
}

func emit(results []batch.Result, outDir string, version schema.Version) error {
	reports := make([]report, len(results))
	for i, res := range results {
		reports[i] = report{
			Path:       res.Path,
			Schema:     version.String(),
			Annotation: res.Annotation,
			Populated:  res.Diagnostics.Populated,
			Skipped:    res.Diagnostics.Dropped,
			Degraded:   res.Diagnostics.Fallback,
			FromCache:  res.FromCache,
		}
		if res.Err != nil {
			reports[i].Error = res.Err.Error()
		}
	}

	if outDir == "" {
		for i, res := range results {
			if res.Overlay != nil {
				reports[i].Overlay = "(rendered; use -out to write overlay files)"
			}
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(reports)
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	used := make(map[string]int)
	for i, res := range results {
		stem := strings.TrimSuffix(filepath.Base(res.Path), filepath.Ext(res.Path))
		if n := used[stem]; n > 0 {
			stem = fmt.Sprintf("%s-%d", stem, n+1)
		}
		used[strings.TrimSuffix(filepath.Base(res.Path), filepath.Ext(res.Path))]++

		if res.Overlay != nil {
			png, err := overlay.EncodePNG(res.Overlay)
			if err != nil {
				return fmt.Errorf("encode overlay for %s: %w", res.Path, err)
			}
			overlayPath := filepath.Join(outDir, stem+".overlay.png")
			if err := os.WriteFile(overlayPath, png, 0o644); err != nil {
				return fmt.Errorf("write overlay: %w", err)
			}
			reports[i].Overlay = overlayPath
		}

		doc, err := json.MarshalIndent(reports[i], "", "  ")
		if err != nil {
			return fmt.Errorf("encode report for %s: %w", res.Path, err)
		}
		if err := os.WriteFile(filepath.Join(outDir, stem+".json"), append(doc, '\n'), 0o644); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
