// Command labelscand serves the extraction pipeline over HTTP. Images come
// in as multipart uploads, validated annotations and overlay renders come
// back as JSON.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/wudi/labelkit/config"
	"github.com/wudi/labelkit/extensions"
	"github.com/wudi/labelkit/observability"
	"github.com/wudi/labelkit/ocr"
	"github.com/wudi/labelkit/ocr/gemini"
	"github.com/wudi/labelkit/ocr/mistral"
	_ "github.com/wudi/labelkit/ocr/tesseract"
	"github.com/wudi/labelkit/scripting"
	"github.com/wudi/labelkit/server"
	"github.com/wudi/labelkit/storage"
	"github.com/wudi/labelkit/store"
)

type options struct {
	configPath string
	addr       string
	verbose    bool
	set        map[string]bool
}

func main() {
	opts, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "labelscand: %v\n", err)
		os.Exit(2)
	}
	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "labelscand: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var opts options
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: labelscand [flags]\n")
		flag.PrintDefaults()
	}
	configPath := flag.String("config", "", "Config file (default: labelkit.yaml if present)")
	addr := flag.String("addr", "", "Listen address override (default from config)")
	verbose := flag.Bool("v", false, "Debug logging")
	flag.Parse()

	if flag.NArg() != 0 {
		flag.Usage()
		return options{}, fmt.Errorf("unexpected argument %q", flag.Arg(0))
	}
	opts.configPath = *configPath
	opts.addr = *addr
	opts.verbose = *verbose
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
	if opts.set["addr"] {
		cfg.Server.Addr = opts.addr
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	log := observability.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

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

	serverOpts := []server.Option{
		server.WithEngine(engine),
		server.WithVersion(cfg.Version()),
		server.WithModel(cfg.Model),
		server.WithOverlay(cfg.Overlay.Enabled),
		server.WithConcurrency(cfg.Concurrency),
		server.WithMaxUploadMB(cfg.Server.MaxUploadMB),
		server.WithHub(hub),
		server.WithLogger(log),
	}
	if cfg.Store.DSN != "" {
		st, err := store.Open(cfg.Store.DSN, store.WithLogger(log))
		if err != nil {
			return err
		}
		defer st.Close()
		serverOpts = append(serverOpts, server.WithResultStore(st))
	}
	if cfg.Storage.Dir != "" {
		blobs, err := storage.NewLocal(cfg.Storage.Dir)
		if err != nil {
			return err
		}
		serverOpts = append(serverOpts, server.WithUploads(blobs))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(serverOpts...)
	log.Info("starting",
		observability.String("addr", cfg.Server.Addr),
		observability.String("engine", engine.Name()),
		observability.String("schema_version", cfg.SchemaVersion))
	return srv.Run(ctx, cfg.Server.Addr)
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
