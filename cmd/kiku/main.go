// Package main is the kiku CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hyperjump/kiku/internal/cli"
	"github.com/hyperjump/kiku/internal/config"
	"github.com/hyperjump/kiku/internal/models"
	"github.com/hyperjump/kiku/internal/rag"
	"github.com/hyperjump/kiku/internal/server"
	"github.com/hyperjump/kiku/internal/watcher"
	"github.com/hyperjump/kiku/pkg/utils"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/kiku/config.yaml"
	defaultServerURL  = "http://localhost:5000"
)

// loadConfig loads config from path. For the default path a config.yaml in
// the working directory wins, and when neither exists built-in defaults are
// used. It returns the path actually loaded, or "" for defaults.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, err := os.Stat(fallback); err == nil {
				cfg, err := config.Load(fallback)
				if err != nil {
					return nil, "", err
				}
				return cfg, fallback, nil
			}
		}
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			cfg := &config.Config{}
			config.ApplyDefaults(cfg)
			return cfg, "", cfg.Validate()
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	// API keys may come from a .env file
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	args := os.Args[2:]
	switch command {
	case "server":
		runServer(args)
	case "ingest":
		runIngest(args)
	case "query":
		runQuery(args)
	case "retrieve":
		runRetrieve(args)
	case "namespaces":
		runNamespaces(args)
	case "status":
		runStatus(args)
	case "watch":
		runWatch(args)
	case "version", "--version", "-v":
		fmt.Printf("kiku version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// exitCode gives each error kind its own process status.
func exitCode(err error) int {
	switch {
	case errors.Is(err, models.ErrInputTooLong), errors.Is(err, models.ErrValidation):
		return 2
	case errors.Is(err, models.ErrNamespaceNotFound):
		return 3
	case errors.Is(err, models.ErrDimensionMismatch):
		return 4
	case errors.Is(err, models.ErrEmbedding):
		return 5
	case errors.Is(err, models.ErrGeneration):
		return 6
	case errors.Is(err, models.ErrStorageCorruption):
		return 7
	default:
		return 1
	}
}

func exitMessage(err error) string {
	switch exitCode(err) {
	case 2:
		return "invalid input"
	case 3:
		return "namespace not found"
	case 4:
		return "embedding dimension does not match the namespace"
	case 5:
		return "embedding service failed"
	case 6:
		return "generation service failed"
	case 7:
		return "stored index is corrupted; it was left untouched"
	default:
		return "unexpected error"
	}
}

func fail(op string, err error) {
	fmt.Fprintf(os.Stderr, "%s failed: %s: %v\n", op, exitMessage(err), err)
	os.Exit(exitCode(err))
}

// commandEnv is what every direct-storage command needs.
type commandEnv struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger
	debug      bool
	components *Components
}

func (e *commandEnv) close() {
	if e.components != nil {
		e.components.Close()
	}
	_ = e.logger.Sync()
}

func setup(configPath string, debugFlag bool) *commandEnv {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debug := cfg.Debug || debugFlag
	logger, err := utils.NewLogger(debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	components, err := initializeComponents(cfg, logger, debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	return &commandEnv{cfg: cfg, configPath: resolved, logger: logger, debug: debug, components: components}
}

func runServer(args []string) {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(args)

	env := setup(*configPath, *debug)
	defer env.close()
	cfg, logger := env.cfg, env.logger
	logger.Info("config loaded", zap.String("config_path", env.configPath), zap.Bool("debug", env.debug))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// the watcher always runs so directories can be added at runtime
	w := newDirectoryWatcher(cfg, env.components.RAG, logger)
	if err := w.Start(ctx); err != nil {
		logger.Fatal("failed to start watcher", zap.Error(err))
	}
	go w.SyncExistingFiles()

	srv := server.NewServer(env.components.RAG, env.components.Store, cfg, logger, server.WithWatcher(w))
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
	w.Stop()
}

func newDirectoryWatcher(cfg *config.Config, orch *rag.Orchestrator, logger *zap.Logger) *watcher.Watcher {
	roots := make([]watcher.Root, len(cfg.Watch.Directories))
	for i, d := range cfg.Watch.Directories {
		roots[i] = watcher.Root{Directory: d.Directory, Namespace: d.Namespace}
	}
	exts := cfg.Watch.Extensions
	return watcher.NewWatcher(roots, exts, cfg.Watch.RecursiveOrDefault(),
		func(ctx context.Context, ns, path string) {
			res, err := orch.IngestPath(ctx, ns, path, exts)
			if err != nil {
				logger.Warn("watch ingest failed", zap.String("namespace", ns), zap.String("path", path), zap.Error(err))
				return
			}
			if !res.Skipped {
				logger.Info("watch ingested file",
					zap.String("namespace", ns), zap.String("path", path), zap.Int("chunks", res.Chunks))
			}
		},
		watcher.WithLogger(logger))
}

// buildQuery joins positional args so multi-word queries work with or without quotes.
func buildQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// argsReorder moves flags that follow positional arguments to the front,
// since flag.Parse stops at the first non-flag.
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

func parseFormat(s string) cli.OutputFormat {
	format, err := cli.ParseOutputFormat(s)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return format
}

func runIngest(args []string) {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = write to storage directly; stop the server first)")
	namespace := fs.String("namespace", "", "namespace to ingest into (required)")
	text := fs.String("text", "", "ingest this text instead of a file")
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(argsReorder(args))

	if *namespace == "" || (*text == "" && fs.NArg() < 1) {
		fmt.Println("Usage: kiku ingest --namespace <ns> [flags] <file-or-directory | ->")
		fmt.Println("       kiku ingest --namespace <ns> --text \"...\"")
		os.Exit(1)
	}
	format := parseFormat(*output)
	ctx := context.Background()

	source := ""
	if fs.NArg() > 0 {
		source = fs.Arg(0)
	}
	body := *text
	if source == "-" {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			fail("read stdin", err)
		}
		body, source = string(b), ""
	}

	if *serverURL != "" {
		c := newAPIClient(*serverURL)
		if source == "" {
			res, err := c.ingestText(ctx, *namespace, body)
			if err != nil {
				fail("ingest", err)
			}
			_ = cli.WriteIngest(os.Stdout, res, format)
			return
		}
		exts := ingestExtensions(*configPath)
		n, err := c.uploadPath(ctx, *namespace, source, exts, func(res *rag.IngestResponse) {
			_ = cli.WriteIngest(os.Stdout, res, format)
		})
		if err != nil {
			fail("ingest", err)
		}
		if format == cli.OutputText {
			fmt.Printf("Uploaded %d file(s) from %s\n", n, source)
		}
		return
	}

	env := setup(*configPath, false)
	defer env.close()
	orch := env.components.RAG
	if source == "" {
		res, err := orch.Ingest(ctx, rag.IngestRequest{Namespace: *namespace, Text: body})
		if err != nil {
			fail("ingest", err)
		}
		_ = cli.WriteIngest(os.Stdout, res, format)
		return
	}
	info, err := os.Stat(source)
	if err != nil {
		fail("ingest", err)
	}
	if info.IsDir() {
		n, err := orch.IngestDirectory(ctx, *namespace, source, env.cfg.Watch.Extensions, env.cfg.Watch.RecursiveOrDefault())
		if err != nil {
			fail("ingest directory", err)
		}
		fmt.Printf("Ingested %d file(s) from %s\n", n, source)
		return
	}
	// a single named file skips the extension filter
	res, err := orch.IngestPath(ctx, *namespace, source, nil)
	if err != nil {
		fail("ingest", err)
	}
	_ = cli.WriteIngest(os.Stdout, res, format)
}

// ingestExtensions returns the watch extensions from config, or the defaults.
func ingestExtensions(configPath string) []string {
	cfg, _, err := loadConfig(configPath)
	if err != nil || cfg == nil {
		d := &config.Config{}
		config.ApplyDefaults(d)
		return d.Watch.Extensions
	}
	return cfg.Watch.Extensions
}

func runQuery(args []string) {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = use storage directly)")
	namespace := fs.String("namespace", "", "namespace to ask (required)")
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(argsReorder(args))

	question := buildQuery(fs.Args())
	if *namespace == "" || question == "" {
		fmt.Println("Usage: kiku query --namespace <ns> [flags] <question>")
		os.Exit(1)
	}
	format := parseFormat(*output)
	ctx := context.Background()

	var ans *rag.AnswerResponse
	var err error
	if *serverURL != "" {
		ans, err = newAPIClient(*serverURL).answer(ctx, *namespace, question)
	} else {
		env := setup(*configPath, false)
		defer env.close()
		ans, err = env.components.RAG.Answer(ctx, rag.AnswerRequest{Namespace: *namespace, Query: question})
	}
	if err != nil {
		fail("query", err)
	}
	if err := cli.WriteAnswer(os.Stdout, ans, format); err != nil {
		fail("output", err)
	}
}

func runRetrieve(args []string) {
	fs := flag.NewFlagSet("retrieve", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = use storage directly)")
	namespace := fs.String("namespace", "", "namespace to search (required)")
	k := fs.Int("k", 0, "number of chunks (default: retrieval.top_k)")
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(argsReorder(args))

	query := buildQuery(fs.Args())
	if *namespace == "" || query == "" {
		fmt.Println("Usage: kiku retrieve --namespace <ns> [-k n] [flags] <query>")
		os.Exit(1)
	}
	format := parseFormat(*output)
	ctx := context.Background()
	req := rag.RetrieveRequest{Namespace: *namespace, Query: query, K: *k}

	var res *rag.RetrieveResponse
	var err error
	if *serverURL != "" {
		res, err = newAPIClient(*serverURL).retrieve(ctx, req)
	} else {
		env := setup(*configPath, false)
		defer env.close()
		res, err = env.components.RAG.Retrieve(ctx, req)
	}
	if err != nil {
		fail("retrieve", err)
	}
	if err := cli.WriteRetrieval(os.Stdout, res, format); err != nil {
		fail("output", err)
	}
}

func runNamespaces(args []string) {
	fs := flag.NewFlagSet("namespaces", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = use storage directly)")
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(args)
	format := parseFormat(*output)
	ctx := context.Background()

	var list []models.NamespaceInfo
	var err error
	if *serverURL != "" {
		list, err = newAPIClient(*serverURL).namespaces(ctx)
	} else {
		env := setup(*configPath, false)
		defer env.close()
		list, err = env.components.Store.Namespaces(ctx)
	}
	if err != nil {
		fail("list namespaces", err)
	}
	_ = cli.WriteNamespaces(os.Stdout, list, format)
}

func runStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = use storage directly)")
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(args)
	format := parseFormat(*output)
	ctx := context.Background()

	var status *statusResponse
	var err error
	if *serverURL != "" {
		status, err = newAPIClient(*serverURL).status(ctx)
	} else {
		env := setup(*configPath, false)
		defer env.close()
		status, err = localStatus(ctx, env)
	}
	if err != nil {
		fail("status", err)
	}
	if err := writeStatus(os.Stdout, status, format); err != nil {
		fail("output", err)
	}
}

func runWatch(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: kiku watch <add|remove|list> [flags] [path]")
		fmt.Println("  kiku watch add --namespace <ns> <path>  Watch a directory")
		fmt.Println("  kiku watch remove <path>                Stop watching a directory")
		fmt.Println("  kiku watch list                         List watched directories")
		os.Exit(1)
	}
	sub := args[0]
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	namespace := fs.String("namespace", "", "namespace for files in the directory (add only)")
	noSync := fs.Bool("no-sync", false, "do not ingest files already in the directory (add only)")
	_ = fs.Parse(argsReorder(args[1:]))
	c := newAPIClient(*serverURL)
	ctx := context.Background()

	switch sub {
	case "add":
		if fs.NArg() < 1 || *namespace == "" {
			fmt.Println("Usage: kiku watch add --namespace <ns> <path>")
			os.Exit(1)
		}
		path, _ := filepath.Abs(fs.Arg(0))
		if err := c.watchAdd(ctx, path, *namespace, !*noSync); err != nil {
			fail("watch add", err)
		}
		fmt.Printf("Added: %s -> %s\n", path, *namespace)
	case "remove":
		if fs.NArg() < 1 {
			fmt.Println("Usage: kiku watch remove <path>")
			os.Exit(1)
		}
		path, _ := filepath.Abs(fs.Arg(0))
		if err := c.watchRemove(ctx, path); err != nil {
			fail("watch remove", err)
		}
		fmt.Printf("Removed: %s\n", path)
	case "list":
		dirs, err := c.watchList(ctx)
		if err != nil {
			fail("watch list", err)
		}
		for _, d := range dirs {
			fmt.Printf("%s\t%s\n", d.Path, d.Namespace)
		}
	default:
		fmt.Printf("Unknown watch subcommand: %s\n", sub)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`kiku - namespace-scoped retrieval for question answering

Usage:
  kiku server [flags]                          Start the HTTP server
  kiku ingest --namespace <ns> <path | ->      Ingest a file, directory or stdin
  kiku query --namespace <ns> <question>       Answer a question from a namespace
  kiku retrieve --namespace <ns> <query>       Show the chunks nearest to a query
  kiku namespaces [flags]                      List namespaces
  kiku status [flags]                          Show storage and configuration status
  kiku watch <add|remove|list>                 Manage watched directories
  kiku version                                 Show version
  kiku help                                    Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/kiku/config.yaml)
  --server string    Server URL (default: http://localhost:5000). Use --server "" to
                     work on storage directly when the server is not running.
  --output string    Output format: text or json (default: text)

Server Flags:
  --debug            Enable debug logging

Ingest Flags:
  --namespace string Namespace to ingest into
  --text string      Ingest this text instead of a file

Retrieve Flags:
  -k int             Number of chunks (default: retrieval.top_k)

Examples:
  kiku server
  kiku ingest --namespace handbook ./handbook.pdf
  echo "Paris is the capital of France." | kiku ingest --namespace geo -
  kiku query --namespace geo What is the capital of France?
  kiku retrieve --namespace geo -k 3 capital
  kiku watch add --namespace contracts ~/contracts
  kiku status --output json`)
}
