// Package main is the medquery CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/RohitChoukiker/medQuery/internal/apperr"
	"github.com/RohitChoukiker/medQuery/internal/cli"
	"github.com/RohitChoukiker/medQuery/internal/config"
	"github.com/RohitChoukiker/medQuery/internal/ingest"
	"github.com/RohitChoukiker/medQuery/internal/models"
	"github.com/RohitChoukiker/medQuery/internal/server"
	"github.com/RohitChoukiker/medQuery/internal/storage"
	"github.com/RohitChoukiker/medQuery/internal/vector"
	"github.com/RohitChoukiker/medQuery/internal/watcher"
	"github.com/RohitChoukiker/medQuery/pkg/utils"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

var version = "dev"

// Exit codes.
const (
	exitOK         = 0
	exitFailure    = 1
	exitEmptyStore = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return exitFailure
	}
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(stderr, "Failed to load .env: %v\n", err)
		return exitFailure
	}
	command, rest := args[0], args[1:]
	switch command {
	case "ingest":
		return runIngest(rest, stdout, stderr)
	case "ask":
		return runAsk(rest, stdout, stderr)
	case "tag":
		return runTag(rest, stdout, stderr)
	case "serve", "server":
		return runServe(rest, stderr)
	case "status":
		return runStatus(rest, stdout, stderr)
	case "config":
		return runConfig(rest, stdout, stderr)
	case "version", "--version", "-v":
		fmt.Fprintf(stdout, "medquery version %s\n", version)
		return exitOK
	case "help", "--help", "-h":
		printUsage(stdout)
		return exitOK
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", command)
		printUsage(stderr)
		return exitFailure
	}
}

// loadConfig loads path when given, otherwise ./config.yaml when present,
// otherwise defaults plus environment. It returns the path actually used
// ("" for environment only).
func loadConfig(path string) (*config.Config, string, error) {
	if path == "" {
		if cwd, err := os.Getwd(); err == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, err := os.Stat(fallback); err == nil {
				path = fallback
			}
		}
	}
	if path == "" {
		cfg, err := config.FromEnv()
		return cfg, "", err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// commonFlags registers --config and --debug on fs.
type commonFlags struct {
	configPath *string
	debug      *bool
}

func addCommonFlags(fs *flag.FlagSet) commonFlags {
	return commonFlags{
		configPath: fs.String("config", "", "config file path (default ./config.yaml, else environment only)"),
		debug:      fs.Bool("debug", false, "enable debug logging"),
	}
}

// setup loads config and builds a logger for a subcommand.
func (f commonFlags) setup(stderr io.Writer) (*config.Config, *zap.Logger, bool) {
	cfg, used, err := loadConfig(*f.configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return nil, nil, false
	}
	debug := cfg.Debug || *f.debug
	logger, err := utils.NewLogger(debug)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to create logger: %v\n", err)
		return nil, nil, false
	}
	logger.Debug("config loaded", zap.String("config_path", used), zap.Bool("debug", debug))
	return cfg, logger, true
}

// joinArgs joins positional args so multi-word input works with or without quotes.
func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// reorderArgs moves the flags defined on fs in front of the positional
// arguments so flag.Parse sees them ("medquery ask what --json is angina").
// Positional arguments keep their order. Words that look like flags but are
// not defined on fs stay positional, and "--" ends flag scanning.
func reorderArgs(fs *flag.FlagSet, args []string) []string {
	flags := make([]string, 0, len(args))
	positional := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "--" {
			positional = append(positional, args[i+1:]...)
			break
		}
		name, hasValue, ok := flagName(a)
		if !ok {
			positional = append(positional, a)
			continue
		}
		f := fs.Lookup(name)
		if f == nil && name != "h" && name != "help" {
			positional = append(positional, a)
			continue
		}
		flags = append(flags, a)
		if f != nil && !hasValue && !isBoolFlag(f) && i+1 < len(args) {
			i++
			flags = append(flags, args[i])
		}
	}
	if len(positional) > 0 && strings.HasPrefix(positional[0], "-") {
		flags = append(flags, "--")
	}
	return append(flags, positional...)
}

// flagName returns the name in "-name", "--name" or "--name=value".
func flagName(arg string) (name string, hasValue, ok bool) {
	if len(arg) < 2 || arg[0] != '-' {
		return "", false, false
	}
	name = strings.TrimPrefix(arg[1:], "-")
	if name == "" || name[0] == '-' || name[0] == '=' {
		return "", false, false
	}
	if i := strings.IndexByte(name, '='); i >= 0 {
		return name[:i], true, true
	}
	return name, false, true
}

func isBoolFlag(f *flag.Flag) bool {
	b, ok := f.Value.(interface{ IsBoolFlag() bool })
	return ok && b.IsBoolFlag()
}

func outputFormat(asJSON bool) cli.OutputFormat {
	if asJSON {
		return cli.OutputJSON
	}
	return cli.OutputText
}

func runIngest(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	fs.SetOutput(stderr)
	common := addCommonFlags(fs)
	watch := fs.Bool("watch", false, "keep running and ingest files created or modified afterwards")
	rebuild := fs.Bool("rebuild", false, "clear the vector store before ingesting")
	quiet := fs.Bool("quiet", false, "disable the progress bar")
	if err := fs.Parse(reorderArgs(fs, args)); err != nil {
		return parseExit(err)
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "Usage: medquery ingest [flags] <source-directory>")
		return exitFailure
	}
	dir := fs.Arg(0)

	cfg, logger, ok := common.setup(stderr)
	if !ok {
		return exitFailure
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := initializeComponents(ctx, cfg, logger, false)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to initialize: %v\n", err)
		return exitFailure
	}
	defer components.Close()

	if *rebuild {
		if err := components.Store.Reset(ctx); err != nil {
			fmt.Fprintf(stderr, "Failed to clear vector store: %v\n", err)
			return exitFailure
		}
		logger.Info("vector store cleared")
	}

	opts := []ingest.Option{}
	var bars *progressBars
	if !*quiet {
		bars = &progressBars{w: stderr}
		opts = append(opts, ingest.WithProgress(bars.update))
	}
	pipeline := components.Pipeline(opts...)

	n, err := pipeline.Ingest(ctx, dir)
	bars.finish()
	if err != nil {
		fmt.Fprintf(stderr, "Ingestion failed: %v\n", err)
		return exitFailure
	}
	fmt.Fprintf(stdout, "Ingested %d chunks\n", n)

	if !*watch {
		return exitOK
	}
	w := watcher.New(dir, components.Pipeline(),
		watcher.WithExtensions(cfg.Ingest.Extensions),
		watcher.WithLogger(logger),
	)
	if err := w.Start(ctx); err != nil {
		fmt.Fprintf(stderr, "Failed to watch %s: %v\n", dir, err)
		return exitFailure
	}
	fmt.Fprintf(stdout, "Watching %s for changes (Ctrl+C to stop)\n", dir)
	<-ctx.Done()
	w.Stop()
	return exitOK
}

// progressBars shows one bar per ingestion stage.
type progressBars struct {
	w     io.Writer
	stage string
	bar   *progressbar.ProgressBar
}

func (p *progressBars) update(pr ingest.Progress) {
	if p.stage != pr.Stage || p.bar == nil {
		p.finish()
		p.stage = pr.Stage
		p.bar = progressbar.NewOptions(pr.Total,
			progressbar.OptionSetWriter(p.w),
			progressbar.OptionSetDescription(stageDescription(pr.Stage)),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(30),
			progressbar.OptionOnCompletion(func() { fmt.Fprintln(p.w) }),
		)
	}
	_ = p.bar.Set(pr.Done)
}

func (p *progressBars) finish() {
	if p == nil || p.bar == nil {
		return
	}
	_ = p.bar.Finish()
	p.bar = nil
}

func stageDescription(stage string) string {
	switch stage {
	case ingest.StageExtract:
		return "reading files"
	case ingest.StageEmbed:
		return "embedding chunks"
	}
	return stage
}

func runAsk(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("ask", flag.ContinueOnError)
	fs.SetOutput(stderr)
	common := addCommonFlags(fs)
	role := fs.String("role", "", "role of the asking user, recorded in the audit log")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(reorderArgs(fs, args)); err != nil {
		return parseExit(err)
	}
	query := joinArgs(fs.Args())
	if query == "" {
		fmt.Fprintln(stderr, "Usage: medquery ask [flags] <question>")
		return exitFailure
	}

	cfg, logger, ok := common.setup(stderr)
	if !ok {
		return exitFailure
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := initializeComponents(ctx, cfg, logger, true)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to initialize: %v\n", err)
		return exitFailure
	}
	defer components.Close()

	ans, err := components.Chain.Answer(ctx, models.QueryRequest{Query: query, Role: *role})
	if err != nil {
		kind := apperr.KindOf(err)
		fmt.Fprintf(stderr, "%s\n", apperr.PublicMessage(kind))
		logger.Debug("ask failed", zap.Error(err))
		if kind == apperr.RetrievalEmpty {
			return exitEmptyStore
		}
		return exitFailure
	}
	if err := cli.WriteAnswer(stdout, ans, outputFormat(*asJSON)); err != nil {
		fmt.Fprintf(stderr, "Output failed: %v\n", err)
		return exitFailure
	}
	return exitOK
}

func runTag(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("tag", flag.ContinueOnError)
	fs.SetOutput(stderr)
	common := addCommonFlags(fs)
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(reorderArgs(fs, args)); err != nil {
		return parseExit(err)
	}
	text := joinArgs(fs.Args())
	if text == "" {
		fmt.Fprintln(stderr, "Usage: medquery tag [flags] <text>")
		return exitFailure
	}

	cfg, logger, ok := common.setup(stderr)
	if !ok {
		return exitFailure
	}
	defer logger.Sync()

	tg, err := newTagger(cfg, logger)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load tagger: %v\n", err)
		return exitFailure
	}
	out := cli.TagOutput{
		TagSet:         tg.Tag(text),
		MedicalNumbers: tg.ExtractMedicalNumbers(text),
		Category:       tg.Categorize(text),
	}
	if err := cli.WriteTags(stdout, out, outputFormat(*asJSON)); err != nil {
		fmt.Fprintf(stderr, "Output failed: %v\n", err)
		return exitFailure
	}
	return exitOK
}

func runServe(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	common := addCommonFlags(fs)
	watchDir := fs.String("watch", "", "source directory to watch and re-ingest while serving")
	if err := fs.Parse(args); err != nil {
		return parseExit(err)
	}

	cfg, logger, ok := common.setup(stderr)
	if !ok {
		return exitFailure
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := initializeComponents(ctx, cfg, logger, true)
	if err != nil {
		logger.Error("failed to initialize components", zap.Error(err))
		return exitFailure
	}
	defer components.Close()

	if *watchDir != "" {
		w := watcher.New(*watchDir, components.Pipeline(),
			watcher.WithExtensions(cfg.Ingest.Extensions),
			watcher.WithLogger(logger),
		)
		if err := w.Start(ctx); err != nil {
			logger.Error("failed to start watcher", zap.Error(err))
			return exitFailure
		}
		defer w.Stop()
	}

	srv := server.NewServer(components.Chain, components.Tagger, components.Store, cfg, logger)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		logger.Error("server failed", zap.Error(err))
		return exitFailure
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Warn("shutdown failed", zap.Error(err))
	}
	if err := components.Store.Persist(shutdownCtx); err != nil {
		logger.Warn("vector store persist failed", zap.Error(err))
	}
	return exitOK
}

// statusResponse is what the status command prints.
type statusResponse struct {
	Backend        string `json:"backend"`
	Location       string `json:"location"`
	Entries        int    `json:"entries"`
	Documents      *int64 `json:"documents,omitempty"`
	Dimensions     int    `json:"dimensions"`
	DiskUsageBytes *int64 `json:"disk_usage_bytes,omitempty"`
	StoreFiles     int    `json:"store_files,omitempty"`
	EmbeddingModel string `json:"embedding_model"`
	ChunkSize      int    `json:"chunk_size"`
	ChunkOverlap   int    `json:"chunk_overlap"`
	RetrievalK     int    `json:"retrieval_k"`
}

func runStatus(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(stderr)
	common := addCommonFlags(fs)
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return parseExit(err)
	}
	cfg, logger, ok := common.setup(stderr)
	if !ok {
		return exitFailure
	}
	defer logger.Sync()

	ctx := context.Background()
	status, err := collectStatus(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(stderr, "Status failed: %v\n", err)
		return exitFailure
	}
	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(status); err != nil {
			fmt.Fprintf(stderr, "Output failed: %v\n", err)
			return exitFailure
		}
		return exitOK
	}
	fmt.Fprintf(stdout, "backend:          %s\n", status.Backend)
	fmt.Fprintf(stdout, "location:         %s\n", status.Location)
	fmt.Fprintf(stdout, "entries:          %d   # chunks in the vector store\n", status.Entries)
	if status.Documents != nil {
		fmt.Fprintf(stdout, "documents:        %d   # source files with persisted chunks\n", *status.Documents)
	}
	fmt.Fprintf(stdout, "dimensions:       %d\n", status.Dimensions)
	if status.DiskUsageBytes != nil {
		fmt.Fprintf(stdout, "disk_usage_bytes: %d   # %d files\n", *status.DiskUsageBytes, status.StoreFiles)
	}
	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, "# configuration")
	fmt.Fprintf(stdout, "embedding_model:  %s\n", status.EmbeddingModel)
	fmt.Fprintf(stdout, "chunk_size:       %d\n", status.ChunkSize)
	fmt.Fprintf(stdout, "chunk_overlap:    %d\n", status.ChunkOverlap)
	fmt.Fprintf(stdout, "retrieval_k:      %d\n", status.RetrievalK)
	return exitOK
}

// collectStatus opens the store without loading any model.
func collectStatus(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*statusResponse, error) {
	store, err := vector.Open(ctx, cfg.Store, cfg.Embedding.Dimensions, vector.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	defer store.Close()

	status := &statusResponse{
		Backend:        cfg.Store.Backend,
		Location:       cfg.Store.Path,
		Entries:        store.Count(),
		Dimensions:     store.Dimensions(),
		EmbeddingModel: cfg.Embedding.ModelID,
		ChunkSize:      cfg.Chunking.Size,
		ChunkOverlap:   cfg.Chunking.Overlap,
		RetrievalK:     cfg.Retrieval.K,
	}
	if cfg.Store.Backend == vector.BackendPGVector {
		status.Location = cfg.Store.Table
	}
	if ds, ok := store.(*vector.DiskStore); ok {
		if n, err := ds.Documents(ctx); err == nil {
			status.Documents = &n
		}
		if u, err := storage.DiskUsage(ds.Dir()); err == nil {
			status.DiskUsageBytes = &u.Bytes
			status.StoreFiles = u.Files
		}
	}
	return status, nil
}

func runConfig(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.SetOutput(stderr)
	common := addCommonFlags(fs)
	write := fs.String("write", "", "write the effective configuration to this path")
	if err := fs.Parse(args); err != nil {
		return parseExit(err)
	}
	cfg, logger, ok := common.setup(stderr)
	if !ok {
		return exitFailure
	}
	defer logger.Sync()

	if *write != "" {
		if err := config.Save(*write, cfg); err != nil {
			fmt.Fprintf(stderr, "Failed to write config: %v\n", err)
			return exitFailure
		}
		fmt.Fprintf(stdout, "Wrote %s\n", *write)
		return exitOK
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to render config: %v\n", err)
		return exitFailure
	}
	_, _ = stdout.Write(data)
	return exitOK
}

// parseExit maps a flag parse error to an exit code; -h is not a failure.
func parseExit(err error) int {
	if errors.Is(err, flag.ErrHelp) {
		return exitOK
	}
	return exitFailure
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `medquery - medical question answering over your own documents

Usage:
  medquery <command> [flags] [arguments]

Commands:
  ingest <dir>      Load documents from <dir> into the vector store
                    --rebuild clears the store first, --watch keeps ingesting changes
  ask <question>    Answer a question from the ingested documents (--role, --json)
  tag <text>        Extract medical entities, dosages and vital signs (--json)
  serve             Start the HTTP API (--watch <dir> to re-ingest while serving)
  status            Show vector store statistics (--json)
  config            Print the effective configuration (--write <path> to save it)
  version           Print the version
  help              Show this help

Every command accepts --config <path> and --debug.

Exit codes:
  0  success
  1  failure (including ingestion errors)
  2  ask: the vector store is empty; run ingest first
`)
}
