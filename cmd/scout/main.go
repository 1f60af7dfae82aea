package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"deepscout/internal/cache"
	"deepscout/internal/cleaner"
	"deepscout/internal/config"
	"deepscout/internal/embedding"
	"deepscout/internal/fetch"
	"deepscout/internal/llm"
	"deepscout/internal/logging"
	"deepscout/internal/orchestrator"
	"deepscout/internal/ragstore"
	"deepscout/internal/relevance"
	"deepscout/internal/search"
	"deepscout/internal/tasks"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "scout",
	Short: "deepscout - LLM-guided web research pipeline",
	Long: `deepscout runs iterative web research: it generates search queries for a
task, filters results through two LLM relevance gates, cleans what survives
and accumulates the evidence into a local retrieval index you can query.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default scout.yaml if present)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(researchCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(serveCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// app holds the wired pipeline for one command invocation.
type app struct {
	cfg     config.Config
	log     logging.Sink
	client  llm.Client
	cache   *cache.Cache
	fetcher fetch.Fetcher
	store   *ragstore.Store
	orch    *orchestrator.Orchestrator
	tasks   *tasks.Store

	browser *fetch.BrowserFetcher
}

// loadConfig resolves the config file and the base log sink. Commands that
// only touch local state (cache, index listing) stop here.
func loadConfig() (config.Config, logging.Sink, error) {
	path := configPath
	if path == "" {
		if _, err := os.Stat("scout.yaml"); err == nil {
			path = "scout.yaml"
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logging.New(cfg.Debug || verbose), nil
}

// newApp wires the full pipeline: model clients, fetchers, cache, store and
// orchestrator.
func newApp(ctx context.Context) (*app, error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return nil, err
	}

	client, err := llm.New(ctx, cfg.LLM, log)
	if err != nil {
		return nil, fmt.Errorf("llm backend: %w", err)
	}
	engine, err := embedding.New(ctx, cfg.Embedding, log)
	if err != nil {
		return nil, fmt.Errorf("embedding backend: %w", err)
	}

	a := &app{cfg: cfg, log: log, client: client}

	if cfg.Fetch.UseBrowser {
		a.browser = fetch.NewBrowserFetcher(cfg.Fetch, log)
		a.fetcher = a.browser
	} else {
		a.fetcher = fetch.NewHTTPFetcher(cfg.Fetch, log)
	}

	a.cache, err = cache.New(cfg.CachePath(), fetch.NewDocumentExtractor(log), log)
	if err != nil {
		return nil, err
	}
	a.store, err = ragstore.New(cfg.IndexPath(), engine, client, log)
	if err != nil {
		return nil, err
	}
	a.tasks, err = tasks.NewStore(cfg.TaskFilePath(), log)
	if err != nil {
		return nil, err
	}

	a.orch = orchestrator.New(
		search.NewQueryGenerator(client, log),
		search.NewDuckDuckGo(log),
		relevance.NewLinkEvaluator(client, log),
		relevance.NewContentEvaluator(client, log),
		cleaner.New(client, cfg.Cleaner, log),
		a.cache,
		a.fetcher,
		a.store,
		client,
		cfg.Research,
		log,
	)
	return a, nil
}

func (a *app) close() {
	if a.browser != nil {
		_ = a.browser.Close()
	}
	if a.tasks != nil {
		a.tasks.Close()
	}
	_ = a.log.Sync()
}
