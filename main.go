package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/pro-search-agent/server/internal/agent/graph"
	"github.com/pro-search-agent/server/internal/agent/model"
	"github.com/pro-search-agent/server/internal/core"
	logx "github.com/pro-search-agent/server/pkg/logger"
	pkgredis "github.com/pro-search-agent/server/pkg/redis"
	"github.com/pro-search-agent/server/pkg/telemetry"
	pkgweaviate "github.com/pro-search-agent/server/pkg/weaviate"
)

// AppConfig defines all configurable parameters of the agent,
// sourced from environment variables (loaded from .env for local runs).
type AppConfig struct {
	Environment core.Environment `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string           `envconfig:"LOG_LEVEL"`

	// Infrastructure
	Redis     pkgredis.Config
	Weaviate  pkgweaviate.Config
	Telemetry telemetry.Config

	// LLM provider
	APIKey         string `envconfig:"GEMINI_API_KEY" required:"true"`
	BaseURL        string `envconfig:"GEMINI_BASE_URL"`
	ThinkingBudget int32  `envconfig:"THINKING_BUDGET" default:"1024"`

	// Agent configs
	Research         model.ResearchConfig
	Search           model.SearchConfig
	Conversation     model.ConversationConfig
	KnowledgeEnabled bool `envconfig:"KNOWLEDGE_SEARCH_ENABLED" default:"true"`
}

var (
	rootCmd = &cobra.Command{
		Use:   "pro-search",
		Short: "A conversational research agent backed by web and knowledge search",
		Long: `pro-search answers questions by screening the input, deciding whether
web or knowledge-base evidence is needed, searching in parallel waves,
reflecting on gaps and writing a cited answer.`,
		SilenceUsage: true,
	}
	askCmd = &cobra.Command{
		Use:   "ask [question]",
		Short: "Asks a single question and prints the cited answer",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runAskCommand,
	}
	chatCmd = &cobra.Command{
		Use:   "chat",
		Short: "Starts an interactive conversation on stdin",
		RunE:  runChatCommand,
	}

	conversationID string
	inMemory       bool
	metricsAddr    string
	initialQueries int
	maxLoops       int
)

func init() {
	rootCmd.PersistentFlags().StringVar(&conversationID, "conversation", "", "Conversation ID to continue (a new one is generated when empty)")
	rootCmd.PersistentFlags().BoolVar(&inMemory, "memory", false, "Keep conversation history in memory instead of Redis")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	rootCmd.PersistentFlags().IntVar(&initialQueries, "queries", 0, "Number of initial search queries (0 uses NUMBER_OF_INITIAL_QUERIES)")
	rootCmd.PersistentFlags().IntVar(&maxLoops, "max-loops", -1, "Maximum research loops (-1 uses MAX_RESEARCH_LOOPS)")

	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(chatCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*AppConfig, error) {
	// Load .env file
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: Could not load .env file: %v\n", err)
	}

	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment config: %w", err)
	}
	logx.Init(logx.LoggerOpts{Environment: cfg.Environment, Level: cfg.LogLevel})
	return &cfg, nil
}

// session holds what a command needs for the lifetime of one process.
type session struct {
	runner  graph.Runner
	cleanup func()
}

func startSession(ctx context.Context) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	shutdownTracing, err := telemetry.Setup(cfg.Telemetry, os.Stderr)
	if err != nil {
		return nil, err
	}

	app, err := buildApp(ctx, cfg, inMemory)
	if err != nil {
		_ = shutdownTracing(ctx)
		return nil, err
	}

	var srv *http.Server
	if metricsAddr != "" {
		srv = serveMetrics(metricsAddr)
	}

	return &session{
		runner: app.runner,
		cleanup: func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if srv != nil {
				_ = srv.Shutdown(shutdownCtx)
			}
			app.close()
			if err := shutdownTracing(shutdownCtx); err != nil {
				logx.Warn().Err(err).Msg("Failed to flush traces")
			}
		},
	}, nil
}

func serveMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logx.Error().Err(err).Str("addr", addr).Msg("Metrics server stopped")
		}
	}()
	logx.Info().Str("addr", addr).Msg("Serving metrics")
	return srv
}

func queryInput(id, query string) model.QueryInput {
	in := model.QueryInput{ConversationID: id, Query: query, InitialQueryCount: initialQueries}
	if maxLoops >= 0 {
		loops := maxLoops
		in.MaxResearchLoops = &loops
	}
	return in
}

func resolveConversationID() string {
	if conversationID != "" {
		return conversationID
	}
	return uuid.NewString()
}

func runAskCommand(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, err := startSession(ctx)
	if err != nil {
		return err
	}
	defer sess.cleanup()

	question := strings.Join(args, " ")
	res, err := sess.runner.Invoke(ctx, queryInput(resolveConversationID(), question))
	if err != nil {
		return err
	}
	printResult(cmd.OutOrStdout(), res)
	return nil
}

func runChatCommand(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, err := startSession(ctx)
	if err != nil {
		return err
	}
	defer sess.cleanup()

	id := resolveConversationID()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Conversation %s (type \"exit\" to quit)\n", id)

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(out, "\n> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		res, err := sess.runner.Invoke(ctx, queryInput(id, line))
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintf(out, "Error: %v\n", err)
			continue
		}
		printResult(out, res)
	}
}

func printResult(w io.Writer, res *model.RunResult) {
	fmt.Fprintf(w, "\n%s\n", res.Answer)
	if len(res.Sources) > 0 {
		fmt.Fprintln(w, "\nSources:")
		for i, src := range res.Sources {
			fmt.Fprintf(w, "%d. [%s] %s\n", i+1, src.Label, src.Value)
		}
	}
	fmt.Fprintf(w, "\n(stage: %s, loops: %d, queries: %d, tokens: %d, cost: $%.4f)\n",
		res.Stage, res.ResearchLoopCount, len(res.SearchQueries), res.Usage.TotalTokens, res.Usage.TotalCostUSD)
}
