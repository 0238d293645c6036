package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zombor/invoice-insight/internal/ai"
	"github.com/zombor/invoice-insight/internal/invoice"
	"github.com/zombor/invoice-insight/internal/quota"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

// config holds the command line and environment settings
type config struct {
	Port          int
	DBPath        string
	StoragePath   string
	Provider      string
	GeminiKey     string
	StandardModel string
	LiteModel     string
	OllamaURL     string
	DailyLimit    int
	CallTimeout   time.Duration
	StoreTimeout  time.Duration
	UsageStore    string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	MaxUpload     int64
	AuthUser      string
	AuthPass      string
	LogLevel      string
	LogFormat     string
	ShowVersion   bool
}

// parseConfig reads flags from args and INVOICE_INSIGHT_* environment variables
func parseConfig(args []string) (*config, error) {
	fs := ff.NewFlagSet("invoice-insight")
	var (
		port          = fs.IntLong("port", 8080, "HTTP server port")
		dbPath        = fs.StringLong("db", "invoice-insight.db", "Database file path")
		storagePath   = fs.StringLong("storage", "./invoices", "Storage directory path")
		provider      = fs.StringLong("provider", "gemini", "Model provider: 'gemini' or 'ollama'")
		geminiKey     = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		standardModel = fs.StringLong("model", ai.DefaultStandardModel, "Model used for the standard choice")
		liteModel     = fs.StringLong("lite-model", ai.DefaultLiteModel, "Model used for the lite choice")
		ollamaURL     = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		dailyLimit    = fs.IntLong("daily-limit", quota.DefaultDailyLimit, "Model requests allowed per UTC day, shared by all users")
		callTimeout   = fs.DurationLong("call-timeout", ai.DefaultCallTimeout, "Timeout for a single model call")
		storeTimeout  = fs.DurationLong("store-timeout", quota.DefaultStoreTimeout, "Timeout for a single usage ledger operation")
		usageStore    = fs.StringLong("usage-store", "bolt", "Usage ledger: 'bolt' (same file as --db) or 'redis'")
		redisAddr     = fs.StringLong("redis-addr", "localhost:6379", "Redis address for the usage ledger")
		redisPassword = fs.StringLong("redis-password", "", "Redis password")
		redisDB       = fs.IntLong("redis-db", 0, "Redis database number")
		maxUpload     = fs.IntLong("max-upload", invoice.DefaultMaxUploadSize, "Maximum upload size in bytes")
		authUser      = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass      = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		logLevel      = fs.StringLong("log-level", "info", "Log level: debug, info, warn or error")
		logFormat     = fs.StringLong("log-format", "text", "Log format: 'text' or 'json'")
		showVersion   = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, args,
		ff.WithEnvVarPrefix("INVOICE_INSIGHT"),
	); err != nil {
		return nil, fmt.Errorf("%s\n%w", ffhelp.Flags(fs), err)
	}

	return &config{
		Port:          *port,
		DBPath:        *dbPath,
		StoragePath:   *storagePath,
		Provider:      *provider,
		GeminiKey:     *geminiKey,
		StandardModel: *standardModel,
		LiteModel:     *liteModel,
		OllamaURL:     *ollamaURL,
		DailyLimit:    *dailyLimit,
		CallTimeout:   *callTimeout,
		StoreTimeout:  *storeTimeout,
		UsageStore:    *usageStore,
		RedisAddr:     *redisAddr,
		RedisPassword: *redisPassword,
		RedisDB:       *redisDB,
		MaxUpload:     int64(*maxUpload),
		AuthUser:      *authUser,
		AuthPass:      *authPass,
		LogLevel:      *logLevel,
		LogFormat:     *logFormat,
		ShowVersion:   *showVersion,
	}, nil
}

// newLogger builds the default logger from the --log-level and --log-format flags
func newLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q, valid: text or json", format)
	}
}

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if cfg.ShowVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	logger, err := newLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	slog.Info("Initializing database...", "path", cfg.DBPath)
	db, err := invoice.NewBoltDB(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Initialize usage ledger
	var store quota.Store
	switch cfg.UsageStore {
	case "bolt":
		slog.Info("Initializing usage ledger...", "store", "bolt", "path", cfg.DBPath)
		store, err = quota.NewBoltStore(db.Bolt())
		if err != nil {
			slog.Error("Failed to initialize usage ledger", "error", err)
			os.Exit(1)
		}
	case "redis":
		slog.Info("Initializing usage ledger...", "store", "redis", "addr", cfg.RedisAddr, "db", cfg.RedisDB)
		redisStore, err := quota.NewRedisStore(quota.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			slog.Error("Failed to initialize usage ledger", "error", err)
			os.Exit(1)
		}
		defer redisStore.Close()
		store = redisStore
	default:
		slog.Error("Invalid usage store", "store", cfg.UsageStore, "valid", "bolt or redis")
		os.Exit(1)
	}
	guard := quota.NewGuard(store, cfg.DailyLimit, cfg.StoreTimeout)

	// Initialize generator based on provider
	var generator ai.Generator
	switch cfg.Provider {
	case "gemini":
		// Get Gemini API key from flag or environment
		apiKey := cfg.GeminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing Gemini...", "model", cfg.StandardModel, "lite_model", cfg.LiteModel)
		generator, err = ai.NewGemini(ctx, apiKey)
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
	case "ollama":
		slog.Info("Initializing Ollama...", "url", cfg.OllamaURL, "model", cfg.StandardModel, "lite_model", cfg.LiteModel)
		generator = ai.NewOllama(cfg.OllamaURL)
	default:
		slog.Error("Invalid provider", "provider", cfg.Provider, "valid", "gemini or ollama")
		os.Exit(1)
	}
	defer generator.Close()

	opts := ai.Options{
		Catalog:     ai.NewCatalog(cfg.StandardModel, cfg.LiteModel),
		CallTimeout: cfg.CallTimeout,
		Metrics:     ai.NewMetrics(prometheus.DefaultRegisterer),
	}

	// Initialize storage
	slog.Info("Initializing storage...", "path", cfg.StoragePath)
	files, err := invoice.NewLocalStorage(cfg.StoragePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	// Initialize service
	invoiceService := invoice.NewService(db,
		ai.NewAnalyzer(guard, generator, opts),
		ai.NewAssistant(guard, generator, opts),
		guard,
		files,
	)

	// Initialize server
	server := invoice.NewServer(invoiceService, invoice.ServerConfig{
		BasicAuth: invoice.BasicAuth{
			Username: cfg.AuthUser,
			Password: cfg.AuthPass,
		},
		MaxUploadSize: cfg.MaxUpload,
		Metrics:       promhttp.Handler(),
	})

	// Start server in goroutine
	addr := fmt.Sprintf(":%d", cfg.Port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "daily_limit", guard.Limit())
	if cfg.AuthUser != "" || cfg.AuthPass != "" {
		slog.Info("Basic auth enabled", "user", cfg.AuthUser)
	}

	// Wait for interrupt signal
	<-ctx.Done()

	slog.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Shutdown error", "error", err)
	}
}
