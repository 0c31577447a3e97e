package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"gridwave.io/gsm/stkgw/cyclelock"
	"gridwave.io/gsm/stkgw/gateway"
	"gridwave.io/gsm/stkgw/modem"
	"gridwave.io/gsm/stkgw/store"
)

// sessionFactory dials a server over TCP, or over a serial line when the
// address carries the serial:// scheme. For serial servers the port column
// holds the baud rate.
func sessionFactory(ctx context.Context, server store.Server) (modem.Session, error) {
	if path, ok := strings.CutPrefix(server.Address, "serial://"); ok {
		baud := server.Port
		if baud == 0 {
			baud = 115200
		}
		return modem.Open(ctx, modem.SerialDialer{
			PortName: path,
			BaudRate: baud,
		})
	}

	return modem.Open(ctx, modem.TCPDialer{
		Host:           server.Address,
		Port:           server.Port,
		ConnectTimeout: 10 * time.Second,
	})
}

func main() {
	flag.String("bind-address", "0.0.0.0:8080", "Bind address for the HTTP server")
	flag.String("mysql-dsn", "", "MySQL DSN for the record store")
	flag.String("redis-addr", "", "Redis address for the poll-cycle lock (optional)")
	flag.String("token", "", "Static token required by the submission API")
	flag.Duration("poll-interval", time.Minute, "Delay between polling cycles")
	flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	configPath := flag.String("config", "", "Path to an optional YAML config file")
	once := flag.Bool("once", false, "Run a single polling cycle and exit")
	flag.Parse()

	config, err := LoadConfig(WithDefaults(), WithFile(*configPath), WithEnv(), WithFlags(flag.CommandLine))
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	switch config.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	db, err := store.OpenMySQL(config.MySQLDSN)
	if err != nil {
		logger.Error("Failed to open record store", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.InitTables(context.Background()); err != nil {
		logger.Error("Failed to initialize tables", "error", err)
		os.Exit(1)
	}

	var lock gateway.CycleLock
	if config.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: config.RedisAddr})
		defer client.Close()
		lock = cyclelock.New(client, "stkgw:poll-cycle", 10*time.Minute)
	}

	notifier := gateway.NewNotifier(config.HTTPTimeout)
	credit := gateway.NewCreditService(db, notifier, logger.With("component", "credit"))
	orch := gateway.NewOrchestrator(sessionFactory, db, db, credit, logger.With("component", "gateway"))
	poller := gateway.NewPoller(orch, db, db, db, notifier, lock, gateway.PollerConfig{
		MaxConcurrentServers: config.MaxConcurrentServers,
		ForwardURL:           config.ForwardURL,
		ForwardToken:         config.ForwardToken,
	}, logger.With("component", "poller"))

	if *once {
		if err := poller.RunCycle(context.Background()); err != nil {
			logger.Error("Polling cycle failed", "error", err)
			os.Exit(1)
		}
		return
	}

	logger.Info("Starting SMS gateway", "bind_address", config.BindAddress, "poll_interval", config.PollInterval)

	gin.SetMode(gin.ReleaseMode)
	server := &Server{
		Logger:      logger.With("component", "server"),
		Submissions: gateway.NewSubmissions(db, db, db),
		Token:       config.Token,
	}
	httpServer := &http.Server{
		Addr:    config.BindAddress,
		Handler: server.Router(),
	}

	// Channel to listen for interrupt signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start HTTP server in a goroutine
	go func() {
		logger.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	pollCtx, cancelPoll := context.WithCancel(context.Background())
	pollDone := make(chan struct{})

	go func() {
		defer close(pollDone)
		ticker := time.NewTicker(config.PollInterval)
		defer ticker.Stop()

		for {
			if err := poller.RunCycle(pollCtx); err != nil {
				logger.Error("Polling cycle failed", "error", err)
			}

			select {
			case <-pollCtx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	// Wait for interrupt signal
	sig := <-sigChan
	logger.Info("Received shutdown signal", "signal", sig)

	logger.Info("Stopping poller")
	cancelPoll()
	<-pollDone

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Info("Closing HTTP server")
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("Failed to gracefully shutdown server", "error", err)
		os.Exit(1)
	}
}
