/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the fiscal document engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present) and parse command-line flags
  2. Build the HMAC signer from the signing key environment
  3. Initialize SQLite store
  4. Wire engine, verifier, monitor and HTTP handler
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: 8080)
  -db      SQLite database path (default: fiscal.db)
           Use ":memory:" for an in-memory database

ENVIRONMENT:
  FISCAL_SIGNING_KEY   Active HMAC key (required outside dev)
  FISCAL_RETIRED_KEYS  Comma-separated prior keys, still valid for
                       verification after rotation
  FISCAL_LOG_LEVEL     zerolog level (default: info)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the chain monitor
  4. Close database connection

EXAMPLES:
  # Run with file database
  FISCAL_SIGNING_KEY=secret ./server -db="./data/fiscal.db"

  # Run with in-memory database
  ./server -db=":memory:"

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/ledgerline/fiscal-engine/api"
	"github.com/ledgerline/fiscal-engine/ledger"
	"github.com/ledgerline/fiscal-engine/store/sqlite"

	// Register document types with the ledger.
	_ "github.com/ledgerline/fiscal-engine/creditnote"
	_ "github.com/ledgerline/fiscal-engine/invoice"
	_ "github.com/ledgerline/fiscal-engine/quote"
)

func main() {
	// Flags
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "fiscal.db", "SQLite database path")
	flag.Parse()

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	log := newLogger(os.Getenv("FISCAL_LOG_LEVEL"))

	signer := signerFromEnv(log)

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer store.Close()

	// Wire engine, verifier and monitor
	engine := ledger.NewEngine(store, signer, log)
	verifier := ledger.NewVerifier(store, signer, log)
	monitor := ledger.NewMonitor(store, verifier, log)
	monitor.Start()
	defer monitor.Stop()

	// Create router
	handler := api.NewHandler(engine, verifier, log)
	router := api.NewRouter(handler)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Int("port", *port).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(lvl).
		With().Timestamp().Logger()
}

// signerFromEnv builds the HMAC signer from FISCAL_SIGNING_KEY plus any
// retired keys still needed to verify older signatures.
func signerFromEnv(log zerolog.Logger) *ledger.Signer {
	key := os.Getenv("FISCAL_SIGNING_KEY")
	if key == "" {
		// Dev fallback. Documents signed under it verify only against it,
		// so production must set a real key before finalizing anything.
		key = "dev-insecure-signing-key"
		log.Warn().Msg("FISCAL_SIGNING_KEY not set, using insecure dev key")
	}

	signer := ledger.NewSigner([]byte(key))
	if retired := os.Getenv("FISCAL_RETIRED_KEYS"); retired != "" {
		var keys [][]byte
		for _, k := range strings.Split(retired, ",") {
			if k = strings.TrimSpace(k); k != "" {
				keys = append(keys, []byte(k))
			}
		}
		signer = signer.WithRetiredKeys(keys...)
	}
	return signer
}
