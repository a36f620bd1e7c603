// Package server runs the relay: an HTTP service that stores one encrypted
// snapshot per sync account and hands it to the account's devices.
package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"github.com/julianstephens/habitsync/internal/cli"
	"github.com/julianstephens/habitsync/internal/keyring"
	"github.com/julianstephens/habitsync/internal/logger"
	"github.com/julianstephens/habitsync/internal/relay"
	"github.com/julianstephens/habitsync/internal/storage/postgres"
)

type RelayServeCmd struct {
	Listen      string        `help:"Address to listen on. Defaults to relay.listen from settings."`
	DatabaseURL string        `help:"PostgreSQL connection string. Defaults to settings, then the OS keyring." env:"HABITSYNC_RELAY_DATABASE_URL"`
	Memory      bool          `help:"Keep blobs in memory only; everything is lost on exit."`
	KeepHistory time.Duration `help:"How long replaced blobs are kept in postgres." default:"720h"`
}

func (c *RelayServeCmd) Run(ctx *cli.Context) error {
	level := log.InfoLevel
	if ctx.Settings().Debug {
		level = log.DebugLevel
	}
	logger.Logger = logger.New(os.Stderr, level, ctx.Settings().Debug)

	addr := c.Listen
	if addr == "" {
		addr = ctx.Settings().Relay.Listen
	}

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store relay.BlobStore
	if c.Memory {
		logger.Warn("Serving from memory, state is not persisted")
		store = relay.NewMemoryStore()
	} else {
		connStr, err := c.connString(ctx)
		if err != nil {
			return err
		}
		pg := postgres.New(connStr)
		if err := pg.Init(); err != nil {
			return fmt.Errorf("failed to initialize relay database: %w", err)
		}
		defer pg.Close()
		go pruneHistory(runCtx, pg, c.KeepHistory)
		store = pg
	}

	return relay.NewServer(store).ListenAndServe(runCtx, addr)
}

// connString picks the database from the flag, then settings, then the
// keyring.
func (c *RelayServeCmd) connString(ctx *cli.Context) (string, error) {
	connStr := c.DatabaseURL
	if connStr == "" {
		connStr = ctx.Settings().Relay.DatabaseURL
	}
	if connStr == "" {
		stored, err := keyring.GetRelayDatabaseURL()
		if errors.Is(err, keyring.ErrNotFound) {
			return "", errors.New("no relay database configured: pass --database-url, set relay.database_url, run 'habitsync keyring relay-db', or use --memory")
		}
		if err != nil {
			return "", err
		}
		// Credentials in the keyring are stored encrypted, so they are allowed
		return stored, nil
	}

	if _, err := postgres.ValidateConnString(connStr); err != nil {
		if errors.Is(err, postgres.ErrEmbeddedCredentials) {
			return "", fmt.Errorf("%w: keep the password in the keyring ('habitsync keyring relay-db') or use a .pgpass file", err)
		}
		return "", err
	}
	return connStr, nil
}

func pruneHistory(ctx context.Context, store *postgres.Store, keep time.Duration) {
	if keep <= 0 {
		return
	}
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		n, err := store.PruneHistory(ctx, keep)
		if err != nil {
			logger.Warn("Failed to prune blob history", "error", err)
		} else if n > 0 {
			logger.Info("Pruned blob history", "removed", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
