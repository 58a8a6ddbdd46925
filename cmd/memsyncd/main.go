// Package main provides memsyncd, a demo daemon that wires an identity, a
// local store, and an in-memory ledger adapter together behind the
// background loop. Real deployments swap the in-memory adapter for a
// concrete ledger transport; the CLI and transcript-discovery collaborators
// that feed it live outside this module.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/relaymem/syncengine/internal/cipher"
	"github.com/relaymem/syncengine/internal/config"
	"github.com/relaymem/syncengine/internal/identity"
	"github.com/relaymem/syncengine/internal/ledger"
	"github.com/relaymem/syncengine/internal/phrase"
	"github.com/relaymem/syncengine/internal/store"
	"github.com/relaymem/syncengine/internal/sync"
	"github.com/relaymem/syncengine/internal/watch"
	"github.com/relaymem/syncengine/pkg/logging"
)

// identityFileName is the on-disk name of the encrypted private key blob
// (nonce || ciphertext || tag), mode 0600, per the on-disk layout in spec §6.
const identityFileName = "identity.enc"

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	var (
		dataDir     = flag.String("data-dir", "~/.relaymem", "Data directory")
		logLevel    = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	log := logging.New(&logging.Config{Level: *logLevel, TimeFormat: time.TimeOnly})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("memsyncd %s (commit: %s)", version, commit)
		os.Exit(0)
	}

	effectiveDataDir := expandPath(*dataDir)

	cfg, err := config.LoadConfig(effectiveDataDir)
	if err != nil {
		log.Fatal("Failed to load config", "error", err)
	}
	cfg.Logging.Level = *logLevel
	cfg.Storage.DataDir = effectiveDataDir

	log = logging.New(&logging.Config{Level: cfg.Logging.Level, TimeFormat: time.TimeOnly})
	logging.SetDefault(log)
	log.Info("Config loaded", "path", config.ConfigPath(effectiveDataDir))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.New(&store.Config{DataDir: effectiveDataDir})
	if err != nil {
		log.Fatal("Failed to initialize local store", "error", err)
	}
	defer st.Close()
	log.Info("Local store initialized", "path", effectiveDataDir)

	id, err := loadOrCreateIdentity(cfg.AppName, effectiveDataDir, log)
	if err != nil {
		log.Fatal("Failed to initialize identity", "error", err)
	}
	log.Info("Identity ready", "wallet", id.WalletID)

	adapter := ledger.NewMemory(ledger.Balance{HumanReadable: "dev", EstimatedUploadsRemaining: -1})
	log.Info("Using in-memory ledger adapter (development only)")

	engine := sync.NewEngine(cfg.AppName, st, id, adapter, &cfg.Sync)

	if err := engine.PushIdentity(ctx); err != nil {
		log.Warn("Failed to push identity record", "error", err)
	}

	loop := watch.New(&watch.Config{
		Engine:                    engine,
		FactSyncInterval:          cfg.Sync.FactSyncInterval,
		ConversationWatchInterval: cfg.Sync.ConversationWatchInterval,
	})
	loop.Start()
	log.Info("Background loop started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("Shutting down...")
	loop.Stop()
	cancel()
	log.Info("Goodbye!")
}

// loadOrCreateIdentity creates the salt and encrypted private key under
// dataDir from a freshly generated recovery phrase on first run, logging the
// phrase once for the operator to record. If a salt file already exists it
// does not load it: it returns an error, since rebuilding the identity needs
// the recovery phrase.
func loadOrCreateIdentity(appName, dataDir string, log *logging.Logger) (*identity.Identity, error) {
	saltPath := filepath.Join(dataDir, "salt")
	identityPath := filepath.Join(dataDir, identityFileName)

	if _, err := os.Stat(saltPath); err == nil {
		return nil, fmt.Errorf("memsyncd: recovering an existing identity requires the recovery phrase; use the CLI collaborator's recovery flow instead")
	}

	p, err := phrase.Generate()
	if err != nil {
		return nil, fmt.Errorf("generate recovery phrase: %w", err)
	}

	salt, err := identity.NewSalt()
	if err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}

	id, err := identity.New(appName, p, salt)
	if err != nil {
		return nil, fmt.Errorf("derive identity: %w", err)
	}

	encryptedKey, err := cipher.Encrypt(id.SymKey, id.PrivateKey.Serialize())
	if err != nil {
		return nil, fmt.Errorf("encrypt private key for local persistence: %w", err)
	}

	if err := os.WriteFile(saltPath, salt, 0600); err != nil {
		return nil, fmt.Errorf("persist salt: %w", err)
	}
	if err := os.WriteFile(identityPath, encryptedKey, 0600); err != nil {
		return nil, fmt.Errorf("persist identity record: %w", err)
	}

	log.Warn("New identity created — record this recovery phrase, it will not be shown again", "phrase", p, "wallet", id.WalletID)
	return id, nil
}

func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
