package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/nao1215/keyharvest/internal/account"
	"github.com/nao1215/keyharvest/internal/config"
	"github.com/nao1215/keyharvest/internal/database"
	"github.com/nao1215/keyharvest/internal/fingerprint"
	"github.com/nao1215/keyharvest/internal/log"
	"github.com/nao1215/keyharvest/internal/model"
	"github.com/nao1215/keyharvest/internal/proxypool"
	"github.com/spf13/cobra"
)

// app holds the components shared by the subcommands. The proxy pool and
// the account directory are hydrated from the database and write every
// change back to it.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *database.Store
	pool     *proxypool.Pool
	dir      *account.Directory
	resolver *fingerprint.Resolver
}

// getVerboseFlag retrieves the verbose flag from the command or its parent.
func getVerboseFlag(cmd *cobra.Command) bool {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		verbose, err = cmd.Root().PersistentFlags().GetBool("verbose")
		if err != nil {
			return false
		}
	}
	return verbose
}

// setupLogger creates the sanitizing logger selected by the global flags.
func setupLogger(cmd *cobra.Command, w io.Writer) *slog.Logger {
	verbose := getVerboseFlag(cmd)
	if asJSON, err := cmd.Flags().GetBool("log-json"); err == nil && asJSON {
		return log.NewSecureJSONLogger(w, verbose)
	}
	return log.NewSecureLogger(w, verbose)
}

// buildConfig creates a Config from defaults, the configuration file and
// the global flags.
func buildConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.NewConfig()
	cfg.Verbose = getVerboseFlag(cmd)

	var err error
	if cfg.LogJSON, err = cmd.Flags().GetBool("log-json"); err != nil {
		return nil, err
	}
	if cfg.ConfigFilePath, err = cmd.Flags().GetString("config"); err != nil {
		return nil, err
	}

	// An explicit config path must exist; the default locations are optional.
	configPath := config.FindConfigFile(cfg.ConfigFilePath)
	switch {
	case configPath != "":
		f, err := config.LoadConfigFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
		if err := cfg.Apply(f); err != nil {
			return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
		}
	case cfg.ConfigFilePath != "":
		return nil, fmt.Errorf("%w: %s", config.ErrConfigNotFound, cfg.ConfigFilePath)
	}

	dataDir, err := cmd.Flags().GetString("data-dir")
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.DBDir = dataDir
		if cfg.File == nil || cfg.File.Accounts.ProfilesDir == "" {
			cfg.ProfilesDir = filepath.Join(dataDir, "profiles")
		}
	}
	return cfg, nil
}

// newApp loads the configuration, opens the database and hydrates the
// proxy pool and account directory.
func newApp(ctx context.Context, cmd *cobra.Command) (*app, error) {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger := setupLogger(cmd, cmd.ErrOrStderr())
	slog.SetDefault(logger)

	store, err := database.Open(cfg.DBDir, database.DefaultOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	logger.Debug("database opened", "path", store.Path())

	a := &app{
		cfg:    cfg,
		logger: logger,
		store:  store,
		resolver: fingerprint.NewResolver(
			fingerprint.WithPresets(cfg.Presets()...),
			fingerprint.WithDefaultPreset(cfg.DefaultPreset),
		),
	}
	a.pool = proxypool.New(
		proxypool.WithLogger(logger),
		proxypool.WithChecker(proxypool.NewHTTPChecker(cfg.HealthTarget, cfg.HealthTimeout)),
		proxypool.WithFailureThreshold(cfg.ProxyFailureThreshold),
		proxypool.WithEvictHook(a.onEvict),
	)
	a.dir = account.NewDirectory(
		account.WithLogger(logger),
		account.WithBackoff(cfg.Backoff),
		account.WithCaptchaThreshold(cfg.CaptchaThreshold),
		account.WithChangeHook(a.onAccountChange),
	)

	if err := a.hydrate(ctx); err != nil {
		_ = store.Close() //nolint:errcheck // Best effort cleanup
		return nil, err
	}
	return a, nil
}

// close releases the database.
func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.logger.Error("failed to close database", "error", err)
	}
}

// hydrate loads the blacklist, proxies and accounts from the database and
// registers proxies and accounts declared in the configuration file that
// the database does not know yet.
func (a *app) hydrate(ctx context.Context) error {
	blacklist, err := a.store.Blacklist(ctx)
	if err != nil {
		return err
	}
	a.pool.AddBlacklist(blacklist...)

	proxies, err := a.store.Proxies(ctx)
	if err != nil {
		return err
	}
	for _, rec := range proxies {
		if _, err := a.pool.Upsert(rec); err != nil {
			a.logger.Warn("skipping stored proxy", "proxy", rec.ID, "error", err)
		}
	}

	accounts, err := a.store.Accounts(ctx)
	if err != nil {
		return err
	}
	for _, acc := range accounts {
		if _, err := a.dir.Upsert(acc); err != nil {
			a.logger.Warn("skipping stored account", "account", acc.ID, "error", err)
		}
	}

	if a.cfg.File == nil {
		return nil
	}
	if list := a.cfg.File.Proxies.List; len(list) > 0 {
		if _, err := a.importProxies(ctx, strings.NewReader(strings.Join(list, "\n")), proxypool.ImportOptions{}); err != nil {
			return err
		}
	}
	for _, acc := range a.cfg.File.Accounts.Profiles {
		if _, ok := a.dir.Get(acc.ID); ok {
			continue
		}
		if _, err := a.addAccount(ctx, acc); err != nil {
			return fmt.Errorf("invalid account %q in config file: %w", acc.ID, err)
		}
	}
	return nil
}

// importProxies imports proxy lines into the pool and stores the new records.
func (a *app) importProxies(ctx context.Context, r io.Reader, opts proxypool.ImportOptions) (proxypool.ImportReport, error) {
	rep, err := a.pool.Import(r, opts)
	if err != nil {
		return rep, fmt.Errorf("failed to import proxies: %w", err)
	}
	for _, rec := range rep.Added {
		if err := a.store.SaveProxy(ctx, rec); err != nil {
			return rep, err
		}
	}
	return rep, nil
}

// addAccount registers acc and stores it. An empty profile directory is
// placed under the profiles directory.
func (a *app) addAccount(ctx context.Context, acc model.AccountRecord) (model.AccountRecord, error) {
	if acc.ProfileDir == "" && acc.ID != "" {
		acc.ProfileDir = filepath.Join(a.cfg.ProfilesDir, acc.ID)
	}
	stored, err := a.dir.Upsert(acc)
	if err != nil {
		return model.AccountRecord{}, err
	}
	if err := os.MkdirAll(stored.ProfileDir, 0o700); err != nil {
		return model.AccountRecord{}, fmt.Errorf("failed to create profile directory: %w", err)
	}
	if err := a.store.SaveAccount(ctx, stored); err != nil {
		return model.AccountRecord{}, err
	}
	return stored, nil
}

// saveProxyState writes the health state of a tested proxy back to the
// database. Evicted proxies are handled by onEvict.
func (a *app) saveProxyState(ctx context.Context, res proxypool.HealthResult) {
	if res.Removed {
		return
	}
	rec, ok := a.pool.Get(res.ProxyID)
	if !ok {
		return
	}
	if err := a.store.SaveProxy(ctx, rec); err != nil {
		a.logger.Error("failed to save proxy", "proxy", rec.ID, "error", err)
	}
}

func (a *app) onEvict(rec model.ProxyRecord, reason string) {
	ctx := context.Background()
	if err := a.store.AddBlacklist(ctx, rec.BlacklistKey()); err != nil {
		a.logger.Error("failed to persist blacklist entry", "proxy", rec.ID, "error", err)
	}
	if err := a.store.DeleteProxy(ctx, rec.ID); err != nil && !errors.Is(err, database.ErrNotFound) {
		a.logger.Error("failed to delete blacklisted proxy", "proxy", rec.ID, "error", err)
	}
	a.logger.Debug("blacklisted proxy removed from database", "proxy", rec.ID, "reason", reason)
}

func (a *app) onAccountChange(_, next model.AccountRecord) {
	if err := a.store.SaveAccount(context.Background(), next); err != nil {
		a.logger.Error("failed to save account", "account", next.ID, "error", err)
	}
}

// openOutput returns the report destination: stdout for an empty path,
// otherwise the file, creating parent directories as needed.
func openOutput(cmd *cobra.Command, path string) (io.Writer, func() error, error) {
	if path == "" {
		return cmd.OutOrStdout(), func() error { return nil }, nil
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	// Reports contain account ids, so only the owner may read them.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600) //nolint:gosec // User-provided output path is intentional
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return f, f.Close, nil
}
