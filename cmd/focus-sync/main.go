package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alexjbarnes/focus-sync/internal/client"
	"github.com/alexjbarnes/focus-sync/internal/config"
	apperr "github.com/alexjbarnes/focus-sync/internal/errors"
	"github.com/alexjbarnes/focus-sync/internal/identity"
	"github.com/alexjbarnes/focus-sync/internal/localstore"
	"github.com/alexjbarnes/focus-sync/internal/logging"
	"github.com/alexjbarnes/focus-sync/internal/syncengine"
	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "focus-sync",
		Short:         "Keep this device's planner data in sync with the focus-sync server",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(getCmd())
	root.AddCommand(setCmd())
	root.AddCommand(rmCmd())
	root.AddCommand(exportCmd())
	root.AddCommand(diffCmd())
	root.AddCommand(pushCmd())
	root.AddCommand(pullCmd())
	root.AddCommand(watchCmd())
	root.AddCommand(loginCmd())
	root.AddCommand(logoutCmd())
	root.AddCommand(tokenCmd())

	return root
}

// app is one client process: its local store, credential and engine.
type app struct {
	cfg    *config.Client
	logger *slog.Logger

	base   localstore.Store
	store  *localstore.Observed
	remote *client.Client
	ident  identity.Provider
	engine *syncengine.Engine

	// volatile holds the open error when base fell back to memory.
	volatile error

	logCloser io.Closer
}

func openApp() (*app, error) {
	cfg, err := config.LoadClient()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger, logCloser := logging.NewFileLogger(cfg.Environment, cfg.LogFile)

	var (
		base     localstore.Store
		volatile error
	)

	switch cfg.LocalStore {
	case "dir":
		base, err = localstore.OpenDir(cfg.LocalStorePath)
	default:
		base, err = localstore.OpenBolt(cfg.LocalStorePath)
	}

	if err != nil {
		if !localstore.IsUnavailable(err) {
			logCloser.Close()
			return nil, fmt.Errorf("opening local store: %w", err)
		}

		// Changes made in this process are not persisted.
		logger.Warn("local store unavailable, using memory",
			slog.String("path", cfg.LocalStorePath),
			slog.String("error", err.Error()),
		)

		base = localstore.NewMemory()
		volatile = err
	}

	store := localstore.NewObserved(base, localstore.NewBus(), "")
	remote := client.New(cfg.ServerURL, nil)
	ident := identity.NewStoreProvider(store)

	engine := syncengine.New(syncengine.Config{
		Store:    store,
		Remote:   remote,
		Identity: ident,
		Debounce: cfg.Debounce,
		DeviceID: cfg.DeviceID,
		Logger:   logger,
	})

	logger.Debug("focus-sync client opened",
		slog.String("version", Version),
		slog.String("store", cfg.LocalStore),
		slog.String("path", cfg.LocalStorePath),
		slog.String("server", remote.BaseURL()),
		slog.String("device", cfg.DeviceID),
	)

	return &app{
		cfg:       cfg,
		logger:    logger,
		base:      base,
		store:     store,
		remote:    remote,
		ident:     ident,
		engine:    engine,
		volatile:  volatile,
		logCloser: logCloser,
	}, nil
}

// writable rejects commands that change local state when the store fell
// back to memory, since nothing they write would outlive the process.
func (a *app) writable() error {
	if a.volatile == nil {
		return nil
	}

	return userError(a.volatile)
}

func (a *app) Close() {
	a.engine.Stop()

	if err := a.base.Close(); err != nil {
		a.logger.Warn("closing local store", slog.String("error", err.Error()))
	}

	a.logCloser.Close()
}

// credential returns the signed-in credential or ErrUnauthenticated.
func (a *app) credential(ctx context.Context) (identity.Credential, error) {
	cred, err := a.ident.Current(ctx)
	if err != nil {
		return identity.Credential{}, err
	}

	if cred == nil {
		return identity.Credential{}, userError(apperr.ErrUnauthenticated)
	}

	return *cred, nil
}

// withApp runs fn with an open app and closes it afterwards.
func withApp(fn func(cmd *cobra.Command, args []string, a *app) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		return fn(cmd, args, a)
	}
}

// userError prefixes err with the message shown to the user.
func userError(err error) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%s (%w)", syncengine.UserMessage(err), err)
}
