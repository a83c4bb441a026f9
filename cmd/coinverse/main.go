// Command coinverse serves the top-100 coin dashboard: a live price table,
// per-coin charts with indicators and a chat room for every coin.
//
// Usage:
//
//	coinverse -config coinverse.yaml
//	coinverse -setup
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vadiminshakov/coinverse/config"
	"github.com/vadiminshakov/coinverse/internal/clients"
	"github.com/vadiminshakov/coinverse/internal/logging"
	"github.com/vadiminshakov/coinverse/internal/services/chat"
	"github.com/vadiminshakov/coinverse/internal/services/identity"
	"github.com/vadiminshakov/coinverse/internal/services/market/detail"
	"github.com/vadiminshakov/coinverse/internal/services/market/refresher"
	"github.com/vadiminshakov/coinverse/internal/setup"
	"github.com/vadiminshakov/coinverse/internal/storage/cachestore"
	"github.com/vadiminshakov/coinverse/internal/storage/chatlog"
	"github.com/vadiminshakov/coinverse/internal/storage/users"
	"github.com/vadiminshakov/coinverse/internal/web"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "coinverse:", err)
		os.Exit(1)
	}
}

func run() error {
	flags, err := config.ParseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		return err
	}

	if flags.Setup {
		path, err := setup.RunTUI(flags.ConfigPath)
		if err != nil {
			return errors.Wrap(err, "setup")
		}
		fmt.Printf("start with: coinverse -config %s\n", path)
		return nil
	}

	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, logger); err != nil {
		logger.Error("fatal", zap.Error(err))
		return err
	}
	logger.Info("stopped")
	return nil
}

func serve(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	cache, err := cachestore.New(cfg.Cache.Dir, logger)
	if err != nil {
		return err
	}

	messages, err := chatlog.NewWALStore(cfg.Chat.Dir, cfg.Chat.HistoryLimit, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := messages.Close(); err != nil {
			logger.Warn("close chat log", zap.Error(err))
		}
	}()

	accounts, err := users.NewFileStore(cfg.Auth.UsersFile)
	if err != nil {
		return err
	}

	client := clients.NewCoinGeckoClient(clients.CoinGeckoConfig{
		BaseURL:    cfg.CoinGecko.BaseURL,
		APIKey:     cfg.CoinGecko.APIKey,
		Timeout:    cfg.CoinGecko.Timeout,
		MaxRetries: cfg.CoinGecko.MaxRetries,
		WithVolume: cfg.CoinGecko.WithVolume,
	}, logger)

	table, err := refresher.New(refresher.Config{
		Interval:     cfg.Refresh.Interval,
		MarkerWindow: cfg.Refresh.MarkerWindow,
	}, client, cache, logger)
	if err != nil {
		return err
	}

	details, err := detail.New(detail.Config{
		HistoryDays:   cfg.CoinGecko.HistoryDays,
		HistoryMaxAge: cfg.Cache.HistoryMaxAge,
	}, client, cache, logger)
	if err != nil {
		return err
	}
	defer details.Wait()

	chatSvc, err := chat.NewService(chat.Config{
		HistoryLimit:  cfg.Chat.HistoryLimit,
		MaxMessageLen: cfg.Chat.MaxMessageLen,
	}, messages, logger)
	if err != nil {
		return err
	}
	defer chatSvc.Close()

	auth, err := identity.NewProvider(identity.ProviderConfig{
		SessionTTL: cfg.Auth.SessionTTL,
		BcryptCost: cfg.Auth.BcryptCost,
	}, accounts, logger)
	if err != nil {
		return err
	}

	server, err := web.NewServer(cfg.Server.Addr, table, details, chatSvc, auth, logger)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return table.Run(ctx)
	})
	g.Go(func() error {
		return auth.Run(ctx)
	})
	g.Go(func() error {
		if len(cfg.Server.TLSDomains) > 0 {
			return server.StartWithAutoTLS(ctx, cfg.Server.TLSDomains, cfg.Server.CertCacheDir)
		}
		return server.Start(ctx)
	})

	logger.Info("started",
		zap.String("addr", cfg.Server.Addr),
		zap.Duration("refresh_interval", cfg.Refresh.Interval),
	)

	return g.Wait()
}
