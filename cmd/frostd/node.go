package main

import (
	"context"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tangle-network/frost-blueprint/config"
	"github.com/tangle-network/frost-blueprint/coordinator"
	"github.com/tangle-network/frost-blueprint/httpserver"
	"github.com/tangle-network/frost-blueprint/jobs"
	"github.com/tangle-network/frost-blueprint/keystore"
	"github.com/tangle-network/frost-blueprint/metrics"
	"github.com/tangle-network/frost-blueprint/router"
)

// run assembles the node from cfg and blocks until SIGINT, SIGTERM or the
// first component failure.
func run(parent context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := cfg.Log.Logger(os.Stderr)
	key, err := cfg.PrivateKey()
	if err != nil {
		return err
	}
	identity, err := cfg.Identity()
	if err != nil {
		return err
	}
	m := metrics.New()

	backend, err := keystore.Open(ctx, cfg.Store.URI)
	if err != nil {
		return errors.Wrap(err, "open key store")
	}
	store := keystore.New(backend, identity, logger)
	defer store.Close()
	logger.Info().Str("backend", backend.Name()).Msg("key store opened")

	var transport router.Transport
	if cfg.Transport.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.Transport.RedisURL)
		if err != nil {
			return errors.Wrap(err, "parse redis transport url")
		}
		client := redis.NewClient(opts)
		defer client.Close()
		if transport, err = router.NewRedisTransport(ctx, client, key, logger); err != nil {
			return errors.Wrap(err, "start redis transport")
		}
	} else {
		logger.Warn().Msg("no transport configured, running as a single local node")
		transport = router.NewLocalNetwork().Join(identity)
	}
	defer transport.Close()

	r := router.New(transport, router.Config{
		MailboxSize:  cfg.Router.MailboxSize,
		PendingLimit: cfg.Router.PendingLimit,
		PendingTTL:   cfg.Router.PendingTTL,
	}, m, logger)
	coord := coordinator.New(r, store, coordinator.Config{
		RoundTimeout: cfg.Coordinator.RoundTimeout,
	}, m, logger)

	results := jobs.NewMemorySink()
	sinks := jobs.MultiSink{results, jobs.NewLogSink(logger)}
	queue := jobs.NewChanSource(64)
	sources := []jobs.Source{queue}

	if cfg.Ethereum.RPCURL != "" {
		logger.Info().Str("rpc", cfg.Ethereum.RPCURL).Msg("connecting to ethereum rpc")
		client, err := ethclient.DialContext(ctx, cfg.Ethereum.RPCURL)
		if err != nil {
			return errors.Wrap(err, "dial ethereum rpc")
		}
		defer client.Close()

		opts, err := bind.NewKeyedTransactorWithChainID(key, big.NewInt(cfg.Ethereum.ChainID))
		if err != nil {
			return errors.Wrap(err, "create transactor")
		}
		contract := common.HexToAddress(cfg.Ethereum.JobsContract)
		sinks = append(sinks, jobs.NewEthSink(contract, client, opts, logger))
		sources = append(sources, jobs.NewEthSource(contract, client, cfg.Ethereum.FromBlock, cfg.Ethereum.PollInterval, logger))
	}
	bridge := jobs.NewBridge(coord, sinks, m, logger)

	srv, err := httpserver.New(&httpserver.HTTPServerConfig{
		ListenAddr:               cfg.HTTP.ListenAddr,
		MetricsAddr:              cfg.HTTP.MetricsAddr,
		EnablePprof:              cfg.HTTP.EnablePprof,
		Log:                      logger,
		DrainDuration:            cfg.HTTP.DrainDuration,
		GracefulShutdownDuration: cfg.HTTP.GracefulShutdown,
		ReadTimeout:              cfg.HTTP.ReadTimeout,
		WriteTimeout:             cfg.HTTP.WriteTimeout,
	}, httpserver.NewHandler(queue, results, coord, logger), m)
	if err != nil {
		return err
	}

	logger.Info().Hex("identity", r.Identity()).Msg("node started")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.Run(ctx) })
	g.Go(func() error { return srv.Run(ctx) })
	for _, src := range sources {
		src := src
		g.Go(func() error { return bridge.Run(ctx, src) })
	}
	err = g.Wait()
	logger.WithLevel(levelFor(err)).Err(err).Msg("node stopped")
	return err
}

func levelFor(err error) zerolog.Level {
	if err != nil {
		return zerolog.ErrorLevel
	}
	return zerolog.InfoLevel
}
