package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/tangle-network/frost-blueprint/config"
)

// newFlags returns fresh flag values; cli copies environment values into
// the flag structs when an app runs.
func newFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Usage:   "path to a YAML config file",
			EnvVars: []string{"FROSTD_CONFIG"},
		},
		&cli.StringFlag{
			Name:    "identity-key",
			Usage:   "hex secp256k1 private key identifying this node",
			EnvVars: []string{"FROSTD_IDENTITY_KEY"},
		},
		&cli.StringFlag{
			Name:    "listen-addr",
			Value:   "127.0.0.1:8080",
			Usage:   "address to listen on for API",
			EnvVars: []string{"FROSTD_LISTEN_ADDR"},
		},
		&cli.StringFlag{
			Name:    "metrics-addr",
			Value:   "127.0.0.1:8090",
			Usage:   "address to listen on for Prometheus metrics",
			EnvVars: []string{"FROSTD_METRICS_ADDR"},
		},
		&cli.StringFlag{
			Name:    "store",
			Value:   "mem://",
			Usage:   "key share store: mem://, pebble:///path, redis://host:port/db or vault://host:port/mount/prefix",
			EnvVars: []string{"FROSTD_STORE"},
		},
		&cli.StringFlag{
			Name:    "redis-transport",
			Usage:   "redis URL for the peer transport; empty runs a single local node",
			EnvVars: []string{"FROSTD_REDIS_TRANSPORT"},
		},
		&cli.DurationFlag{
			Name:    "round-timeout",
			Value:   30 * time.Second,
			Usage:   "time to wait for the messages of one protocol round",
			EnvVars: []string{"FROSTD_ROUND_TIMEOUT"},
		},
		&cli.StringFlag{
			Name:    "rpc-addr",
			Usage:   "ethereum RPC address; enables the on-chain job source and sink",
			EnvVars: []string{"FROSTD_RPC_ADDR"},
		},
		&cli.StringFlag{
			Name:    "jobs-contract",
			Usage:   "address of the job manager contract",
			EnvVars: []string{"FROSTD_JOBS_CONTRACT"},
		},
		&cli.Int64Flag{
			Name:    "chain-id",
			Usage:   "chain id used to sign result transactions",
			EnvVars: []string{"FROSTD_CHAIN_ID"},
		},
		&cli.Uint64Flag{
			Name:    "from-block",
			Usage:   "first block to read job events from",
			EnvVars: []string{"FROSTD_FROM_BLOCK"},
		},
		&cli.BoolFlag{
			Name:    "log-json",
			Value:   false,
			Usage:   "log in JSON format",
			EnvVars: []string{"FROSTD_LOG_JSON"},
		},
		&cli.BoolFlag{
			Name:    "log-debug",
			Value:   false,
			Usage:   "log debug messages",
			EnvVars: []string{"FROSTD_LOG_DEBUG"},
		},
		&cli.BoolFlag{
			Name:  "log-uid",
			Value: false,
			Usage: "generate a uuid and add to all log messages",
		},
		&cli.StringFlag{
			Name:  "log-service",
			Value: "frostd",
			Usage: "add 'app' tag to logs",
		},
		&cli.BoolFlag{
			Name:  "pprof",
			Value: false,
			Usage: "enable pprof debug endpoint",
		},
		&cli.Int64Flag{
			Name:  "drain-seconds",
			Value: 45,
			Usage: "seconds to wait in drain HTTP request",
		},
	}
}

func main() {
	app := &cli.App{
		Name:  "frostd",
		Usage: "Run FROST threshold key generation and signing jobs",
		Flags: newFlags(),
		Action: func(cCtx *cli.Context) error {
			cfg, err := loadConfig(cCtx)
			if err != nil {
				return err
			}
			return run(cCtx.Context, cfg)
		},
		Commands: []*cli.Command{
			{
				Name:  "identity",
				Usage: "generate a node identity key and print it with its public identity",
				Action: func(cCtx *cli.Context) error {
					key, err := crypto.GenerateKey()
					if err != nil {
						return err
					}
					fmt.Fprintf(cCtx.App.Writer, "identity_key: %s\n", hex.EncodeToString(crypto.FromECDSA(key)))
					fmt.Fprintf(cCtx.App.Writer, "identity: 0x%s\n", hex.EncodeToString(crypto.CompressPubkey(&key.PublicKey)))
					fmt.Fprintf(cCtx.App.Writer, "address: %s\n", crypto.PubkeyToAddress(key.PublicKey).Hex())
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("frostd failed")
	}
}

// loadConfig reads the config file, if any, and applies every flag or
// environment variable that was set explicitly.
func loadConfig(cCtx *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if path := cCtx.String("config"); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}

	set := func(name string, apply func()) {
		if cCtx.IsSet(name) {
			apply()
		}
	}
	set("identity-key", func() { cfg.IdentityKey = cCtx.String("identity-key") })
	set("listen-addr", func() { cfg.HTTP.ListenAddr = cCtx.String("listen-addr") })
	set("metrics-addr", func() { cfg.HTTP.MetricsAddr = cCtx.String("metrics-addr") })
	set("store", func() { cfg.Store.URI = cCtx.String("store") })
	set("redis-transport", func() { cfg.Transport.RedisURL = cCtx.String("redis-transport") })
	set("round-timeout", func() { cfg.Coordinator.RoundTimeout = cCtx.Duration("round-timeout") })
	set("rpc-addr", func() { cfg.Ethereum.RPCURL = cCtx.String("rpc-addr") })
	set("jobs-contract", func() { cfg.Ethereum.JobsContract = cCtx.String("jobs-contract") })
	set("chain-id", func() { cfg.Ethereum.ChainID = cCtx.Int64("chain-id") })
	set("from-block", func() { cfg.Ethereum.FromBlock = cCtx.Uint64("from-block") })
	set("log-json", func() { cfg.Log.JSON = cCtx.Bool("log-json") })
	set("log-debug", func() { cfg.Log.Debug = cCtx.Bool("log-debug") })
	set("log-uid", func() { cfg.Log.UID = cCtx.Bool("log-uid") })
	set("log-service", func() { cfg.Log.Service = cCtx.String("log-service") })
	set("pprof", func() { cfg.HTTP.EnablePprof = cCtx.Bool("pprof") })
	set("drain-seconds", func() { cfg.HTTP.DrainDuration = time.Duration(cCtx.Int64("drain-seconds")) * time.Second })

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
