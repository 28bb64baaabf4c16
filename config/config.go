package config

import (
	"bytes"
	"crypto/ecdsa"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/tangle-network/frost-blueprint/coordinator"
	"github.com/tangle-network/frost-blueprint/router"
)

// Config is the node configuration.
type Config struct {
	// IdentityKey is the hex secp256k1 private key that identifies the node
	// to its peers and signs on-chain result transactions.
	IdentityKey string `yaml:"identity_key"`

	Log         LogConfig         `yaml:"log"`
	HTTP        HTTPConfig        `yaml:"http"`
	Store       StoreConfig       `yaml:"store"`
	Transport   TransportConfig   `yaml:"transport"`
	Router      RouterConfig      `yaml:"router"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Ethereum    EthereumConfig    `yaml:"ethereum"`
}

type LogConfig struct {
	JSON    bool   `yaml:"json"`
	Debug   bool   `yaml:"debug"`
	UID     bool   `yaml:"uid"`
	Service string `yaml:"service"`
}

type HTTPConfig struct {
	ListenAddr       string        `yaml:"listen_addr"`
	MetricsAddr      string        `yaml:"metrics_addr"`
	EnablePprof      bool          `yaml:"pprof"`
	DrainDuration    time.Duration `yaml:"drain_duration"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
}

type StoreConfig struct {
	// URI selects the key share backend, see keystore.Open.
	URI string `yaml:"uri"`
}

type TransportConfig struct {
	// RedisURL enables the redis pub/sub transport. Empty runs a single
	// node on an in-process network.
	RedisURL string `yaml:"redis_url"`
}

type RouterConfig struct {
	MailboxSize  int           `yaml:"mailbox_size"`
	PendingLimit int           `yaml:"pending_limit"`
	PendingTTL   time.Duration `yaml:"pending_ttl"`
}

type CoordinatorConfig struct {
	RoundTimeout time.Duration `yaml:"round_timeout"`
}

// EthereumConfig enables the on-chain job source and result sink when
// RPCURL is set.
type EthereumConfig struct {
	RPCURL       string        `yaml:"rpc_url"`
	JobsContract string        `yaml:"jobs_contract"`
	ChainID      int64         `yaml:"chain_id"`
	FromBlock    uint64        `yaml:"from_block"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// Default returns the configuration used for every key the file and the
// flags leave unset.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Service: "frostd",
		},
		HTTP: HTTPConfig{
			ListenAddr:       "127.0.0.1:8080",
			MetricsAddr:      "127.0.0.1:8090",
			DrainDuration:    45 * time.Second,
			GracefulShutdown: 30 * time.Second,
			ReadTimeout:      60 * time.Second,
			WriteTimeout:     30 * time.Second,
		},
		Store: StoreConfig{
			URI: "mem://",
		},
		Router: RouterConfig{
			MailboxSize:  router.DefaultMailboxSize,
			PendingLimit: router.DefaultPendingLimit,
			PendingTTL:   router.DefaultPendingTTL,
		},
		Coordinator: CoordinatorConfig{
			RoundTimeout: coordinator.DefaultRoundTimeout,
		},
		Ethereum: EthereumConfig{
			PollInterval: 4 * time.Second,
		},
	}
}

// Load reads a YAML file over the defaults. Unknown keys are an error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "parse config")
	}
	return cfg, nil
}

// Validate checks the fields that have no usable default.
func (c *Config) Validate() error {
	if _, err := c.PrivateKey(); err != nil {
		return err
	}
	if c.Store.URI == "" {
		return errors.New("store uri is required")
	}
	if c.HTTP.ListenAddr == "" {
		return errors.New("http listen address is required")
	}
	if c.Coordinator.RoundTimeout <= 0 {
		return errors.Errorf("round timeout must be positive, got %s", c.Coordinator.RoundTimeout)
	}
	if c.Router.MailboxSize < 0 || c.Router.PendingLimit < 0 || c.Router.PendingTTL < 0 {
		return errors.New("router limits must not be negative")
	}
	if c.Ethereum.RPCURL != "" {
		if !common.IsHexAddress(c.Ethereum.JobsContract) {
			return errors.Errorf("invalid jobs contract address %q", c.Ethereum.JobsContract)
		}
		if c.Ethereum.ChainID <= 0 {
			return errors.New("chain id is required with an ethereum rpc url")
		}
		if c.Ethereum.PollInterval <= 0 {
			return errors.New("poll interval must be positive")
		}
	}
	return nil
}

// PrivateKey parses IdentityKey. A 0x prefix is accepted.
func (c *Config) PrivateKey() (*ecdsa.PrivateKey, error) {
	if c.IdentityKey == "" {
		return nil, errors.New("identity key is required")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(c.IdentityKey, "0x"))
	if err != nil {
		return nil, errors.Wrap(err, "invalid identity key")
	}
	return key, nil
}

// Identity returns the compressed public key peers know this node by.
func (c *Config) Identity() ([]byte, error) {
	key, err := c.PrivateKey()
	if err != nil {
		return nil, err
	}
	return crypto.CompressPubkey(&key.PublicKey), nil
}

// Logger builds the root logger. Console output is used unless JSON is set.
func (c LogConfig) Logger(w io.Writer) zerolog.Logger {
	if !c.JSON {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	level := zerolog.InfoLevel
	if c.Debug {
		level = zerolog.DebugLevel
	}
	ctx := zerolog.New(w).Level(level).With().Timestamp()
	if c.Service != "" {
		ctx = ctx.Str("app", c.Service)
	}
	if c.UID {
		ctx = ctx.Str("uid", uuid.New().String())
	}
	return ctx.Logger()
}
