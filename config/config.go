package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"lukechampine.com/blake3"

	"icavault/crypto"
)

// ErrInvalidConfig is returned when a loaded file fails validation.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config is the vault daemon configuration stored as TOML.
type Config struct {
	ListenAddress   string            `toml:"ListenAddress"`
	DataDir         string            `toml:"DataDir"`
	Environment     string            `toml:"Environment"`
	Bech32Prefix    string            `toml:"Bech32Prefix"`
	ContractAddress string            `toml:"ContractAddress"`
	InstantiateFile string            `toml:"InstantiateFile"`
	Codes           map[string]string `toml:"Codes"`
	Log             Log               `toml:"log"`
	Outbox          Outbox            `toml:"outbox"`
	Relay           Relay             `toml:"relay"`
	RateLimit       RateLimit         `toml:"rate_limit"`
	Auth            Auth              `toml:"auth"`
	Telemetry       Telemetry         `toml:"telemetry"`

	passphrase PassphraseSource
}

// PassphraseSource resolves the relay keystore passphrase. envVar is the
// configured variable name.
type PassphraseSource func(envVar string) (string, error)

// Option customises Load.
type Option func(*Config)

// WithPassphraseSource overrides the environment lookup for the relay
// keystore passphrase.
func WithPassphraseSource(src PassphraseSource) Option {
	return func(cfg *Config) {
		cfg.passphrase = src
	}
}

// Auth enables bearer tokens on command routes. The HMAC secret is read from
// the environment variable named by SecretEnv. With no secret the command
// routes stay closed unless AllowUnauthenticated is set for development.
type Auth struct {
	SecretEnv            string `toml:"SecretEnv"`
	Issuer               string `toml:"Issuer"`
	Audience             string `toml:"Audience"`
	AllowUnauthenticated bool   `toml:"AllowUnauthenticated"`
}

// Secret returns the configured HMAC secret, empty when auth is disabled.
func (a Auth) Secret() string {
	if a.SecretEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(a.SecretEnv))
}

// Log selects the log level and an optional rotated log file.
type Log struct {
	Level      string `toml:"Level"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
	Compress   bool   `toml:"Compress"`
}

// Outbox selects the database holding committed outbound messages. An empty
// driver keeps dispatched messages in memory.
type Outbox struct {
	Driver string `toml:"Driver"`
	DSN    string `toml:"DSN"`
}

// Relay configures delivery of outbox rows to the chain broadcaster.
type Relay struct {
	Endpoint        string `toml:"Endpoint"`
	IntervalSeconds int    `toml:"IntervalSeconds"`
	BatchSize       int    `toml:"BatchSize"`
	MaxAttempts     int    `toml:"MaxAttempts"`
	KeystorePath    string `toml:"KeystorePath"`
	PassphraseEnv   string `toml:"PassphraseEnv"`
}

// DefaultPassphraseEnv names the variable holding the relay keystore
// passphrase when PassphraseEnv is unset.
const DefaultPassphraseEnv = "VAULTD_RELAY_PASS"

var keystoreParams = crypto.StandardKeystore

func (cfg *Config) relayPassphrase() (string, error) {
	name := cfg.Relay.PassphraseEnv
	if name == "" {
		name = DefaultPassphraseEnv
	}
	if cfg.passphrase != nil {
		return cfg.passphrase(name)
	}
	return os.Getenv(name), nil
}

// RelayKey decrypts the relay signing key.
func (cfg *Config) RelayKey() (*crypto.RelayKey, error) {
	passphrase, err := cfg.relayPassphrase()
	if err != nil {
		return nil, err
	}
	key, err := crypto.LoadRelayKey(cfg.Relay.KeystorePath, passphrase)
	if err != nil {
		return nil, fmt.Errorf("load relay keystore %s: %w", cfg.Relay.KeystorePath, err)
	}
	return key, nil
}

// Interval returns the flush interval.
func (r Relay) Interval() time.Duration {
	return time.Duration(r.IntervalSeconds) * time.Second
}

// RateLimit bounds requests per client on the HTTP surface.
type RateLimit struct {
	RequestsPerSecond float64 `toml:"RequestsPerSecond"`
	Burst             int     `toml:"Burst"`
}

// Telemetry configures the OTLP exporters.
type Telemetry struct {
	Endpoint    string  `toml:"Endpoint"`
	Insecure    bool    `toml:"Insecure"`
	Headers     string  `toml:"Headers"`
	Metrics     bool    `toml:"Metrics"`
	Traces      bool    `toml:"Traces"`
	SampleRatio float64 `toml:"SampleRatio"`
}

// Load reads the configuration at path, writing a default file first when
// none exists.
func Load(path string, opts ...Option) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	} else if err != nil {
		return nil, err
	}

	cfg := &Config{}
	for _, opt := range opts {
		opt(cfg)
	}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%w: unknown key %s in %s", ErrInvalidConfig, undecoded[0], path)
	}
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Relay.Endpoint != "" {
		if err := ensureRelayKeystore(path, cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// ensureRelayKeystore generates the relay signing key on first use and
// records its location in the config file.
func ensureRelayKeystore(configPath string, cfg *Config) error {
	keystorePath := cfg.Relay.KeystorePath
	if keystorePath == "" {
		keystorePath = filepath.Join(filepath.Dir(configPath), "relay.keystore")
	}

	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		key, genErr := crypto.GenerateRelayKey()
		if genErr != nil {
			return genErr
		}
		passphrase, err := cfg.relayPassphrase()
		if err != nil {
			return err
		}
		if err := crypto.SaveRelayKey(keystorePath, key, passphrase, keystoreParams); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if cfg.Relay.KeystorePath != keystorePath {
		cfg.Relay.KeystorePath = keystorePath
		return persist(configPath, cfg)
	}
	return nil
}

// createDefault writes and returns a local development configuration.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		ListenAddress:   ":8090",
		DataDir:         "./vault-data",
		Environment:     "local",
		Bech32Prefix:    "kujira",
		InstantiateFile: "instantiate.yaml",
		Codes:           map[string]string{},
		Log:             Log{Level: "info"},
		Relay:           Relay{IntervalSeconds: 2, BatchSize: 50, MaxAttempts: 5},
		RateLimit:       RateLimit{RequestsPerSecond: 20, Burst: 40},
	}
	address, err := DefaultContractAddress(cfg.Bech32Prefix)
	if err != nil {
		return nil, err
	}
	cfg.ContractAddress = address
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultContractAddress derives a stable placeholder contract address for a
// prefix so a fresh install can start without manual edits.
func DefaultContractAddress(prefix string) (string, error) {
	sum := blake3.Sum256([]byte("icavault/" + prefix))
	return crypto.NewBech32API(prefix).Humanize(sum[:])
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func (cfg *Config) normalize() {
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8090"
	}
	cfg.DataDir = strings.TrimSpace(cfg.DataDir)
	if cfg.DataDir == "" {
		cfg.DataDir = "./vault-data"
	}
	cfg.Bech32Prefix = strings.ToLower(strings.TrimSpace(cfg.Bech32Prefix))
	cfg.ContractAddress = strings.TrimSpace(cfg.ContractAddress)
	cfg.InstantiateFile = strings.TrimSpace(cfg.InstantiateFile)
	if cfg.Codes == nil {
		cfg.Codes = map[string]string{}
	}
	cfg.Log.Level = strings.TrimSpace(cfg.Log.Level)
	cfg.Outbox.Driver = strings.ToLower(strings.TrimSpace(cfg.Outbox.Driver))
	cfg.Relay.Endpoint = strings.TrimSpace(cfg.Relay.Endpoint)
	cfg.Relay.KeystorePath = strings.TrimSpace(cfg.Relay.KeystorePath)
	cfg.Relay.PassphraseEnv = strings.TrimSpace(cfg.Relay.PassphraseEnv)
	cfg.Auth.SecretEnv = strings.TrimSpace(cfg.Auth.SecretEnv)
	cfg.Auth.Issuer = strings.TrimSpace(cfg.Auth.Issuer)
	cfg.Auth.Audience = strings.TrimSpace(cfg.Auth.Audience)
	if cfg.Relay.IntervalSeconds <= 0 {
		cfg.Relay.IntervalSeconds = 2
	}
	if cfg.RateLimit.Burst <= 0 && cfg.RateLimit.RequestsPerSecond > 0 {
		cfg.RateLimit.Burst = int(cfg.RateLimit.RequestsPerSecond) + 1
	}
}

func (cfg *Config) validate() error {
	if cfg.Bech32Prefix == "" {
		return fmt.Errorf("%w: Bech32Prefix required", ErrInvalidConfig)
	}
	if err := crypto.NewBech32API(cfg.Bech32Prefix).ValidateAddress(cfg.ContractAddress); err != nil {
		return fmt.Errorf("%w: ContractAddress: %v", ErrInvalidConfig, err)
	}
	if _, err := cfg.CodeRegistry(); err != nil {
		return err
	}
	switch cfg.Outbox.Driver {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("%w: unknown outbox driver %q", ErrInvalidConfig, cfg.Outbox.Driver)
	}
	if cfg.Outbox.Driver == "postgres" && strings.TrimSpace(cfg.Outbox.DSN) == "" {
		return fmt.Errorf("%w: postgres outbox requires a DSN", ErrInvalidConfig)
	}
	if cfg.Relay.Endpoint != "" && cfg.Outbox.Driver == "" {
		return fmt.Errorf("%w: relay requires an outbox driver", ErrInvalidConfig)
	}
	if cfg.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("%w: RequestsPerSecond must not be negative", ErrInvalidConfig)
	}
	if cfg.Auth.SecretEnv != "" && cfg.Auth.Secret() == "" {
		return fmt.Errorf("%w: auth secret variable %s is empty", ErrInvalidConfig, cfg.Auth.SecretEnv)
	}
	if r := cfg.Telemetry.SampleRatio; r < 0 || r > 1 {
		return fmt.Errorf("%w: SampleRatio must be within [0,1]", ErrInvalidConfig)
	}
	return nil
}

// CodeRegistry parses the configured code checksums.
func (cfg *Config) CodeRegistry() (CodeRegistry, error) {
	codes := make(CodeRegistry, len(cfg.Codes))
	for rawID, rawSum := range cfg.Codes {
		id, err := strconv.ParseUint(strings.TrimSpace(rawID), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: code id %q", ErrInvalidConfig, rawID)
		}
		sum, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(rawSum), "0x"))
		if err != nil || len(sum) != 32 {
			return nil, fmt.Errorf("%w: code %d checksum must be 32 hex bytes", ErrInvalidConfig, id)
		}
		codes[id] = sum
	}
	return codes, nil
}

// ErrUnknownCode is returned for a code id with no configured checksum.
var ErrUnknownCode = errors.New("config: unknown code id")

// CodeRegistry maps stored code ids to their checksums.
type CodeRegistry map[uint64][]byte

// CodeChecksum returns a copy of the checksum for codeID.
func (r CodeRegistry) CodeChecksum(codeID uint64) ([]byte, error) {
	sum, ok := r[codeID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCode, codeID)
	}
	return append([]byte(nil), sum...), nil
}
