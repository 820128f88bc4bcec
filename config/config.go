package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"evm-swap/pkg/journal"
)

const (
	EnvPrefix      = "EVM_SWAP"
	DefaultBaseURL = "https://api.odos.xyz"
)

// Config holds the application configuration
type Config struct {
	PrivateKey string
	RPCURL     string
	BaseURL    string
	ChainID    uint64
	Proxy      string

	HTTPTimeout    time.Duration
	RPCTimeout     time.Duration
	ConfirmTimeout time.Duration
	PollInterval   time.Duration

	GasReserve       uint64
	GasBufferPercent uint64

	JournalPath string
	LogLevel    string
	ExplorerURL string
}

func setDefaults() {
	viper.SetDefault("base_url", DefaultBaseURL)
	viper.SetDefault("http_timeout", 15*time.Second)
	viper.SetDefault("rpc_timeout", 15*time.Second)
	viper.SetDefault("confirm_timeout", 80*time.Second)
	viper.SetDefault("poll_interval", 2*time.Second)
	viper.SetDefault("gas_reserve", 300000)
	viper.SetDefault("gas_buffer_percent", 20)
	viper.SetDefault("log_level", "info")
}

// Load reads configuration from environment variables and config file
func Load() (*Config, error) {
	viper.SetConfigName(".evm-swap")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("$HOME")
	viper.AddConfigPath(".")

	setDefaults()

	// Read from environment variables
	viper.SetEnvPrefix(EnvPrefix)
	viper.AutomaticEnv()

	// Read config file (optional)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{
		PrivateKey:       strings.TrimSpace(viper.GetString("private_key")),
		RPCURL:           strings.TrimSpace(viper.GetString("rpc_url")),
		BaseURL:          strings.TrimRight(viper.GetString("base_url"), "/"),
		ChainID:          viper.GetUint64("chain_id"),
		Proxy:            viper.GetString("proxy"),
		HTTPTimeout:      viper.GetDuration("http_timeout"),
		RPCTimeout:       viper.GetDuration("rpc_timeout"),
		ConfirmTimeout:   viper.GetDuration("confirm_timeout"),
		PollInterval:     viper.GetDuration("poll_interval"),
		GasReserve:       viper.GetUint64("gas_reserve"),
		GasBufferPercent: viper.GetUint64("gas_buffer_percent"),
		JournalPath:      viper.GetString("journal_path"),
		LogLevel:         viper.GetString("log_level"),
		ExplorerURL:      strings.TrimRight(viper.GetString("explorer_url"), "/"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.JournalPath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.JournalPath = filepath.Join(home, journal.DefaultFileName)
		}
	}

	return cfg, nil
}

// Validate checks the loaded values are usable
func (c *Config) Validate() error {
	if c.HTTPTimeout <= 0 || c.RPCTimeout <= 0 || c.ConfirmTimeout <= 0 || c.PollInterval <= 0 {
		return fmt.Errorf("timeouts and poll interval must be positive")
	}
	if c.GasBufferPercent > 100 {
		return fmt.Errorf("gas_buffer_percent must be at most 100, got %d", c.GasBufferPercent)
	}
	return nil
}

// RequireRPC checks that an RPC endpoint is configured
func (c *Config) RequireRPC() error {
	if c.RPCURL == "" {
		return fmt.Errorf("RPC URL not found. Please set %s_RPC_URL environment variable or add rpc_url to .evm-swap.yaml", EnvPrefix)
	}
	return nil
}

// RequireSigner checks that a private key is configured
func (c *Config) RequireSigner() error {
	if c.PrivateKey == "" {
		return fmt.Errorf("private key not found. Please set %s_PRIVATE_KEY environment variable or add private_key to .evm-swap.yaml", EnvPrefix)
	}
	return nil
}

// TxURL returns the explorer link for hash, or "" when no explorer is configured
func (c *Config) TxURL(hash string) string {
	if c.ExplorerURL == "" {
		return ""
	}
	return c.ExplorerURL + "/tx/" + hash
}
