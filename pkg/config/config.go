// Copyright 2025 Certen Protocol
//
// Runtime configuration, loaded from a TOML file at startup.

package config

import (
	"fmt"
	"net"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/certen/blueprint-runtime/pkg/crypto/blssig"
)

// Auth modes accepted by webhook endpoints.
const (
	AuthNone   = "none"
	AuthBearer = "bearer"
	AuthAPIKey = "api_key"
	AuthHMAC   = "hmac"
)

// Endpoint configures one webhook endpoint.
type Endpoint struct {
	Path         string `toml:"path"`
	JobID        uint32 `toml:"job_id"`
	Auth         string `toml:"auth"`
	Secret       string `toml:"secret"`
	APIKeyHeader string `toml:"api_key_header"`
	Name         string `toml:"name"`
}

// Token configures one settlement option of the payment gateway.
type Token struct {
	Network           string `toml:"network"`
	Asset             string `toml:"asset"`
	Symbol            string `toml:"symbol"`
	Decimals          uint8  `toml:"decimals"`
	PayTo             string `toml:"pay_to"`
	RatePerNativeUnit uint64 `toml:"rate_per_native_unit"`
	MarkupBps         uint32 `toml:"markup_bps"`
}

// Aggregation configures the signature aggregation protocol.
type Aggregation struct {
	ThresholdPercentage uint8  `toml:"threshold_percentage"`
	NumAggregators      uint32 `toml:"num_aggregators"`
	SessionTimeoutSecs  uint64 `toml:"session_timeout_secs"`
	Scheme              string `toml:"scheme"`
}

// SessionTimeout returns the configured timeout as a duration.
func (a Aggregation) SessionTimeout() time.Duration {
	return time.Duration(a.SessionTimeoutSecs) * time.Second
}

// EVM configures the EVM-family adapter. An empty RPC URL disables it.
type EVM struct {
	RPCURL                string `toml:"rpc_url"`
	Contract              string `toml:"contract"`
	KeyID                 string `toml:"key_id"`
	HeartbeatIntervalSecs uint64 `toml:"heartbeat_interval_secs"`
}

// Substrate configures the substrate-family adapter. An empty RPC URL
// disables it.
type Substrate struct {
	RPCURL                string `toml:"rpc_url"`
	KeyID                 string `toml:"key_id"`
	HeartbeatIntervalSecs uint64 `toml:"heartbeat_interval_secs"`
}

// TEE configures the attestation middleware. An empty report path
// disables stamping.
type TEE struct {
	Provider   string `toml:"provider"`
	ReportPath string `toml:"report_path"`
}

// Config is the full runtime configuration.
type Config struct {
	BindAddress    string `toml:"bind_address"`
	// X402BindAddress hosts the payment gateway when both gateways are
	// enabled; it falls back to BindAddress when only one gateway runs.
	X402BindAddress string `toml:"x402_bind_address"`
	MetricsAddress  string `toml:"metrics_address"`
	ServiceID       uint64 `toml:"service_id"`
	LogLevel        string `toml:"log_level"`
	DataDir         string `toml:"data_dir"`
	KeystoreDir     string `toml:"keystore_dir"`

	Endpoints      []Endpoint `toml:"endpoints"`
	AcceptedTokens []Token    `toml:"accepted_tokens"`
	FacilitatorURL string     `toml:"facilitator_url"`
	QuoteTTLSecs   uint64     `toml:"quote_ttl_secs"`

	Aggregation Aggregation `toml:"aggregation"`
	EVM         EVM         `toml:"evm"`
	Substrate   Substrate   `toml:"substrate"`
	TEE         TEE         `toml:"tee"`
}

// Default returns the configuration defaults applied before decoding.
func Default() Config {
	return Config{
		BindAddress:  "127.0.0.1:8080",
		LogLevel:     "info",
		QuoteTTLSecs: 300,
		Aggregation: Aggregation{
			ThresholdPercentage: 67,
			NumAggregators:      1,
			SessionTimeoutSecs:  60,
			Scheme:              blssig.SchemeNameBLS12381,
		},
	}
}

// Load reads and validates a TOML configuration file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.BindAddress); err != nil {
		return fmt.Errorf("bind_address: %w", err)
	}
	if c.X402BindAddress != "" {
		if _, _, err := net.SplitHostPort(c.X402BindAddress); err != nil {
			return fmt.Errorf("x402_bind_address: %w", err)
		}
	}
	if len(c.Endpoints) > 0 && len(c.AcceptedTokens) > 0 &&
		(c.X402BindAddress == "" || c.X402BindAddress == c.BindAddress) {
		return fmt.Errorf("x402_bind_address must differ from bind_address when both gateways are enabled")
	}

	for i, ep := range c.Endpoints {
		if ep.Path == "" || ep.Path[0] != '/' {
			return fmt.Errorf("endpoints[%d]: path must start with '/'", i)
		}
		switch ep.Auth {
		case AuthNone:
		case AuthBearer, AuthHMAC:
			if ep.Secret == "" {
				return fmt.Errorf("endpoints[%d]: auth %q requires a secret", i, ep.Auth)
			}
		case AuthAPIKey:
			if ep.Secret == "" || ep.APIKeyHeader == "" {
				return fmt.Errorf("endpoints[%d]: api_key auth requires secret and api_key_header", i)
			}
		default:
			return fmt.Errorf("endpoints[%d]: unknown auth mode %q", i, ep.Auth)
		}
	}

	for i, tok := range c.AcceptedTokens {
		if tok.Network == "" || tok.Asset == "" || tok.PayTo == "" {
			return fmt.Errorf("accepted_tokens[%d]: network, asset and pay_to are required", i)
		}
		if tok.RatePerNativeUnit == 0 {
			return fmt.Errorf("accepted_tokens[%d]: rate_per_native_unit must be positive", i)
		}
	}

	agg := c.Aggregation
	if agg.ThresholdPercentage < 1 || agg.ThresholdPercentage > 100 {
		return fmt.Errorf("aggregation.threshold_percentage must be in 1..=100, got %d", agg.ThresholdPercentage)
	}
	if agg.NumAggregators < 1 {
		return fmt.Errorf("aggregation.num_aggregators must be at least 1")
	}
	if _, err := blssig.ByName(agg.Scheme); err != nil {
		return fmt.Errorf("aggregation.scheme: %w", err)
	}

	return nil
}
