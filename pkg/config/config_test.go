// Copyright 2025 Certen Protocol

package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleConfig = `
bind_address = "127.0.0.1:9090"
x402_bind_address = "127.0.0.1:9091"
service_id = 7
log_level = "debug"
facilitator_url = "http://facilitator.local/verify"
quote_ttl_secs = 120

[[endpoints]]
path = "/hooks/echo"
job_id = 0
auth = "none"
name = "echo"

[[endpoints]]
path = "/hooks/secure"
job_id = 1
auth = "hmac"
secret = "topsecret"

[[accepted_tokens]]
network = "eip155:8453"
asset = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"
symbol = "USDC"
decimals = 6
pay_to = "0x0000000000000000000000000000000000000001"
rate_per_native_unit = 3200
markup_bps = 0

[aggregation]
threshold_percentage = 67
num_aggregators = 2
session_timeout_secs = 30
scheme = "bls12-381"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "runtime.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadSampleConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.ServiceID != 7 || cfg.BindAddress != "127.0.0.1:9090" {
		t.Errorf("top-level fields wrong: %+v", cfg)
	}
	if len(cfg.Endpoints) != 2 || cfg.Endpoints[1].Auth != AuthHMAC {
		t.Errorf("endpoints wrong: %+v", cfg.Endpoints)
	}
	if len(cfg.AcceptedTokens) != 1 || cfg.AcceptedTokens[0].Decimals != 6 {
		t.Errorf("tokens wrong: %+v", cfg.AcceptedTokens)
	}
	if cfg.Aggregation.NumAggregators != 2 || cfg.Aggregation.SessionTimeoutSecs != 30 {
		t.Errorf("aggregation wrong: %+v", cfg.Aggregation)
	}
	if cfg.QuoteTTLSecs != 120 {
		t.Errorf("quote ttl wrong: %d", cfg.QuoteTTLSecs)
	}
}

func TestDefaultsApply(t *testing.T) {
	cfg, err := Load(writeConfig(t, `service_id = 1`))
	if err != nil {
		t.Fatalf("load minimal config: %v", err)
	}
	if cfg.BindAddress != "127.0.0.1:8080" {
		t.Errorf("default bind address missing: %q", cfg.BindAddress)
	}
	if cfg.QuoteTTLSecs != 300 {
		t.Errorf("default quote ttl missing: %d", cfg.QuoteTTLSecs)
	}
	if cfg.Aggregation.ThresholdPercentage != 67 {
		t.Errorf("default aggregation threshold missing: %d", cfg.Aggregation.ThresholdPercentage)
	}
}

func TestValidationFailures(t *testing.T) {
	cases := map[string]string{
		"bad bind address": `bind_address = "not-an-address"`,
		"hmac without secret": `
[[endpoints]]
path = "/h"
job_id = 0
auth = "hmac"
`,
		"unknown auth": `
[[endpoints]]
path = "/h"
job_id = 0
auth = "oauth2"
`,
		"path without slash": `
[[endpoints]]
path = "hooks"
job_id = 0
auth = "none"
`,
		"zero rate": `
[[accepted_tokens]]
network = "eip155:1"
asset = "0x1"
symbol = "T"
decimals = 6
pay_to = "0x2"
rate_per_native_unit = 0
`,
		"bad threshold": `
[aggregation]
threshold_percentage = 0
num_aggregators = 1
scheme = "bls12-381"
`,
		"bad scheme": `
[aggregation]
threshold_percentage = 50
num_aggregators = 1
scheme = "rsa"
`,
	}

	for name, content := range cases {
		if _, err := Load(writeConfig(t, content)); err == nil {
			t.Errorf("%s: invalid config accepted", name)
		}
	}
}
