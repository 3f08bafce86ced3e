// Copyright 2025 Certen Protocol

package x402

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"testing"
	"time"

	"github.com/certen/blueprint-runtime/pkg/config"
	"github.com/certen/blueprint-runtime/pkg/job"
	"github.com/certen/blueprint-runtime/pkg/pricing"
	"github.com/certen/blueprint-runtime/pkg/runner"
)

// stubFacilitator accepts a fixed assertion string.
type stubFacilitator struct {
	accept string
	calls  int
}

func (f *stubFacilitator) Verify(_ context.Context, assertion string, quoteDigest string) (*Receipt, error) {
	f.calls++
	if assertion != f.accept || quoteDigest == "" {
		return nil, ErrPaymentInvalid
	}
	return &Receipt{ID: "rcpt-1", Payer: "0xpayer"}, nil
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.BindAddress = "127.0.0.1:0"
	cfg.ServiceID = 1
	cfg.AcceptedTokens = []config.Token{{
		Network:           "eip155:8453",
		Asset:             "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		Symbol:            "USDC",
		Decimals:          6,
		PayTo:             "0x0000000000000000000000000000000000000001",
		RatePerNativeUnit: 3200,
		MarkupBps:         0,
	}}
	return &cfg
}

func startGateway(t *testing.T, cfg *config.Config, fac Facilitator) (*Gateway, *runner.ChannelProducer, string) {
	t.Helper()
	oracle := pricing.NewStatic(map[pricing.JobKey]*big.Int{
		{ServiceID: 1, JobIndex: 1}: big.NewInt(1_000_000_000_000_000), // 0.001 ETH
	})

	g, producer, err := New(cfg, oracle, fac)
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if _, err := g.Start(ctx); err != nil {
		t.Fatalf("start gateway: %v", err)
	}
	return g, producer, "http://" + g.Addr()
}

func TestPriceDiscovery(t *testing.T) {
	_, _, base := startGateway(t, testConfig(), &stubFacilitator{accept: "paid"})

	resp, err := http.Get(base + "/x402/jobs/1/1/price")
	if err != nil {
		t.Fatalf("get price: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var quote Quote
	if err := json.NewDecoder(resp.Body).Decode(&quote); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(quote.Options) != 1 {
		t.Fatalf("settlement options = %d", len(quote.Options))
	}
	// 0.001 ETH * 3200 USDC/ETH at 6 decimals = 3.2 USDC.
	if quote.Options[0].Amount != "3200000" {
		t.Errorf("amount = %q, want 3200000", quote.Options[0].Amount)
	}
	if quote.Digest == "" || quote.ExpiresAt <= time.Now().Unix() {
		t.Errorf("quote not sealed: %+v", quote)
	}
}

func TestMarkupApplied(t *testing.T) {
	cfg := testConfig()
	cfg.AcceptedTokens[0].MarkupBps = 200 // 2%
	_, _, base := startGateway(t, cfg, &stubFacilitator{accept: "paid"})

	resp, err := http.Get(base + "/x402/jobs/1/1/price")
	if err != nil {
		t.Fatalf("get price: %v", err)
	}
	defer resp.Body.Close()

	var quote Quote
	if err := json.NewDecoder(resp.Body).Decode(&quote); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if quote.Options[0].Amount != "3264000" {
		t.Errorf("amount with 2%% markup = %q, want 3264000", quote.Options[0].Amount)
	}
}

func TestUnknownJobReturns404(t *testing.T) {
	_, _, base := startGateway(t, testConfig(), &stubFacilitator{accept: "paid"})

	for _, path := range []string{"/x402/jobs/1/99/price", "/x402/jobs/42/1/price"} {
		resp, err := http.Get(base + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("%s: status = %d, want 404", path, resp.StatusCode)
		}
	}
}

func TestUnpaidSubmissionReturns402(t *testing.T) {
	_, _, base := startGateway(t, testConfig(), &stubFacilitator{accept: "paid"})

	resp, err := http.Post(base+"/x402/jobs/1/1", "", bytes.NewBufferString("data"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", resp.StatusCode)
	}

	var required paymentRequiredResponse
	if err := json.NewDecoder(resp.Body).Decode(&required); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(required.Options) == 0 || required.Digest == "" {
		t.Errorf("402 response lacks settlement options: %+v", required)
	}
}

func TestInvalidPaymentReturns402(t *testing.T) {
	fac := &stubFacilitator{accept: "paid"}
	_, _, base := startGateway(t, testConfig(), fac)

	req, _ := http.NewRequest(http.MethodPost, base+"/x402/jobs/1/1", bytes.NewBufferString("data"))
	req.Header.Set(PaymentHeader, "forged")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", resp.StatusCode)
	}
	if fac.calls != 1 {
		t.Errorf("facilitator consulted %d times", fac.calls)
	}
}

func TestPaidSubmissionEmitsJobCall(t *testing.T) {
	_, producer, base := startGateway(t, testConfig(), &stubFacilitator{accept: "paid"})

	req, _ := http.NewRequest(http.MethodPost, base+"/x402/jobs/1/1", bytes.NewBufferString("test data"))
	req.Header.Set(PaymentHeader, "paid")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	var accepted acceptedResponse
	if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if accepted.Status != "accepted" || accepted.JobID != 1 || accepted.CallID != 1 {
		t.Errorf("response = %+v", accepted)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	call, err := producer.Next(ctx)
	if err != nil {
		t.Fatalf("no call produced: %v", err)
	}
	if call.JobID() != 1 || string(call.Body()) != "test data" {
		t.Errorf("call = id %d body %q", call.JobID(), call.Body())
	}
	for _, key := range []string{KeyOrigin, KeyToken, KeyNetwork, KeyQuoteDigest, job.KeyServiceID, job.KeyCallID} {
		if _, ok := call.Metadata().Get(key); !ok {
			t.Errorf("missing metadata key %q", key)
		}
	}
	if v, _ := call.Metadata().GetString(KeyNetwork); v != "eip155:8453" {
		t.Errorf("network = %q", v)
	}
}

func TestHealthEndpoint(t *testing.T) {
	_, _, base := startGateway(t, testConfig(), &stubFacilitator{accept: "paid"})

	resp, err := http.Get(base + "/x402/health")
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestGatewayRequiresTokensAndFacilitator(t *testing.T) {
	cfg := testConfig()
	oracle := pricing.NewStatic(nil)

	bad := *cfg
	bad.AcceptedTokens = nil
	if _, _, err := New(&bad, oracle, &stubFacilitator{}); err == nil {
		t.Error("gateway without tokens accepted")
	}
	if _, _, err := New(cfg, oracle, nil); err == nil {
		t.Error("gateway without facilitator accepted")
	}
}
