// Copyright 2025 Certen Protocol

package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/certen/blueprint-runtime/pkg/config"
	"github.com/certen/blueprint-runtime/pkg/job"
	"github.com/certen/blueprint-runtime/pkg/runner"
)

func startGateway(t *testing.T, endpoints []config.Endpoint) (*Gateway, *runner.ChannelProducer, string) {
	t.Helper()
	g, producer, err := New("127.0.0.1:0", 1, endpoints)
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

func nextCall(t *testing.T, p *runner.ChannelProducer) *job.Call {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	call, err := p.Next(ctx)
	if err != nil {
		t.Fatalf("no job call produced: %v", err)
	}
	return call
}

func TestEchoEndpoint(t *testing.T) {
	_, producer, base := startGateway(t, []config.Endpoint{
		{Path: "/hooks/echo", JobID: 0, Auth: config.AuthNone, Name: "echo"},
	})

	resp, err := http.Post(base+"/hooks/echo", "application/octet-stream", bytes.NewBufferString("hello"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	var accepted acceptedResponse
	if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if accepted.Status != "accepted" || accepted.JobID != 0 || accepted.CallID != 1 {
		t.Errorf("response = %+v", accepted)
	}

	call := nextCall(t, producer)
	if call.JobID() != 0 || string(call.Body()) != "hello" {
		t.Errorf("call = id %d body %q", call.JobID(), call.Body())
	}
	if v, _ := call.Metadata().GetString(job.KeyServiceID); v != "1" {
		t.Errorf("service_id = %q", v)
	}
	if v, _ := call.Metadata().GetString(job.KeyCallID); v != "1" {
		t.Errorf("call_id = %q", v)
	}
	if v, _ := call.Metadata().GetString(job.KeyEndpoint); v != "echo" {
		t.Errorf("endpoint = %q", v)
	}
	if v, _ := call.Metadata().GetString(job.KeyPath); v != "/hooks/echo" {
		t.Errorf("path = %q", v)
	}
}

func TestCallIDsAreMonotonicAcrossEndpoints(t *testing.T) {
	_, producer, base := startGateway(t, []config.Endpoint{
		{Path: "/hooks/a", JobID: 0, Auth: config.AuthNone},
		{Path: "/hooks/b", JobID: 1, Auth: config.AuthNone},
	})

	for i, path := range []string{"/hooks/a", "/hooks/b", "/hooks/a"} {
		resp, err := http.Post(base+path, "", bytes.NewBufferString("x"))
		if err != nil {
			t.Fatalf("post %d: %v", i, err)
		}
		resp.Body.Close()
	}

	for want := uint64(1); want <= 3; want++ {
		call := nextCall(t, producer)
		got, _ := call.Metadata().GetString(job.KeyCallID)
		if got != fmt.Sprintf("%d", want) {
			t.Fatalf("call_id = %s, want %d", got, want)
		}
	}
}

func TestBearerAuth(t *testing.T) {
	_, producer, base := startGateway(t, []config.Endpoint{
		{Path: "/hooks/secure", JobID: 2, Auth: config.AuthBearer, Secret: "tok"},
	})

	req, _ := http.NewRequest(http.MethodPost, base+"/hooks/secure", bytes.NewBufferString("x"))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing token: status %d, want 401", resp.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodPost, base+"/hooks/secure", bytes.NewBufferString("x"))
	req.Header.Set("Authorization", "Bearer tok")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("valid token: status %d, want 202", resp.StatusCode)
	}
	nextCall(t, producer)
}

func TestAPIKeyAuth(t *testing.T) {
	_, _, base := startGateway(t, []config.Endpoint{
		{Path: "/hooks/keyed", JobID: 3, Auth: config.AuthAPIKey, Secret: "k123", APIKeyHeader: "X-API-Key"},
	})

	req, _ := http.NewRequest(http.MethodPost, base+"/hooks/keyed", bytes.NewBufferString("x"))
	req.Header.Set("X-API-Key", "wrong")
	resp, _ := http.DefaultClient.Do(req)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong key accepted: %d", resp.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodPost, base+"/hooks/keyed", bytes.NewBufferString("x"))
	req.Header.Set("X-API-Key", "k123")
	resp, _ = http.DefaultClient.Do(req)
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("valid key rejected: %d", resp.StatusCode)
	}
}

func TestHMACAuth(t *testing.T) {
	secret := "shared-secret"
	_, _, base := startGateway(t, []config.Endpoint{
		{Path: "/hooks/hmac", JobID: 4, Auth: config.AuthHMAC, Secret: secret},
	})

	body := []byte(`{"event":"ping"}`)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	sig := hex.EncodeToString(mac.Sum(nil))

	req, _ := http.NewRequest(http.MethodPost, base+"/hooks/hmac", bytes.NewBuffer(body))
	req.Header.Set(SignatureHeader, sig)
	resp, _ := http.DefaultClient.Do(req)
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("valid signature rejected: %d", resp.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodPost, base+"/hooks/hmac", bytes.NewBuffer(body))
	req.Header.Set(SignatureHeader, "deadbeef")
	resp, _ = http.DefaultClient.Do(req)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad signature accepted: %d", resp.StatusCode)
	}
}

func TestHealthEndpoint(t *testing.T) {
	_, _, base := startGateway(t, []config.Endpoint{
		{Path: "/hooks/x", JobID: 0, Auth: config.AuthNone},
	})

	resp, err := http.Get(base + "/webhooks/health")
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", resp.StatusCode)
	}
}

func TestNoEndpointsRejected(t *testing.T) {
	if _, _, err := New("127.0.0.1:0", 1, nil); err == nil {
		t.Fatal("gateway without endpoints accepted")
	}
}
