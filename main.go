// Copyright 2025 Certen Protocol
//
// Blueprint runtime operator binary.
//
// Loads the TOML configuration, wires the configured gateways and chain
// adapters into the runner, and serves the reference blueprint jobs:
// job 0 echoes its payload, job 1 returns the Keccak-256 of it.

package main

import (
	"context"
	"errors"
	"flag"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/certen/blueprint-runtime/pkg/chains"
	"github.com/certen/blueprint-runtime/pkg/chains/evm"
	"github.com/certen/blueprint-runtime/pkg/chains/substrate"
	"github.com/certen/blueprint-runtime/pkg/config"
	"github.com/certen/blueprint-runtime/pkg/extract"
	"github.com/certen/blueprint-runtime/pkg/gateway/webhook"
	"github.com/certen/blueprint-runtime/pkg/gateway/x402"
	"github.com/certen/blueprint-runtime/pkg/job"
	"github.com/certen/blueprint-runtime/pkg/keystore"
	"github.com/certen/blueprint-runtime/pkg/kvdb"
	"github.com/certen/blueprint-runtime/pkg/logging"
	"github.com/certen/blueprint-runtime/pkg/metrics"
	"github.com/certen/blueprint-runtime/pkg/pricing"
	"github.com/certen/blueprint-runtime/pkg/router"
	"github.com/certen/blueprint-runtime/pkg/runner"
	"github.com/certen/blueprint-runtime/pkg/tee"
)

func main() {
	configPath := flag.String("config", "runtime.toml", "path to the runtime configuration file")
	flag.Parse()

	log := logging.Component("main")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}
	logging.SetLevel(cfg.LogLevel)

	registry := prometheus.NewRegistry()
	collectors := metrics.New(registry)

	// Reference blueprint jobs.
	r := router.New().
		Route(0, func(body extract.Body) []byte {
			return body
		}).
		Route(1, func(body extract.Body) [32]byte {
			var digest [32]byte
			copy(digest[:], ethcrypto.Keccak256(body))
			return digest
		})

	// Attestation middleware, when a report source is configured.
	if cfg.TEE.ReportPath != "" {
		handle := tee.NewHandle()
		attestor := tee.NewFileAttestor(tee.Provider(cfg.TEE.Provider), cfg.TEE.ReportPath)
		if report, ok := attestor.CurrentReport(); ok {
			handle.Update(report)
		}
		r = r.Layer(tee.NewLayer(handle))
	}

	run := runner.New(r.AsService()).Metrics(collectors)

	// Adapter-local state for chain checkpoints and nonces.
	var store *kvdb.Store
	if cfg.DataDir != "" {
		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			log.WithError(err).Fatal("failed to create data dir")
		}
		store, err = kvdb.OpenGoLevelDB("blueprint", cfg.DataDir)
		if err != nil {
			log.WithError(err).Fatal("failed to open state store")
		}
		defer store.Close()
	}

	var ks *keystore.FS
	if cfg.KeystoreDir != "" || cfg.DataDir != "" {
		dir := cfg.KeystoreDir
		if dir == "" {
			dir = filepath.Join(cfg.DataDir, "keystore")
		}
		ks, err = keystore.OpenFS(dir)
		if err != nil {
			log.WithError(err).Fatal("failed to open keystore")
		}
	}

	// Webhook gateway.
	if len(cfg.Endpoints) > 0 {
		gw, producer, err := webhook.New(cfg.BindAddress, cfg.ServiceID, cfg.Endpoints)
		if err != nil {
			log.WithError(err).Fatal("failed to build webhook gateway")
		}
		run.Producer(producer).BackgroundService(gw.Metrics(collectors))
	}

	// Payment gateway.
	if len(cfg.AcceptedTokens) > 0 {
		if cfg.FacilitatorURL == "" {
			log.Fatal("accepted_tokens configured without facilitator_url")
		}
		x402Cfg := *cfg
		if cfg.X402BindAddress != "" {
			x402Cfg.BindAddress = cfg.X402BindAddress
		}
		oracle := pricing.NewStatic(defaultJobPricing(cfg.ServiceID))
		gw, producer, err := x402.New(&x402Cfg, oracle, x402.NewHTTPFacilitator(cfg.FacilitatorURL))
		if err != nil {
			log.WithError(err).Fatal("failed to build x402 gateway")
		}
		run.Producer(producer).BackgroundService(gw.Metrics(collectors))
	}

	// EVM adapter.
	if cfg.EVM.RPCURL != "" {
		if ks == nil {
			log.Fatal("evm adapter requires a keystore")
		}
		key, err := ks.ECDSAKey(cfg.EVM.KeyID)
		if err != nil {
			log.WithError(err).Fatal("evm signing key unavailable")
		}
		eth, err := ethclient.Dial(cfg.EVM.RPCURL)
		if err != nil {
			log.WithError(err).Fatal("failed to dial evm rpc")
		}
		client := evm.NewClient(eth, common.HexToAddress(cfg.EVM.Contract), cfg.ServiceID, key)
		run.Producer(chains.NewWatcher(client.Source(), store, cfg.ServiceID)).
			Consumer(chains.NewSubmitter("evm", client).Metrics(collectors)).
			OptionalBackgroundService(chains.NewHeartbeat(client, cfg.ServiceID,
				time.Duration(cfg.EVM.HeartbeatIntervalSecs)*time.Second))
	}

	// Substrate adapter.
	if cfg.Substrate.RPCURL != "" {
		if ks == nil {
			log.Fatal("substrate adapter requires a keystore")
		}
		signer, err := ks.Sr25519Key(cfg.Substrate.KeyID)
		if err != nil {
			log.WithError(err).Fatal("substrate signing key unavailable")
		}
		client, err := substrate.NewClient(substrate.NewHTTPRPC(cfg.Substrate.RPCURL), cfg.ServiceID, signer, 0)
		if err != nil {
			log.WithError(err).Fatal("failed to build substrate client")
		}
		run.Producer(chains.NewWatcher(client, store, cfg.ServiceID)).
			Consumer(chains.NewSubmitter("substrate", client).Metrics(collectors)).
			OptionalBackgroundService(chains.NewHeartbeat(client, cfg.ServiceID,
				time.Duration(cfg.Substrate.HeartbeatIntervalSecs)*time.Second))
	}

	// Every result is also logged locally.
	run.Consumer(runner.ConsumerFunc{
		ConsumerName: "log",
		Fn: func(_ context.Context, res *job.Result) error {
			if res.IsErr() {
				logging.Component("results").WithField("tag", res.ErrTag()).
					Warn(string(res.ErrPayload()))
				return nil
			}
			logging.Component("results").WithFields(logrus.Fields{
				"job_id": res.Head().ID,
				"bytes":  len(res.Body()),
			}).Info("job result produced")
			return nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Info("shutdown signal received")
		cancel()
	}()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: cfg.MetricsAddress, Handler: mux}
		g.Go(func() error {
			err := srv.ListenAndServe()
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		// A finished pipeline takes the metrics server down with it.
		defer cancel()
		return run.Run(gctx)
	})

	log.WithField("service_id", cfg.ServiceID).Info("blueprint runtime starting")
	if err := g.Wait(); err != nil {
		log.WithError(err).Fatal("runtime stopped with error")
	}
	log.Info("blueprint runtime stopped")
}

// defaultJobPricing prices the reference jobs: echo at 0.0001 and keccak
// at 0.001 native units.
func defaultJobPricing(serviceID uint64) map[pricing.JobKey]*big.Int {
	return map[pricing.JobKey]*big.Int{
		{ServiceID: serviceID, JobIndex: 0}: big.NewInt(100_000_000_000_000),
		{ServiceID: serviceID, JobIndex: 1}: big.NewInt(1_000_000_000_000_000),
	}
}
