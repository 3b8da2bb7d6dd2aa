package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/zkrelay/artifacts"
	"github.com/ethpandaops/zkrelay/clients/ledger"
	"github.com/ethpandaops/zkrelay/handlers"
	"github.com/ethpandaops/zkrelay/handlers/middleware"
	"github.com/ethpandaops/zkrelay/metrics"
	"github.com/ethpandaops/zkrelay/payout"
	"github.com/ethpandaops/zkrelay/prover/groth16"
	"github.com/ethpandaops/zkrelay/replay"
	"github.com/ethpandaops/zkrelay/services"
	"github.com/ethpandaops/zkrelay/types"
	"github.com/ethpandaops/zkrelay/utils"
)

func main() {
	configPath := flag.String("config", "", "Path to the config file, if empty string defaults will be used")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := &types.Config{}
	err := utils.ReadConfig(cfg, *configPath)
	if err != nil {
		logrus.Fatalf("error reading config file: %v", err)
	}
	logWriter, logger := utils.InitLogger(cfg)
	defer logWriter.Dispose()

	logger.WithFields(logrus.Fields{
		"config":  *configPath,
		"version": utils.GetBuildVersion(),
	}).Printf("starting")

	if err := utils.ValidateRelayConfig(cfg); err != nil {
		utils.LogFatal(err, "invalid relay configuration", 0)
	}

	// the relay must not serve without its verification artifacts
	store, err := artifacts.NewStoreFromConfig(cfg)
	if err != nil {
		utils.LogFatal(err, "error opening artifact store", 0)
	}
	params, values, err := store.LoadAll(ctx)
	if err != nil {
		utils.LogFatal(err, "error loading public parameters", 0)
	}
	store.Close()
	logger.Infof("loaded public parameters for %v (trace bounds %v)", params.Backend, params.Bounds)

	backend := groth16.NewBackend()
	if params.Backend != backend.Name() {
		logger.Fatalf("public parameters were built for %v, relay verifies %v", params.Backend, backend.Name())
	}

	ledgerClient, err := ledger.NewERC20Client(ctx, ledger.ConfigFromRelayConfig(cfg, true), logger.WithField("module", "ledger"))
	if err != nil {
		utils.LogFatal(err, "error connecting to ledger", 0)
	}
	defer ledgerClient.Close()

	payoutAddress := ledgerClient.OperatorAddress()
	if cfg.Ledger.OperatorAddress != "" && common.HexToAddress(cfg.Ledger.OperatorAddress) != payoutAddress {
		logger.Fatalf("operator address %v does not match the operator key (%v)", cfg.Ledger.OperatorAddress, payoutAddress.Hex())
	}
	logger.Infof("paying out %v %v from %v on chain %v", cfg.Relay.SendAmount, cfg.Ledger.TokenSymbol, payoutAddress.Hex(), ledgerClient.ChainID())

	journal, err := replay.NewJournalFromConfig(ctx, cfg, logger.WithField("module", "replay"))
	if err != nil {
		utils.LogFatal(err, "error opening payout journal", 0)
	}
	defer journal.Close()

	relayService, err := services.NewRelayService(
		services.RelayServiceConfig{
			SendAmount:    cfg.Relay.SendAmount,
			TokenSymbol:   cfg.Ledger.TokenSymbol,
			PayoutAddress: payoutAddress,
			VerifyWorkers: cfg.Relay.VerifyWorkers,
			InfoTimeout:   cfg.Relay.InfoTimeout,
		},
		params,
		values,
		backend,
		payout.NewExecutor(ledgerClient, logger.WithField("module", "payout")),
		ledgerClient,
		journal,
		logger.WithField("module", "relay"),
	)
	if err != nil {
		utils.LogFatal(err, "error creating relay service", 0)
	}

	var metricsServer *http.Server
	if cfg.Metrics.Enabled && !cfg.Metrics.Public {
		metricsServer, err = metrics.StartMetricsServer(logger.WithField("module", "metrics"), cfg.Metrics.Host, cfg.Metrics.Port)
		if err != nil {
			logger.Fatalf("error starting metrics server: %v", err)
		}
	}

	var rateLimit *middleware.RateLimitMiddleware
	if cfg.RateLimit.Enabled {
		rateLimit = middleware.NewRateLimitMiddleware(cfg.RateLimit.Rate, cfg.RateLimit.Burst, cfg.RateLimit.ProxyCount)
		defer rateLimit.Stop()
	}

	webserver, err := startWebserver(cfg, handlers.NewRouter(
		handlers.NewRelayHandler(relayService, cfg.Server.MaxBodySize, logger.WithField("module", "handlers")),
		handlers.RouterOptions{
			CorsOrigins:   cfg.Server.CorsOrigins,
			RateLimit:     rateLimit,
			MetricsPublic: cfg.Metrics.Enabled && cfg.Metrics.Public,
		},
	), logger)
	if err != nil {
		logger.Fatalf("error starting webserver: %v", err)
	}

	sig := utils.WaitForCtrlC()
	logger.Infof("received %v, exiting...", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := webserver.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("error shutting down webserver")
	}
	if metricsServer != nil {
		metricsServer.Shutdown(shutdownCtx)
	}
	relayService.Stop()
}

func startWebserver(cfg *types.Config, handler http.Handler, logger logrus.FieldLogger) (*http.Server, error) {
	if cfg.Server.HttpWriteTimeout == 0 {
		cfg.Server.HttpWriteTimeout = time.Second * 300
	}
	if cfg.Server.HttpReadTimeout == 0 {
		cfg.Server.HttpReadTimeout = time.Second * 15
	}
	if cfg.Server.HttpIdleTimeout == 0 {
		cfg.Server.HttpIdleTimeout = time.Second * 60
	}
	srv := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		WriteTimeout: cfg.Server.HttpWriteTimeout,
		ReadTimeout:  cfg.Server.HttpReadTimeout,
		IdleTimeout:  cfg.Server.HttpIdleTimeout,
		Handler:      handler,
	}

	listener, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return nil, err
	}

	logger.Printf("http server listening on %v", srv.Addr)
	go func() {
		defer utils.HandleSubroutinePanic("http-server")
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Error serving relay")
		}
	}()

	return srv, nil
}
