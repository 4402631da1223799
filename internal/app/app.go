// Package app assembles gateways and stores from configuration for the binaries.
package app

import (
	"context"
	"fmt"

	"mortgagedapp/internal/config"
	"mortgagedapp/internal/contracts"
	"mortgagedapp/internal/idempotency"
	"mortgagedapp/internal/mortgage"

	"github.com/charmbracelet/log"
)

// BuildWallet returns the configured signer, or nil when none is configured.
// Private keys win over a keystore directory.
func BuildWallet(cfg config.ChainConfig) (mortgage.Wallet, error) {
	if !cfg.HasWallet() {
		return nil, nil
	}
	switch {
	case len(cfg.PrivateKeys) > 0:
		w, err := mortgage.NewKeyWallet(cfg.PrivateKeys...)
		if err != nil {
			return nil, fmt.Errorf("private key wallet: %w", err)
		}
		return w, nil
	default:
		return mortgage.OpenKeystoreWallet(cfg.KeystoreDir, cfg.KeystorePassphrase), nil
	}
}

// BuildGateway returns the in-memory gateway in demo mode and an EthGateway
// otherwise. The returned func releases the RPC connection.
func BuildGateway(cfg *config.AppConfig, logger *log.Logger) (mortgage.Gateway, func(), error) {
	if cfg.Service.Demo {
		logger.Warn("demo mode: using in-memory contract")
		return mortgage.NewFakeGateway(), func() {}, nil
	}

	art, err := contracts.LoadArtifact(cfg.Contract.ArtifactPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load artifact: %w", err)
	}
	art = art.WithDeployments(cfg.Contract.Deployments)

	wallet, err := BuildWallet(cfg.Chain)
	if err != nil {
		return nil, nil, err
	}
	if !cfg.Chain.HasWallet() {
		logger.Warn("no wallet configured; connect will fail until CHAIN_PRIVATE_KEY or KEYSTORE_DIR is set")
	}

	gw, err := mortgage.NewEthGateway(mortgage.EthGatewayConfig{
		RPCURL:       cfg.Chain.RPCURL,
		Wallet:       wallet,
		Artifact:     art,
		PollInterval: cfg.Chain.ReceiptPollInterval,
		Logger:       logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return gw, gw.Close, nil
}

// BuildStore picks Postgres when a DSN is set, the file store when a path is
// set, and memory otherwise.
func BuildStore(ctx context.Context, cfg config.ServiceConfig, logger *log.Logger) (idempotency.Store, func(), error) {
	switch {
	case cfg.PostgresDSN != "":
		pg, err := idempotency.NewPostgresStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres idempotency store: %w", err)
		}
		logger.Info("idempotency store", "kind", "postgres")
		PurgeExpired(ctx, pg, logger)
		return pg, pg.Close, nil
	case cfg.IdempotencyStorePath != "":
		fs, err := idempotency.NewFileStore(cfg.IdempotencyStorePath)
		if err != nil {
			return nil, nil, fmt.Errorf("file idempotency store: %w", err)
		}
		logger.Info("idempotency store", "kind", "file", "path", cfg.IdempotencyStorePath)
		return fs, func() {}, nil
	default:
		logger.Info("idempotency store", "kind", "memory")
		return idempotency.NewMemoryStore(), func() {}, nil
	}
}

// PurgeExpired drops replay records that outlived their window. Shared stores
// accumulate rows from every instance, so it runs once at startup; a failure is
// logged and the store is still usable.
func PurgeExpired(ctx context.Context, store idempotency.Store, logger *log.Logger) {
	p, ok := store.(idempotency.Purger)
	if !ok {
		return
	}
	n, err := p.Purge(ctx)
	if err != nil {
		logger.Warn("purge expired idempotency records", "err", err)
		return
	}
	logger.Info("purged expired idempotency records", "count", n)
}
