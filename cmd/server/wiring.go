package main

import (
	"encoding/json"
	"log/slog"
	"os"

	"custodia/internal/audit"
	"custodia/internal/platform/config"
	"custodia/internal/vault"
)

// buildAuditStore assembles the audit sink chain: Postgres when configured,
// fanned out to Kafka when brokers are set, in-memory otherwise.
func buildAuditStore(cfg config.Server, log *slog.Logger) audit.Store {
	var primary audit.Store = audit.NewInMemoryStore()
	if cfg.AuditDBURL != "" {
		pg, err := audit.OpenPostgres(cfg.AuditDBURL)
		if err != nil {
			log.Error("failed to open audit database", "error", err)
			os.Exit(1)
		}
		primary = pg
	}

	if len(cfg.KafkaBrokers) == 0 {
		return primary
	}
	sink, err := audit.NewKafkaSink(cfg.KafkaBrokers, cfg.AuditTopic, log)
	if err != nil {
		log.Error("failed to connect to kafka", "error", err)
		os.Exit(1)
	}
	return audit.NewFanOutStore(primary, log, sink)
}

// loadVaultSchema reads the vault schema catalog from VAULT_SCHEMA_FILE.
// Returns nil when unset, which disables schema validation at registration.
func loadVaultSchema(log *slog.Logger) vault.SchemaProvider {
	path := os.Getenv("VAULT_SCHEMA_FILE")
	if path == "" {
		return nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		log.Error("failed to read vault schema file", "path", path, "error", err)
		os.Exit(1)
	}

	var vaults map[string]map[string][]vault.Field
	if err := json.Unmarshal(raw, &vaults); err != nil {
		log.Error("failed to parse vault schema file", "path", path, "error", err)
		os.Exit(1)
	}
	return vault.NewStaticProvider(vaults)
}
