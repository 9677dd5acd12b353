package config

import (
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/GrupoUS/neonpro-sub006/pkg/domain"
	dErrors "github.com/GrupoUS/neonpro-sub006/pkg/domain-errors"
	pstrings "github.com/GrupoUS/neonpro-sub006/pkg/platform/strings"
)

// Server captures process-level configuration. Built once in main from the
// environment so the rest of the code receives explicit values.
type Server struct {
	Addr      string
	LogLevel  string
	LogFormat string

	// PostgresURL selects the durable ledger substrate; empty falls back
	// to the in-memory store (development only).
	PostgresURL string
	// RedisURL selects the distributed consent substrate; empty falls
	// back to the in-memory store (development only).
	RedisURL string

	// KafkaBrokers enables downstream fan-out of accepted audit records
	// when non-empty.
	KafkaBrokers []string
	KafkaTopic   string

	// ClockSkew bounds how far in the future an event's occurredAt may
	// lie before the gate rejects it.
	ClockSkew time.Duration
	// ConsentSweepInterval paces the expiry sweeper.
	ConsentSweepInterval time.Duration
	// ChainVerifyInterval paces the background self-check; zero disables.
	ChainVerifyInterval time.Duration

	// PurposePolicyFile optionally points at a JSON purpose catalog.
	// Policy content (which purposes require which consent) is supplied
	// as configuration, never computed in code.
	PurposePolicyFile string
}

// FromEnv builds a Server config from environment variables so main stays
// lean.
func FromEnv() Server {
	cfg := Server{
		Addr:                 envOr("NEONPRO_ADDR", ":8080"),
		LogLevel:             envOr("NEONPRO_LOG_LEVEL", "info"),
		LogFormat:            envOr("NEONPRO_LOG_FORMAT", "json"),
		PostgresURL:          os.Getenv("NEONPRO_POSTGRES_URL"),
		RedisURL:             os.Getenv("NEONPRO_REDIS_URL"),
		KafkaTopic:           envOr("NEONPRO_KAFKA_TOPIC", "neonpro.audit.records"),
		ClockSkew:            durationOr("NEONPRO_CLOCK_SKEW", 5*time.Minute),
		ConsentSweepInterval: durationOr("NEONPRO_CONSENT_SWEEP_INTERVAL", time.Hour),
		ChainVerifyInterval:  durationOr("NEONPRO_CHAIN_VERIFY_INTERVAL", 6*time.Hour),
		PurposePolicyFile:    os.Getenv("NEONPRO_PURPOSE_POLICY_FILE"),
	}
	if brokers := os.Getenv("NEONPRO_KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = pstrings.DedupeAndTrim(strings.Split(brokers, ","))
	}
	return cfg
}

// purposePolicyFile is the on-disk shape of the purpose catalog.
type purposePolicyFile struct {
	Purposes []struct {
		Purpose        string `json:"purpose"`
		LegalBasis     string `json:"legal_basis"`
		RetentionDays  int    `json:"retention_days"`
		DefaultTTLDays int    `json:"default_ttl_days"`
	} `json:"purposes"`
}

// LoadPurposeCatalog builds the purpose catalog from the configured file,
// or the built-in defaults when none is configured.
func (s Server) LoadPurposeCatalog() (*domain.PurposeCatalog, error) {
	if s.PurposePolicyFile == "" {
		return domain.NewPurposeCatalog(domain.DefaultPurposePolicies())
	}
	raw, err := os.ReadFile(s.PurposePolicyFile)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "read purpose policy file")
	}
	var file purposePolicyFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "parse purpose policy file")
	}
	policies := make([]domain.PurposePolicy, 0, len(file.Purposes))
	for _, p := range file.Purposes {
		policies = append(policies, domain.PurposePolicy{
			Purpose:    domain.ConsentPurpose(p.Purpose),
			LegalBasis: domain.LegalBasis(p.LegalBasis),
			Retention:  time.Duration(p.RetentionDays) * 24 * time.Hour,
			DefaultTTL: time.Duration(p.DefaultTTLDays) * 24 * time.Hour,
		})
	}
	return domain.NewPurposeCatalog(policies)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationOr(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
