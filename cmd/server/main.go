package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/GrupoUS/neonpro-sub006/internal/consent"
	consentmemory "github.com/GrupoUS/neonpro-sub006/internal/consent/store/memory"
	consentredis "github.com/GrupoUS/neonpro-sub006/internal/consent/store/redis"
	"github.com/GrupoUS/neonpro-sub006/internal/event"
	"github.com/GrupoUS/neonpro-sub006/internal/event/gate"
	"github.com/GrupoUS/neonpro-sub006/internal/ledger"
	"github.com/GrupoUS/neonpro-sub006/internal/ledger/publisher"
	ledgermemory "github.com/GrupoUS/neonpro-sub006/internal/ledger/store/memory"
	ledgerpostgres "github.com/GrupoUS/neonpro-sub006/internal/ledger/store/postgres"
	"github.com/GrupoUS/neonpro-sub006/internal/platform/config"
	"github.com/GrupoUS/neonpro-sub006/internal/platform/httpserver"
	"github.com/GrupoUS/neonpro-sub006/internal/platform/logger"
	"github.com/GrupoUS/neonpro-sub006/internal/platform/metrics"
	"github.com/GrupoUS/neonpro-sub006/internal/platform/postgres"
	platformredis "github.com/GrupoUS/neonpro-sub006/internal/platform/redis"
	httptransport "github.com/GrupoUS/neonpro-sub006/internal/transport/http"
	"github.com/GrupoUS/neonpro-sub006/pkg/domain"
)

// gatedPurposes maps data-processing event types to the consent purpose
// they require. Consent transitions and professional registry events are
// not themselves gated.
var gatedPurposes = map[event.Type]domain.ConsentPurpose{
	event.TypePatientCreated:       domain.PurposeTreatment,
	event.TypePatientUpdated:       domain.PurposeTreatment,
	event.TypeAppointmentScheduled: domain.PurposeTreatment,
	event.TypeAppointmentCompleted: domain.PurposeTreatment,
	event.TypeAppointmentCancelled: domain.PurposeTreatment,
}

// main wires high-level dependencies and keeps the server lifecycle small.
// Business logic lives in the internal services packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	catalog, err := cfg.LoadPurposeCatalog()
	if err != nil {
		log.Fatal().Err(err).Msg("load purpose catalog")
	}

	m := metrics.New()

	healthChecks := map[string]func(context.Context) error{}

	// Ledger substrate: Postgres when configured, in-memory otherwise.
	var logStore ledger.LogStore
	if cfg.PostgresURL != "" {
		pool, err := postgres.New(ctx, cfg.PostgresURL)
		if err != nil {
			log.Fatal().Err(err).Msg("connect postgres")
		}
		defer pool.Close()
		healthChecks["postgres"] = pool.Ping
		pgStore := ledgerpostgres.NewStore(pool)
		if err := pgStore.EnsureSchema(ctx); err != nil {
			log.Fatal().Err(err).Msg("ensure ledger schema")
		}
		logStore = pgStore
	} else {
		log.Warn().Msg("no postgres configured, audit ledger is in-memory")
		logStore = ledgermemory.NewStore()
	}

	ledgerOpts := []ledger.Option{}
	var kafkaPub *publisher.Kafka
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPub, err = publisher.NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic, log)
		if err != nil {
			log.Fatal().Err(err).Msg("connect kafka")
		}
		defer kafkaPub.Close()
		ledgerOpts = append(ledgerOpts, ledger.WithPublisher(kafkaPub))
	}
	ledgerSvc := ledger.NewService(logStore, log, m, ledgerOpts...)

	eventGate := gate.New(ledgerSvc, log, gate.WithClockSkew(cfg.ClockSkew))

	// Consent substrate: Redis when configured, in-memory otherwise.
	var consentStore consent.Store
	if cfg.RedisURL != "" {
		rdb, err := platformredis.New(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("connect redis")
		}
		defer rdb.Close()
		healthChecks["redis"] = rdb.Health
		consentStore = consentredis.NewStore(rdb.Client)
	} else {
		log.Warn().Msg("no redis configured, consent state is in-memory")
		consentStore = consentmemory.NewStore()
	}
	consentSvc := consent.NewService(consentStore, eventGate, catalog, log, m)

	handler := httptransport.NewHandler(eventGate, ledgerSvc, consentSvc, catalog, gatedPurposes, log)
	for name, check := range healthChecks {
		handler.AddHealthCheck(name, check)
	}
	srv := httpserver.New(cfg.Addr, httptransport.NewRouter(handler))

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", cfg.Addr).Msg("starting compliance ledger")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error { return consentSvc.RunDenialAuditor(ctx) })

	if cfg.ConsentSweepInterval > 0 {
		g.Go(func() error { return consentSvc.RunExpirySweeper(ctx, cfg.ConsentSweepInterval) })
	}

	if cfg.ChainVerifyInterval > 0 {
		g.Go(func() error { return runChainVerifier(ctx, ledgerSvc, cfg.ChainVerifyInterval, log) })
	}

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
	log.Info().Msg("shutdown complete")
}

// runChainVerifier re-walks every partition on a timer. A mismatch seals
// the partition; VerifyChain logs and counts it, operators unseal after
// investigating.
func runChainVerifier(ctx context.Context, svc *ledger.Service, interval time.Duration, log zerolog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, p := range domain.AggregateTypes() {
				report, err := svc.VerifyChain(ctx, p, 0, 0)
				if err != nil {
					log.Error().Err(err).Str("partition", p.String()).Msg("chain verification failed")
					continue
				}
				if !report.OK {
					log.Error().
						Str("partition", p.String()).
						Uint64("broken_at", report.BrokenAt).
						Str("reason", report.Reason).
						Msg("chain verification found a break")
				}
			}
		}
	}
}
