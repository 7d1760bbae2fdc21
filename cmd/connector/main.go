package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/oauth2"

	"eddie.energy/internal/authz"
	"eddie.energy/internal/config"
	"eddie.energy/internal/dataneed"
	"eddie.energy/internal/httpapi"
	"eddie.energy/internal/lifecycle"
	"eddie.energy/internal/obs"
	"eddie.energy/internal/outbox"
	"eddie.energy/internal/permission"
	"eddie.energy/internal/polling"
	"eddie.energy/internal/scheduler"
	"eddie.energy/internal/store"
	"eddie.energy/internal/store/pg"
	"eddie.energy/internal/stream"
	"eddie.energy/internal/timeout"
	"eddie.energy/internal/upstream"
	"eddie.energy/internal/upstream/sim"
)

var version = "0.3.1"

func main() {
	obs.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	obs.InitBuildInfo(version, cfg.Region)

	// Storage: relational when a DSN is configured, in-memory otherwise
	// (local development and the simulated region).
	var (
		repo    store.Repository
		needs   dataneed.Service
		tokens  authz.TokenStore
		readyDB httpapi.ReadyProbe
		pgStore *pg.Store
	)
	if cfg.PgDSN != "" {
		pgStore, err = pg.Open(cfg.PgDSN)
		if err != nil {
			log.Fatalf("open store: %v", err)
		}
		repo = pgStore
		needs = pg.NewDataNeeds(pgStore.DB())
		tokens = pgStore
		readyDB = httpapi.ReadyProbe{DB: pgStore.DB()}
	} else {
		repo = store.NewInMemory()
		needs = dataneed.NewInMemory(demoNeeds()...)
		tokens = authz.NewInMemoryTokenStore()
	}

	statuses := stream.New[permission.ConnectionStatusMessage](64)
	readings := stream.New[polling.IdentifiableMeteringData](64)

	machine := permission.NewMachine(permission.DefaultTable())
	source := permission.DataSource{
		CountryCode:     cfg.CountryCode,
		AdministratorID: cfg.AdministratorID,
	}
	ob := outbox.New(repo, machine, statuses, source)

	var authzMgr *authz.Manager
	if cfg.OAuthClientID != "" {
		authzMgr = authz.NewManager(oauth2.Config{
			ClientID:     cfg.OAuthClientID,
			ClientSecret: cfg.OAuthClientSecret,
			RedirectURL:  cfg.OAuthRedirectURL,
			Scopes:       cfg.OAuthScopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.OAuthAuthURL,
				TokenURL: cfg.OAuthTokenURL,
			},
		}, []byte(cfg.StateSigningKey), tokens, ob)
	}

	var client upstream.Client
	if cfg.UpstreamBaseURL != "" {
		client = upstream.NewHTTPClient(cfg.UpstreamBaseURL,
			upstream.WithRateLimit(cfg.UpstreamRPS, int(cfg.UpstreamRPS)+1))
	} else {
		client = sim.New()
	}

	poller := polling.NewService(repo, client, ob, needs, readings,
		polling.DefaultRetryPolicy(), cfg.NegotiateGranularity)
	expirer := timeout.NewService(repo, ob, cfg.TimeoutAfter)
	lc := lifecycle.NewService(needs, ob, authzMgr)

	api := httpapi.New(readyDB, version, lc, authzMgr, statuses)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      0, // SSE stream stays open
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting eddie-connector %s (region %s) on %s", version, cfg.Region, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	runCtx, cancel := context.WithCancel(context.Background())
	sched := scheduler.New()
	sweepsDone := make(chan struct{})
	go func() {
		sched.Run(runCtx,
			scheduler.Every("polling", cfg.PollInterval, poller.Sweep),
			scheduler.Every("timeout", cfg.TimeoutInterval, expirer.Sweep),
		)
		close(sweepsDone)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	cancel()
	// Run drains in-flight sweeps; wait for it before closing the store.
	<-sweepsDone

	ctx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	_ = srv.Shutdown(ctx)
	if pgStore != nil {
		_ = pgStore.Close()
	}
	log.Println("Stopped")
}

// demoNeeds backs the in-memory setup with the same needs the SQL seeds
// register.
func demoNeeds() []dataneed.DataNeed {
	return []dataneed.DataNeed{
		{
			ID:              "demo-historical-electricity",
			Kind:            dataneed.ValidatedHistoricalData,
			EnergyType:      dataneed.Electricity,
			Granularities:   []dataneed.Granularity{dataneed.PT15M, dataneed.PT1H, dataneed.P1D},
			MaxLookbackDays: 365,
		},
		{
			ID:              "demo-historical-gas",
			Kind:            dataneed.ValidatedHistoricalData,
			EnergyType:      dataneed.Gas,
			Granularities:   []dataneed.Granularity{dataneed.P1D, dataneed.P1M},
			MaxLookbackDays: 730,
		},
		{
			ID:         "demo-accounting-point",
			Kind:       dataneed.AccountingPointData,
			EnergyType: dataneed.Electricity,
		},
	}
}
