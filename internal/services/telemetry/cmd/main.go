package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"google.golang.org/grpc"

	"github.com/LeonardoBeccarini/agro_telemetry/internal/config"
	"github.com/LeonardoBeccarini/agro_telemetry/internal/services/alerting"
	"github.com/LeonardoBeccarini/agro_telemetry/internal/services/control"
	"github.com/LeonardoBeccarini/agro_telemetry/internal/services/ingestion"
	"github.com/LeonardoBeccarini/agro_telemetry/internal/services/persistence"
	"github.com/LeonardoBeccarini/agro_telemetry/internal/services/poller"
	"github.com/LeonardoBeccarini/agro_telemetry/internal/services/realtime"
	"github.com/LeonardoBeccarini/agro_telemetry/internal/services/registry"
	"github.com/LeonardoBeccarini/agro_telemetry/internal/services/telemetry"
	"github.com/LeonardoBeccarini/agro_telemetry/internal/services/threshold"
	"github.com/LeonardoBeccarini/agro_telemetry/internal/services/timeseries"
	"github.com/LeonardoBeccarini/agro_telemetry/internal/storage"
)

func main() {
	cfgPath := flag.String("config", "", "optional config file (yaml/json/toml)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// === Database ===
	db, err := storage.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	defer db.Close()

	// === InfluxDB (opzionale) ===
	var (
		writer  *timeseries.Writer
		mirror  persistence.Mirror
		history persistence.HistoryQuerier
	)
	if cfg.InfluxURL != "" {
		opts := influxdb2.DefaultOptions().
			SetBatchSize(uint(cfg.WriteBatchSize)).
			SetFlushInterval(uint(cfg.WriteFlushInterval.Milliseconds()))
		influx := influxdb2.NewClientWithOptions(cfg.InfluxURL, cfg.InfluxToken, opts)
		defer influx.Close()
		writer = timeseries.NewWriter(influx.WriteAPI(cfg.InfluxOrg, cfg.InfluxBucket), cfg.InfluxMeasurement)
		defer writer.Flush()
		mirror = writer
		history = timeseries.NewQuerier(influx, cfg.InfluxOrg, cfg.InfluxBucket, cfg.InfluxMeasurement)
		log.Printf("telemetry: mirroring readings to influx %s (bucket %s)", cfg.InfluxURL, cfg.InfluxBucket)
	}

	// === Live ===
	hub := realtime.NewHub(cfg.BroadcastBuffer)
	go hub.Run(ctx)

	// === Alerting ===
	opts := alerting.Options{
		RetryDelay:   cfg.StoreRetryDelay,
		CBFails:      cfg.CBSMTPFails,
		CBOpenMs:     cfg.CBSMTPOpenMs,
		CBIntervalMs: cfg.CBSMTPIntervalMs,
	}
	if cfg.SMTPHost != "" {
		mailer := alerting.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, cfg.SMTPFrom)
		if mailer.TLSPolicy, err = alerting.ParseTLSPolicy(cfg.SMTPTLS); err != nil {
			log.Fatalf("smtp: %v", err)
		}
		opts.Mailer = mailer
	}
	if len(cfg.AlertKafkaBrokers) > 0 {
		opts.Events = alerting.NewKafkaPublisher(cfg.AlertKafkaBrokers, cfg.AlertKafkaTopic)
	}
	notifier := alerting.NewNotifier(db, db, hub, opts)
	evaluator := threshold.NewEvaluator(db, notifier, cfg.AlertDedupWindow)

	// === Reading store + coda ===
	store := persistence.NewStore(db, hub, evaluator, mirror, persistence.Config{
		HistorySize: cfg.HistorySize,
		RetryDelay:  cfg.StoreRetryDelay,
	})
	queue := telemetry.NewQueue(store, cfg.Workers, cfg.QueueSize, cfg.EnqueueTimeout)
	queue.Start(ctx)

	// === Adapter ===
	adapter := ingestion.NewAdapter(ingestion.Config{
		Default:         cfg.Rabbit(),
		ControlTopics:   cfg.ControlSubTopics,
		ControlPubTopic: cfg.ControlPubTopic,
		UnboundTopics:   cfg.UnboundTopics,
		EnqueueTimeout:  cfg.EnqueueTimeout,
	}, ingestion.DefaultDial, queue, hub.EmitControl)
	if err := adapter.Start(ctx); err != nil {
		log.Fatalf("mqtt: %v", err)
	}
	defer adapter.Close()

	pl := poller.New(poller.Config{DefaultInterval: cfg.PollDefaultInterval, Timeout: cfg.PollTimeout}, &http.Client{}, queue)
	defer pl.StopAll()

	// === Registry ===
	reg := registry.New(db)
	if cfg.SensorsConfigPath != "" {
		n, err := reg.LoadSeed(ctx, cfg.SensorsConfigPath)
		if err != nil {
			log.Fatalf("registry: seed %s: %v", cfg.SensorsConfigPath, err)
		}
		log.Printf("registry: loaded %d sensors from %s", n, cfg.SensorsConfigPath)
	}
	sup := telemetry.NewSupervisor(reg, adapter, pl, cfg.RegistryRefresh)
	reg.OnChange(sup.Notify)
	go sup.Run(ctx)

	// === HTTP ===
	router := telemetry.NewRouter(telemetry.RouterDeps{
		Registry:       reg,
		Store:          store,
		History:        history,
		Alerts:         db,
		Hub:            hub,
		Health:         persistence.NewHealthHandler(adapter.Connected, db, writer),
		Ready:          persistence.NewReadyHandler(adapter.Connected, db, writer, 2*time.Second),
		AllowedOrigins: cfg.CORSAllowedOrigins,
	})
	hs := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Printf("telemetry: HTTP listening on :%d", cfg.HTTPPort)
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server error: %v", err)
		}
	}()

	// === gRPC ===
	addr := ":" + strconv.Itoa(cfg.GRPCPort)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatalf("listen %s: %v", addr, err)
	}
	grpcServer := grpc.NewServer()
	control.RegisterControlServiceServer(grpcServer, control.NewHandler(adapter, reg, cfg.StateChangeTemplate))
	go func() {
		log.Printf("telemetry: ControlService gRPC %s; template '%s'", addr, cfg.StateChangeTemplate)
		if err := grpcServer.Serve(lis); err != nil {
			log.Fatalf("gRPC serve error: %v", err)
		}
	}()

	// === graceful shutdown ===
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	<-sigc
	log.Println("shutting down...")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	_ = hs.Shutdown(shutdownCtx)
	grpcServer.GracefulStop()

	// prima si fermano le sorgenti, poi si svuota la coda e si attendono le notifiche
	pl.StopAll()
	adapter.Close()
	queue.Close()
	if err := notifier.Close(); err != nil {
		log.Printf("alerting: close: %v", err)
	}
	cancel()
}
