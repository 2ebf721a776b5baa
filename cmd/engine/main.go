package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ANIKETSHETTY47/environmental-safety-engine/internal/broker"
	"github.com/ANIKETSHETTY47/environmental-safety-engine/internal/cloud"
	"github.com/ANIKETSHETTY47/environmental-safety-engine/internal/config"
	"github.com/ANIKETSHETTY47/environmental-safety-engine/internal/database"
	"github.com/ANIKETSHETTY47/environmental-safety-engine/internal/domain"
	"github.com/ANIKETSHETTY47/environmental-safety-engine/internal/events"
	httpHandlers "github.com/ANIKETSHETTY47/environmental-safety-engine/internal/http"
	"github.com/ANIKETSHETTY47/environmental-safety-engine/internal/notify"
	"github.com/ANIKETSHETTY47/environmental-safety-engine/internal/relay"
	"github.com/ANIKETSHETTY47/environmental-safety-engine/internal/repository"
	"github.com/ANIKETSHETTY47/environmental-safety-engine/internal/service"
)

func setupLogging(level, format string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	if format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	setupLogging(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts, err := service.OptionsFromConfig(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("engine config invalid")
	}
	opts.Logger = log.Logger

	client, err := broker.Connect(cfg.MQTT.Broker, cfg.MQTT.ClientID, func(mqtt.Client) {
		log.Info().Str("broker", cfg.MQTT.Broker).Msg("mqtt connected")
	})
	if err != nil {
		log.Fatal().Err(err).Msg("mqtt connect")
	}
	defer client.Disconnect(250)
	pub := broker.Publisher{Client: client}

	router := relay.NewRouter(relay.NewMQTTExecutor(pub, cfg.MQTT.RelayTopicPrefix))
	var httpDeps httpHandlers.Deps

	switch {
	case config.UseCloudServices():
		awsCfg, err := cloud.LoadConfig(ctx, config.AWSRegion())
		if err != nil {
			log.Fatal().Err(err).Msg("aws config")
		}
		if arn := config.SNSTopicArn(); arn != "" {
			opts.Notifier = cloud.NewSNSClient(awsCfg, arn, log.Logger)
		}
		if arn := cfg.AWS.EmergencyTopicArn; arn != "" {
			router.Route(cloud.NewSNSClient(awsCfg, arn, log.Logger), domain.ActionEmergencyNotify)
		}
		if fn := cfg.AWS.DroneFunction; fn != "" {
			router.Route(cloud.NewDroneClient(awsCfg, fn), domain.ActionDroneDeploy)
		}
		if table := cfg.AWS.DeliveryTable; table != "" {
			store := cloud.NewDeliveryStore(awsCfg, table)
			opts.Deliveries = store
			httpDeps.Deliveries = store
		}
		if bucket := config.S3Bucket(); bucket != "" {
			httpDeps.Archiver = cloud.NewReportArchive(awsCfg, bucket)
		}
		log.Info().Str("region", config.AWSRegion()).Msg("cloud collaborators enabled")
	case cfg.Notify.Kind == "webhook" && cfg.Notify.WebhookURL != "":
		hook := notify.NewWebhook(cfg.Notify.WebhookURL, cfg.Notify.Timeout, log.Logger)
		opts.Notifier = hook
		router.Route(hook, domain.ActionEmergencyNotify, domain.ActionDroneDeploy)
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.NewLog(log.Logger)
	}
	if cfg.Notify.Kind == "log" && !config.UseCloudServices() {
		router.Route(notify.NewLog(log.Logger), domain.ActionEmergencyNotify, domain.ActionDroneDeploy)
	}
	opts.Executor = router

	engine, err := service.New(opts)
	if err != nil {
		log.Fatal().Err(err).Msg("engine init")
	}

	var repos *repository.Repos
	if cfg.DB.Enabled {
		db, err := database.Connect(cfg.DB.DSN)
		if err != nil {
			log.Fatal().Err(err).Msg("db connect failed")
		}
		defer db.Close()
		if err := database.Migrate(ctx, db); err != nil {
			log.Fatal().Err(err).Msg("db migrate failed")
		}
		repos = repository.New(db)
	}
	bootstrap(ctx, engine, repos, cfg)

	sinksDone := startSinks(ctx, engine, repos, pub, cfg)

	if err := broker.Subscribe(client, cfg.MQTT.ReadingsTopic, 1, readingHandler(ctx, engine)); err != nil {
		log.Fatal().Err(err).Msg("subscribe failed")
	}
	if err := broker.Subscribe(client, cfg.MQTT.TanksTopic, 1, tankHandler(ctx, engine)); err != nil {
		log.Fatal().Err(err).Msg("subscribe failed")
	}

	config.Watch(func(c *config.Config) {
		table, err := service.ThresholdTableFromConfig(c.Thresholds)
		if err != nil {
			log.Error().Err(err).Msg("threshold reload rejected")
			return
		}
		engine.ReloadThresholds(table)
	})

	app := fiber.New(fiber.Config{DisableStartupMessage: true, Immutable: true})
	httpHandlers.Register(app, engine, httpDeps)

	go func() {
		log.Info().Str("addr", cfg.API.Addr).Msg("api listening")
		if err := app.Listen(cfg.API.Addr); err != nil {
			log.Error().Err(err).Msg("server exit")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Error().Err(err).Msg("api shutdown")
	}
	client.Unsubscribe(cfg.MQTT.ReadingsTopic, cfg.MQTT.TanksTopic).WaitTimeout(2 * time.Second)
	engine.Close()
	engine.Bus().Close()
	waitSinks(sinksDone, 15*time.Second)
}

// waitSinks blocks until every forwarder drained its buffer or the deadline passes.
func waitSinks(done []<-chan struct{}, timeout time.Duration) {
	deadline := time.After(timeout)
	for _, d := range done {
		select {
		case <-d:
		case <-deadline:
			log.Warn().Msg("event sinks did not drain before shutdown deadline")
			return
		}
	}
}

// bootstrap registers tanks and restores open alerts plus recent history.
// Persisted tanks win over the config registry, which only seeds tanks the
// database has not seen.
func bootstrap(ctx context.Context, engine *service.Engine, repos *repository.Repos, cfg *config.Config) {
	known := make(map[string]bool)
	if repos != nil {
		tanks, err := repos.LoadTanks(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("load tanks")
		}
		for _, t := range tanks {
			if err := engine.RegisterTank(t); err != nil {
				log.Error().Err(err).Str("tank_id", t.TankID).Msg("skip persisted tank")
				continue
			}
			known[t.TankID] = true
		}
		alerts, err := repos.LoadAlerts(ctx, time.Now().UTC().Add(-cfg.Compliance.History))
		if err != nil {
			log.Fatal().Err(err).Msg("load alerts")
		}
		engine.RestoreAlerts(alerts)
		log.Info().Int("tanks", len(tanks)).Int("alerts", len(alerts)).Msg("state restored")
	}
	for _, t := range service.TanksFromConfig(cfg) {
		if known[t.TankID] {
			continue
		}
		if err := engine.RegisterTank(t); err != nil {
			log.Fatal().Err(err).Str("tank_id", t.TankID).Msg("invalid tank in config")
		}
	}
}

func startSinks(ctx context.Context, engine *service.Engine, repos *repository.Repos, pub broker.Publisher, cfg *config.Config) []<-chan struct{} {
	buffer := cfg.Events.Buffer
	var done []<-chan struct{}
	if repos != nil {
		done = append(done, events.Forward(ctx, engine.Bus(), repository.NewSink(repos), buffer))
	}
	for _, name := range cfg.Events.Sinks {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "mqtt":
			done = append(done, events.Forward(ctx, engine.Bus(), events.NewMQTTSink(pub, cfg.MQTT.EventsTopicPrefix), buffer))
		case "redis":
			rdb := redis.NewClient(&redis.Options{Addr: cfg.Events.RedisAddr})
			if err := rdb.Ping(ctx).Err(); err != nil {
				log.Error().Err(err).Str("addr", cfg.Events.RedisAddr).Msg("redis unavailable, sink disabled")
				_ = rdb.Close()
				continue
			}
			done = append(done, closeAfter(events.Forward(ctx, engine.Bus(), events.NewRedisSink(rdb, cfg.Events.RedisChannel), buffer), rdb.Close))
		case "kafka":
			w := events.NewKafkaWriter(cfg.Events.KafkaBrokers, cfg.Events.KafkaTopic)
			done = append(done, closeAfter(events.Forward(ctx, engine.Bus(), events.NewKafkaSink(w), buffer), w.Close))
		default:
			log.Warn().Str("sink", name).Msg("unknown event sink ignored")
			continue
		}
		log.Info().Str("sink", name).Msg("event sink started")
	}
	return done
}

// closeAfter releases a sink's client once its forwarder has drained.
func closeAfter(forwarded <-chan struct{}, closeFn func() error) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-forwarded
		if err := closeFn(); err != nil {
			log.Warn().Err(err).Msg("sink client close")
		}
	}()
	return done
}

func readingHandler(ctx context.Context, engine *service.Engine) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		payload, err := service.DecodePayload(msg.Payload())
		if err != nil {
			log.Warn().Err(err).Str("topic", msg.Topic()).Msg("reading rejected")
			return
		}
		res, err := engine.IngestReading(ctx, payload)
		if err != nil {
			log.Warn().Err(err).Str("kind", domain.ErrorKind(err)).Str("topic", msg.Topic()).Msg("ingest failed")
			return
		}
		for _, u := range res.Updates {
			log.Debug().Str("alert_id", u.Alert.ID).Str("kind", string(u.Kind)).Msg("alert updated")
		}
	}
}

func tankHandler(ctx context.Context, engine *service.Engine) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		id, ok := broker.TankIDFromTopic(msg.Topic())
		if !ok {
			log.Warn().Str("topic", msg.Topic()).Msg("unexpected tank topic")
			return
		}
		var m broker.LevelMessage
		if err := json.Unmarshal(msg.Payload(), &m); err != nil || m.LevelPct == nil {
			log.Warn().Err(err).Str("tank_id", id).Msg("tank level rejected")
			return
		}
		if _, err := engine.UpdateTankLevel(ctx, id, *m.LevelPct, m.Timestamp); err != nil {
			log.Warn().Err(err).Str("kind", domain.ErrorKind(err)).Str("tank_id", id).Msg("tank update failed")
		}
	}
}
