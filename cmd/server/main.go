package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"golang.org/x/sync/errgroup"

	"buoy-svr/internal/archive"
	"buoy-svr/internal/config"
	"buoy-svr/internal/dispatcher"
	"buoy-svr/internal/grpcclient"
	"buoy-svr/internal/httpapi"
	"buoy-svr/internal/influx"
	"buoy-svr/internal/link"
	"buoy-svr/internal/mqtt"
	"buoy-svr/internal/observability"
	"buoy-svr/internal/server"
	"buoy-svr/internal/store"
	"buoy-svr/internal/utilities"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "err", err)
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg.AppEnv, cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("Starting buoy-svr...", "tcp_port", cfg.TCPPort, "http_port", cfg.MetricsPort)

	if err := run(cfg, logger); err != nil {
		logger.Error("exited", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d := dispatcher.New(logger)
	deps := httpapi.Deps{Sinks: d.SinkNames}

	// Redis is started before the server so the first frames are cached.
	if cfg.RedisAddr != "" {
		rdb, err := store.NewRedis(ctx, cfg.RedisAddr, cfg.RedisDB, cfg.RedisTTL)
		if err != nil {
			return err
		}
		defer rdb.Close()
		d.Register(rdb)
		deps.Last = rdb
	} else {
		logger.Info("redis disabled")
	}

	if cfg.SQLitePath != "" {
		db, err := archive.Open(cfg.SQLitePath)
		if err != nil {
			return err
		}
		defer db.Close()
		repo := archive.NewRepository(db)
		d.Register(repo)
		deps.History = repo
	} else {
		logger.Info("sqlite archive disabled")
	}

	if cfg.InfluxURL != "" {
		client := influxdb2.NewClient(cfg.InfluxURL, cfg.InfluxToken)
		defer client.Close()
		writeAPI := client.WriteAPI(cfg.InfluxOrg, cfg.InfluxBucket)
		defer writeAPI.Flush()
		go func() {
			for err := range writeAPI.Errors() {
				observability.SinkErrors.WithLabelValues("influx").Inc()
				logger.Error("influx write failed", "err", err)
			}
		}()
		d.Register(influx.NewSink(writeAPI))
	} else {
		logger.Info("influx disabled")
	}

	if cfg.GRPCServer != "" {
		gc, err := grpcclient.NewGRPCClient(cfg.GRPCServer)
		if err != nil {
			return err
		}
		defer gc.Close()
		d.Register(gc)
	} else {
		logger.Info("grpc forwarder disabled")
	}

	eg, ctx := errgroup.WithContext(ctx)

	var onConnect func(link.DeviceInfo)
	if cfg.ProxyAddr != "" {
		l := link.New(cfg.ProxyAddr, logger)
		d.Register(l)
		onConnect = l.SendDeviceConnect
		eg.Go(func() error { return l.Run(ctx) })
	} else {
		logger.Info("link disabled")
	}

	if cfg.MQTTBroker != "" {
		mc := mqtt.NewClient(mqtt.Options{
			Broker:       cfg.MQTTBroker,
			ClientID:     cfg.MQTTClientID,
			UplinkTopic:  cfg.MQTTUplinkTopic,
			PublishTopic: cfg.MQTTPublishTopic,
		}, d, logger)
		if err := mc.Connect(ctx); err != nil {
			return err
		}
		defer mc.Disconnect()
		d.Register(mc)
	} else {
		logger.Info("mqtt disabled")
	}

	var frameLog *utilities.FrameLog
	if cfg.FrameLogDir != "" {
		fl, err := utilities.NewFrameLog(cfg.FrameLogDir)
		if err != nil {
			return err
		}
		frameLog = fl
	}

	tcp := server.New(d, logger, server.Options{
		IdleTimeout: cfg.TCPIdleTimeout,
		FrameLog:    frameLog,
		OnConnect:   onConnect,
	})
	deps.Devices = tcp

	api := httpapi.New(":"+cfg.MetricsPort, deps, logger)

	eg.Go(func() error { return tcp.ListenAndServe(ctx, ":"+cfg.TCPPort) })
	eg.Go(func() error { return api.Run(ctx) })

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
