package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ruteri/tee-key-rotation/api/consumerhandler"
	"github.com/ruteri/tee-key-rotation/api/rotationhandler"
	"github.com/ruteri/tee-key-rotation/cmd/flags"
	"github.com/ruteri/tee-key-rotation/common"
	"github.com/ruteri/tee-key-rotation/engine"
	"github.com/ruteri/tee-key-rotation/httpserver"
	"github.com/ruteri/tee-key-rotation/kms"
	"github.com/ruteri/tee-key-rotation/metrics"
	"github.com/ruteri/tee-key-rotation/notify"
	"github.com/ruteri/tee-key-rotation/rotation"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

var serviceFlags = []cli.Flag{
	&cli.StringFlag{
		Name:  "listen-addr",
		Value: "127.0.0.1:8080",
		Usage: "address to listen on for API",
	},
	&cli.StringFlag{
		Name:     "key-source",
		Required: true,
		EnvVars:  []string{"KEY_SOURCE"},
		Usage:    "seed source URI: local://<hex master key>, vault://host/mount/key or awskms://region/key-id",
	},
	&cli.IntFlag{
		Name:  "workers",
		Value: 2,
		Usage: "number of concurrent rotations",
	},
	&cli.IntFlag{
		Name:  "mailbox-size",
		Value: notify.DefaultMailboxSize,
		Usage: "undelivered events kept per remote consumer",
	},
	&cli.BoolFlag{
		Name:  "log-events",
		Value: false,
		Usage: "log every event sent to consumers",
	},
	flags.LogServiceFlagFn("tee-key-rotation"),
}

func main() {
	app := &cli.App{
		Name:  "rotationd",
		Usage: "Rotate engine encryption keys based on consumer usage",
		Flags: append(append(serviceFlags, flags.RotationFlags...), flags.CommonFlags...),
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)

			rotationCfg, err := flags.RotationConfig(cCtx)
			if err != nil {
				logger.Error("Invalid rotation configuration", "err", err)
				return err
			}

			layout, err := engine.NewLayout(cCtx.String(flags.LayoutFlag.Name))
			if err != nil {
				logger.Error("Invalid layout", "err", err)
				return err
			}

			seedSource, err := kms.NewSeedSourceFactory(logger).SeedSourceFor(cCtx.String("key-source"))
			if err != nil {
				logger.Error("Failed to create seed source", "err", err)
				return err
			}
			logger.Info("Seed source configured", "location", seedSource.LocationURI())

			slots := engine.NewSlotBank(layout, logger)
			deriver, err := kms.NewDeriver(seedSource, slots, logger)
			if err != nil {
				logger.Error("Failed to create key deriver", "err", err)
				return err
			}

			metricsSrv, err := metrics.New(common.PackageName, cCtx.String(flags.MetricsAddrFlag.Name))
			if err != nil {
				logger.Error("Failed to create metrics server", "err", err)
				return err
			}

			mailboxes := notify.NewChannelTransport(cCtx.Int("mailbox-size"), logger)
			if err := metricsSrv.Rotation.RegisterDroppedNotifications(common.PackageName, metricsSrv.Registry(), mailboxes.Dropped); err != nil {
				return err
			}
			transport := notify.FanOut{mailboxes}
			if cCtx.Bool("log-events") {
				transport = append(transport, notify.NewLogTransport(logger))
			}

			scheduler, err := rotation.NewScheduler(rotationCfg, layout, deriver, transport, logger,
				rotation.WithWorkQueue(rotation.NewAsyncQueue(cCtx.Int("workers"), len(layout.KeySpaces())*2)),
				rotation.WithObserver(metricsSrv.Rotation))
			if err != nil {
				logger.Error("Failed to create rotation scheduler", "err", err)
				return err
			}
			defer scheduler.Close()

			serverCfg := flags.ConfigureServer(cCtx, logger, cCtx.String("listen-addr"))
			server, err := httpserver.New(serverCfg, metricsSrv,
				rotationhandler.NewHandler(scheduler, logger),
				consumerhandler.NewHandler(scheduler, mailboxes, logger))
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger.Info("Starting server")
			server.RunInBackground()

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return scheduler.Run(gctx)
			})

			logger.Info("Server is running, press Ctrl+C to stop")
			<-gctx.Done()
			logger.Info("Shutdown signal received")

			server.Shutdown()
			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Rotation scheduler failed", "err", err)
				return err
			}
			logger.Info("Server shutdown complete")
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
