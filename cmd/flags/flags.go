package flags

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/tee-key-rotation/api"
	"github.com/ruteri/tee-key-rotation/common"
	"github.com/ruteri/tee-key-rotation/interfaces"
	"github.com/ruteri/tee-key-rotation/rotation"
	"github.com/urfave/cli/v2"
)

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJsonFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUidFlag.Name)
	logService := cCtx.String("log-service")

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger, listenAddr string) *api.HTTPServerConfig {
	metricsAddr := cCtx.String(MetricsAddrFlag.Name)
	enablePprof := cCtx.Bool(PprofFlag.Name)
	drainDuration := time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second

	return &api.HTTPServerConfig{
		ListenAddr:               listenAddr,
		MetricsAddr:              metricsAddr,
		Log:                      logger,
		EnablePprof:              enablePprof,
		DrainDuration:            drainDuration,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             60 * time.Second,
	}
}

// RotationConfig builds the scheduler configuration from RotationFlags.
func RotationConfig(cCtx *cli.Context) (rotation.Config, error) {
	mask, err := interfaces.ParseEnableMask(cCtx.String(EnableMaskFlag.Name))
	if err != nil {
		return rotation.Config{}, err
	}
	cfg := rotation.Config{
		EnableMask: mask,
		Threshold: rotation.ThresholdConfig{
			AttackerAdvantage: cCtx.Uint64(AttackerAdvantageFlag.Name),
			Delta:             cCtx.Uint64(ThresholdDeltaFlag.Name),
			LowerLimit:        cCtx.Uint64(LowerLimitFlag.Name),
			UpperLimit:        cCtx.Uint64(UpperLimitFlag.Name),
			InternalLimit:     cCtx.Uint64(InternalLimitFlag.Name),
		},
		Timeout:      cCtx.Duration(RotationTimeoutFlag.Name),
		TickInterval: cCtx.Duration(TickIntervalFlag.Name),
	}
	return cfg, cfg.Validate()
}

var LayoutFlag = &cli.StringFlag{
	Name:  "layout",
	Value: "gen1",
	Usage: "hardware generation keyspace layout: 'gen1' or 'gen2'",
}
var EnableMaskFlag = &cli.StringFlag{
	Name:  "enable-mask",
	Value: "all",
	Usage: "key pairs under rotation: 'all', 'kernel', 'user', 'none' or a hex bitmask (bit 2*space+tier)",
}
var AttackerAdvantageFlag = &cli.Uint64Flag{
	Name:  "attacker-advantage",
	Value: rotation.DefaultAttackerAdvantage,
	Usage: "log2 of the tolerated attacker advantage, selects the upper usage limit (50-65)",
}
var ThresholdDeltaFlag = &cli.Uint64Flag{
	Name:  "threshold-delta",
	Value: rotation.DefaultThresholdDelta,
	Usage: "work units between the lower and upper usage limits",
}
var LowerLimitFlag = &cli.Uint64Flag{
	Name:  "lower-limit",
	Usage: "override the lower usage limit in work units",
}
var UpperLimitFlag = &cli.Uint64Flag{
	Name:  "upper-limit",
	Usage: "override the upper usage limit in work units",
}
var InternalLimitFlag = &cli.Uint64Flag{
	Name:  "internal-limit",
	Usage: "request limit of kernel-tier pairs in work units, defaults to the lower limit",
}
var RotationTimeoutFlag = &cli.DurationFlag{
	Name:  "rotation-timeout",
	Value: rotation.DefaultTimeout,
	Usage: "how long user-tier consumers may take to quiesce before rotation is forced",
}
var TickIntervalFlag = &cli.DurationFlag{
	Name:  "tick-interval",
	Value: rotation.DefaultTickInterval,
	Usage: "scheduler period",
}

var RotationFlags = []cli.Flag{
	LayoutFlag,
	EnableMaskFlag,
	AttackerAdvantageFlag,
	ThresholdDeltaFlag,
	LowerLimitFlag,
	UpperLimitFlag,
	InternalLimitFlag,
	RotationTimeoutFlag,
	TickIntervalFlag,
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}

var LogServiceFlagFn = func(service string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "log-service",
		Value: service,
		Usage: "add 'service' tag to logs",
	}
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}
var MetricsAddrFlag = &cli.StringFlag{
	Name:  "metrics-addr",
	Value: "127.0.0.1:8090",
	Usage: "address to listen on for Prometheus metrics",
}

var CommonFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	PprofFlag,
	DrainSecondsFlag,
	MetricsAddrFlag,
}
