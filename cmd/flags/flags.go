// Package flags holds the shared CLI flag definitions and the helpers
// turning parsed flags into component configuration.
package flags

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/trustfabric/device-trust-gateway/common"
	"github.com/trustfabric/device-trust-gateway/httpserver"
	"github.com/trustfabric/device-trust-gateway/sshutil"
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

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger) *httpserver.HTTPServerConfig {
	metricsAddr := cCtx.String(MetricsAddrFlag.Name)
	enablePprof := cCtx.Bool(PprofFlag.Name)
	drainDuration := time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second

	return &httpserver.HTTPServerConfig{
		ListenAddr:               cCtx.String(ListenAddrFlag.Name),
		MetricsAddr:              metricsAddr,
		Log:                      logger,
		EnablePprof:              enablePprof,
		DrainDuration:            drainDuration,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
	}
}

var ListenAddrFlag = &cli.StringFlag{
	Name:  "listen-addr",
	Value: "127.0.0.1:8080",
	Usage: "address to listen on for API",
}
var LocalAddrFlag = &cli.StringFlag{
	Name:  "local-api-addr",
	Value: "http://localhost:8100",
	Usage: "base URL of the local management REST API",
}
var LocalUserFlag = &cli.StringFlag{
	Name:  "local-api-user",
	Value: "admin",
	Usage: "basic-auth user for the local management API",
}
var LocalPassphraseFlag = &cli.StringFlag{
	Name:  "local-api-passphrase",
	Value: "",
	Usage: "basic-auth passphrase for the local management API",
}
var MachineIDFileFlag = &cli.StringFlag{
	Name:  "machine-id-file",
	Value: "/machineId",
	Usage: "file holding the local machine identity, device-info endpoint is the fallback",
}
var SSHKeyDirFlag = &cli.StringFlag{
	Name:  "ssh-key-dir",
	Value: sshutil.DefaultKeyDir,
	Usage: "directory holding SSH identity files for device declarations",
}
var StubAPIFlag = &cli.BoolFlag{
	Name:  "stub-apis",
	Value: false,
	Usage: "serve against in-memory stub management APIs instead of the platform",
}
var TaskIntervalFlag = &cli.Int64Flag{
	Name:  "task-interval-seconds",
	Value: 120,
	Usage: "period of the device monitor and credential cleanup tasks",
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
