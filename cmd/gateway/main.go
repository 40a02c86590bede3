package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/trustfabric/device-trust-gateway/client"
	"github.com/trustfabric/device-trust-gateway/cmd/flags"
	"github.com/trustfabric/device-trust-gateway/directory"
	"github.com/trustfabric/device-trust-gateway/httpserver"
	"github.com/trustfabric/device-trust-gateway/proxy"
	"github.com/trustfabric/device-trust-gateway/reconciler"
	"github.com/trustfabric/device-trust-gateway/sshutil"
	"github.com/trustfabric/device-trust-gateway/tasks"
	"github.com/trustfabric/device-trust-gateway/trust"
)

var appFlags = append([]cli.Flag{
	flags.ListenAddrFlag,
	flags.LocalAddrFlag,
	flags.LocalUserFlag,
	flags.LocalPassphraseFlag,
	flags.MachineIDFileFlag,
	flags.SSHKeyDirFlag,
	flags.StubAPIFlag,
	flags.TaskIntervalFlag,
	flags.LogServiceFlagFn("device-trust-gateway"),
}, flags.CommonFlags...)

func main() {
	app := &cli.App{
		Name:  "device-trust-gateway",
		Usage: "Serve the trusted device API and signing proxy",
		Flags: appFlags,
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)

			var local trust.LocalAPI = client.NewLocalClient(
				cCtx.String(flags.LocalAddrFlag.Name),
				cCtx.String(flags.LocalUserFlag.Name),
				cCtx.String(flags.LocalPassphraseFlag.Name),
				logger,
			)
			var remote trust.RemoteAPI = client.NewRemoteClient(logger)
			if cCtx.Bool(flags.StubAPIFlag.Name) {
				logger.Warn("Serving against in-memory stub management APIs")
				local = client.NewStubLocalAPI()
				remote = client.NewStubRemoteAPI()
			}

			dir := directory.New(local, cCtx.String(flags.MachineIDFileFlag.Name), logger)
			keys := sshutil.NewStore(cCtx.String(flags.SSHKeyDirFlag.Name))
			provisioner := sshutil.NewProvisioner(keys, logger)
			cleanup := trust.NewHostSet()
			rec := reconciler.New(local, remote, dir, provisioner, cleanup, logger)
			prox := proxy.New(dir, logger)

			cfg := flags.ConfigureServer(cCtx, logger)
			srv, err := httpserver.New(cfg, httpserver.NewHandler(dir, rec, prox, keys, logger))
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			taskCtx, stopTasks := context.WithCancel(context.Background())
			interval := time.Duration(cCtx.Int64(flags.TaskIntervalFlag.Name)) * time.Second
			runner := tasks.NewRunner(dir, local, remote, cleanup, rec, interval, logger)
			go runner.Run(taskCtx)

			srv.RunInBackground()

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)
			<-exit
			logger.Info("Shutting down")

			stopTasks()
			srv.Shutdown()
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
