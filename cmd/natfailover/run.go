package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/natfailover/pkg/api"
	"github.com/cuemby/natfailover/pkg/clock"
	"github.com/cuemby/natfailover/pkg/cloud"
	"github.com/cuemby/natfailover/pkg/config"
	"github.com/cuemby/natfailover/pkg/controller"
	"github.com/cuemby/natfailover/pkg/events"
	"github.com/cuemby/natfailover/pkg/health"
	"github.com/cuemby/natfailover/pkg/log"
	"github.com/cuemby/natfailover/pkg/metrics"
	"github.com/cuemby/natfailover/pkg/power"
	"github.com/cuemby/natfailover/pkg/routes"
	"github.com/cuemby/natfailover/pkg/storage"
)

func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the failover controller on this NAT instance",
		Long: `Run the failover controller. The controller probes the peer every
pingInterval, takes over the peer's route tables and stops the peer once
pingCount probes in a row have failed, and hands the tables back after the
peer has answered for a full recovery window.

Both members of the pair run the same command against the same pair file;
each resolves its own role from --node, NATFAILOVER_NODE or, with
--node auto, the instance metadata service.`,
		Args: cobra.NoArgs,
		RunE: runController,
	}

	addConfigFlags(runCmd)
	runCmd.Flags().Bool("dry-run", false, "Drive an in-memory control plane instead of EC2")

	return runCmd
}

func runController(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(ctx, cmd)
	if err != nil {
		return err
	}
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	log.Init(log.Config{
		Level:      log.Level(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
	})
	log.SetNode(string(cfg.Self.Identity), string(cfg.Peer.Identity))
	logger := log.Logger

	metrics.SetVersion(Version)

	// Control plane
	var cp cloud.ControlPlane
	if dryRun {
		logger.Warn().Msg("Dry run: actions go to an in-memory control plane")
		cp = cloud.NewMemoryForPair(cfg.Self, cfg.Peer)
	} else {
		ec2cp, err := cloud.NewEC2ControlPlane(ctx, cloud.EC2Options{
			Region:   cfg.Region,
			Endpoint: cfg.Endpoint,
		})
		if err != nil {
			metrics.RegisterComponent("control_plane", false, err.Error())
			return fmt.Errorf("failed to create EC2 client: %w", err)
		}
		cp = ec2cp
	}
	metrics.RegisterComponent("control_plane", true, "configured")

	// Peer probe
	checker, err := health.NewChecker(cfg)
	if err != nil {
		return fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	}
	if err := checkProbe(ctx, checker); err != nil {
		return err
	}
	monitor := health.NewMonitor(checker, cfg.PingTimeout, log.WithComponent("probe"))

	// Events
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	// Journal failures never keep the controller from running
	var journal storage.Journal
	boltJournal, err := storage.NewBoltJournal(cfg.DataDir, storage.BoltOptions{
		Retention: cfg.JournalRetention,
	})
	if err != nil {
		logger.Error().Err(err).Str("data_dir", cfg.DataDir).Msg("Failed to open event journal, continuing without it")
		metrics.RegisterComponent("journal", false, err.Error())
	} else {
		defer boltJournal.Close()
		journal = boltJournal
		metrics.RegisterComponent("journal", true, "open")

		sub := broker.Subscribe()
		defer broker.Unsubscribe(sub)
		go boltJournal.Consume(ctx, sub, log.WithComponent("journal"))
	}

	ctrl := controller.New(cfg, controller.Deps{
		Prober: monitor,
		Routes: routes.NewMutator(cp, cfg, log.WithComponent("routes")),
		Power:  power.NewController(cp, clock.Real{}, cfg, log.WithComponent("power")),
		Clock:  clock.Real{},
		Broker: broker,
		Logger: log.WithComponent("controller"),
	})

	// Status server
	if cfg.StatusAddr != "" {
		server := api.NewHealthServer(ctrl, journal, Version, log.WithComponent("status"))
		go func() {
			if err := server.Start(ctx, cfg.StatusAddr); err != nil {
				logger.Error().Err(err).Str("addr", cfg.StatusAddr).Msg("Status server failed")
			}
		}()
	}

	return ctrl.Run(ctx)
}

// checkProbe makes sure this node can send the configured probe before the
// loop starts. A node that cannot probe would count its own socket errors
// as peer failures.
func checkProbe(ctx context.Context, checker health.Checker) error {
	sc, ok := checker.(health.SelfChecker)
	if !ok {
		return nil
	}
	if err := sc.SelfCheck(ctx); err != nil {
		return fmt.Errorf("%w: cannot send peer probes (grant CAP_NET_RAW or widen net.ipv4.ping_group_range): %w",
			config.ErrInvalidConfig, err)
	}
	return nil
}
