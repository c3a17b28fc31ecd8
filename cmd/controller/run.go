package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/tqchen/yarn-ec2/internal/api"
	"github.com/tqchen/yarn-ec2/internal/catalog"
	"github.com/tqchen/yarn-ec2/internal/controller"
	"github.com/tqchen/yarn-ec2/internal/gateway"
	"github.com/tqchen/yarn-ec2/internal/logging"
	"github.com/tqchen/yarn-ec2/internal/metrics"
	"github.com/tqchen/yarn-ec2/internal/userdata"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the reconciliation loop",
	Args:  cobra.NoArgs,

	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		logger, logFile, err := logging.New(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
		if err != nil {
			return err
		}
		defer logFile.Close()
		log := logging.Component(logger, "main")
		log.WithFields(logrus.Fields{
			"version": version,
			"commit":  commit,
			"cluster": cfg.Cluster,
		}).Info("Controller starting up")

		ctx := setupInterrupts(cmd.Context(), log)

		clients, err := gateway.NewClients(ctx, cfg.Region)
		if err != nil {
			return err
		}
		arn, err := gateway.VerifyIdentity(ctx, clients.STS)
		if err != nil {
			return err
		}
		log.WithField("caller", arn).Info("AWS credentials verified")

		registry, err := catalog.NewRegistry(catalog.NewLoader(cfg.CatalogPath))
		if err != nil {
			return err
		}
		if cfg.AMIHVM != "" {
			registry.OverrideAMI(catalog.VirtualizationHVM, cfg.AMIHVM)
		}
		if cfg.AMIPVM != "" {
			registry.OverrideAMI(catalog.VirtualizationPVM, cfg.AMIPVM)
		}

		template, err := userdata.LoadTemplate(ctx, cfg.UserDataTemplate, clients.S3)
		if err != nil {
			return err
		}

		gw := gateway.New(&gateway.Config{
			Cluster:       cfg.Cluster,
			KeyPair:       cfg.KeyPair,
			EBSVolumeSize: int32(cfg.EBSVolumeSize),
			RateLimit:     cfg.RateLimit,
			RateBurst:     cfg.RateBurst,
			PriceClasses:  []string{cfg.InstanceClass},
		}, clients.EC2, registry, logging.Component(logger, "gateway"))

		master, err := gw.LookupMaster(ctx)
		if err != nil {
			return err
		}
		groupID, err := gw.LookupWorkerGroup(ctx)
		if err != nil {
			return err
		}
		gw.SetBootstrap(userdata.NewRenderer(template, registry), master.Address())
		log.WithField("group_id", groupID).Info("Found worker security group")

		scope, closer, promHandler := metrics.InitScope(&metrics.Config{
			Prometheus:    cfg.Prometheus,
			Prefix:        "yarn_ec2",
			FlushInterval: metrics.DefaultConfig().FlushInterval,
		}, logging.Component(logger, "metrics"))
		defer closer.Close()

		ctlConfig := controller.DefaultConfig()
		ctlConfig.PollInterval = cfg.PollInterval
		ctlConfig.PriceWindow = cfg.PriceWindow
		ctlConfig.CallTimeout = cfg.CallTimeout
		ctlConfig.Zone = cfg.Zone

		ctl, err := controller.New(ctlConfig, gw, cfg.Target(), master,
			controller.WithLogger(logrus.NewEntry(logger)),
			controller.WithMetrics(scope.SubScope("controller")),
		)
		if err != nil {
			return err
		}

		if cfg.APIEnabled {
			serverConfig := api.DefaultServerConfig()
			serverConfig.Port = cfg.APIPort
			server := api.NewServer(serverConfig, ctl, registry, promHandler, logging.Component(logger, "api"))

			go func() {
				if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.WithError(err).Error("Status server failed")
				}
			}()
			defer func() {
				if err := server.Shutdown(context.Background()); err != nil {
					log.WithError(err).Warn("Status server shutdown failed")
				}
			}()
		}

		if err := ctl.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("run controller: %w", err)
		}

		log.Info("Shutdown complete")
		return nil
	},
}
