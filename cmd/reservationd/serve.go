package main

import (
    "context"
    "os"
    "os/signal"
    "syscall"

    "github.com/spf13/cobra"

    "github.com/hamzaKhattat/reservation-engine/internal/httpapi"
    "github.com/hamzaKhattat/reservation-engine/pkg/logger"
)

func createServeCommand() *cobra.Command {
    return &cobra.Command{
        Use:   "serve",
        Short: "Run the HTTP intake server and background schedulers",
        RunE: func(cmd *cobra.Command, args []string) error {
            svc, err := bootstrap()
            if err != nil {
                return err
            }

            httpSrv := httpapi.New(httpapi.Config{
                Addr:       svc.cfg.HTTP.GetHTTPAddr(),
                HMACSecret: svc.cfg.Correlator.HMACSecret,
            }, svc.correlator)

            httpSrv.RegisterReadinessCheck("database", httpapi.CheckFunc(func(ctx context.Context) error {
                return svc.db.PingContext(ctx)
            }))
            httpSrv.RegisterLivenessCheck("process", httpapi.CheckFunc(func(ctx context.Context) error {
                return nil
            }))

            svc.scheduler.Start()

            if svc.cfg.Monitoring.Metrics.Enabled {
                go func() {
                    if err := svc.metrics.ServeHTTP(svc.cfg.Monitoring.Metrics.Port); err != nil {
                        logger.WithError(err).Warn("metrics server stopped")
                    }
                }()
            }

            go func() {
                if err := httpSrv.Start(); err != nil {
                    logger.WithError(err).Error("http api server stopped")
                }
            }()

            sigChan := make(chan os.Signal, 1)
            signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
            <-sigChan

            logger.Info("shutting down")
            svc.scheduler.Stop()

            ctx, cancel := context.WithTimeout(context.Background(), svc.cfg.HTTP.ShutdownTimeout)
            defer cancel()
            if err := httpSrv.Stop(ctx); err != nil {
                logger.WithError(err).Warn("error shutting down http api server")
            }

            logger.Info("shutdown complete")
            return nil
        },
    }
}
