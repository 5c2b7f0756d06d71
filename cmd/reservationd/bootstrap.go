package main

import (
    "time"

    "github.com/hamzaKhattat/reservation-engine/internal/billing"
    "github.com/hamzaKhattat/reservation-engine/internal/config"
    "github.com/hamzaKhattat/reservation-engine/internal/correlator"
    "github.com/hamzaKhattat/reservation-engine/internal/metrics"
    "github.com/hamzaKhattat/reservation-engine/internal/notify"
    "github.com/hamzaKhattat/reservation-engine/internal/reservation"
    "github.com/hamzaKhattat/reservation-engine/internal/scheduler"
    "github.com/hamzaKhattat/reservation-engine/internal/store"
    "github.com/hamzaKhattat/reservation-engine/pkg/logger"
)

// services bundles every wired component a CLI command might need, built
// once per invocation from the loaded configuration.
type services struct {
    cfg        *config.Config
    db         *store.DB
    cache      *store.Cache
    queries    *store.Queries
    metrics    *metrics.PrometheusMetrics
    sink       notify.Sink
    engine     *reservation.Engine
    biller     *billing.Biller
    correlator *correlator.Correlator
    scheduler  *scheduler.Scheduler
}

func bootstrap() (*services, error) {
    cfg, err := config.Load(configFile)
    if err != nil {
        return nil, err
    }

    if err := logger.Init(logger.Config{
        Level:  cfg.Monitoring.Logging.Level,
        Format: cfg.Monitoring.Logging.Format,
        Output: cfg.Monitoring.Logging.Output,
        File: logger.FileConfig{
            Enabled:    cfg.Monitoring.Logging.File.Enabled,
            Path:       cfg.Monitoring.Logging.File.Path,
            MaxSize:    cfg.Monitoring.Logging.File.MaxSize,
            MaxBackups: cfg.Monitoring.Logging.File.MaxBackups,
            MaxAge:     cfg.Monitoring.Logging.File.MaxAge,
            Compress:   cfg.Monitoring.Logging.File.Compress,
        },
    }); err != nil {
        return nil, err
    }

    if err := store.Initialize(store.Config{
        Driver:          cfg.Database.Driver,
        Host:            cfg.Database.Host,
        Port:            cfg.Database.Port,
        Username:        cfg.Database.Username,
        Password:        cfg.Database.Password,
        Database:        cfg.Database.Database,
        Charset:         cfg.Database.Charset,
        MaxOpenConns:    cfg.Database.MaxOpenConns,
        MaxIdleConns:    cfg.Database.MaxIdleConns,
        ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
        RetryAttempts:   cfg.Database.RetryAttempts,
        RetryDelay:      cfg.Database.RetryDelay,
    }); err != nil {
        return nil, err
    }

    if err := store.InitializeCache(store.CacheConfig{
        Host:         cfg.Redis.Host,
        Port:         cfg.Redis.Port,
        Password:     cfg.Redis.Password,
        DB:           cfg.Redis.DB,
        PoolSize:     cfg.Redis.PoolSize,
        MinIdleConns: cfg.Redis.MinIdleConns,
        MaxRetries:   cfg.Redis.MaxRetries,
        DialTimeout:  cfg.Redis.DialTimeout,
        ReadTimeout:  cfg.Redis.ReadTimeout,
        WriteTimeout: cfg.Redis.WriteTimeout,
    }, "reservation"); err != nil {
        logger.WithError(err).Warn("redis unavailable, continuing with cache disabled")
    }

    db := store.GetDB()
    cache := store.GetCache()
    queries := store.NewQueries(db, cache)
    m := metrics.NewPrometheusMetrics()

    sink := notify.NewGatewaySink(cfg.Notify.GatewayBaseURL, notify.DefaultRetryConfig())

    engine := reservation.NewEngine(db, cache, queries, m, reservation.Config{
        TimeoutMinutes: cfg.Reservation.TimeoutMinutes,
        LockTTL:        cfg.Redis.LockTTL,
    })
    biller := billing.NewBiller(db, queries, m, sink, billing.Config{
        RetirementUsers: cfg.Reservation.NumberRetirementUsers,
    })
    corr := correlator.New(queries, biller, m)
    sched := scheduler.New(queries, engine, corr, sink, m, scheduler.Config{
        ExpirySweepInterval:    cfg.Scheduler.ExpirySweepInterval,
        AutoSearchInitialDelay: cfg.Scheduler.AutoSearchInitialDelay,
        AutoSearchPollInterval: cfg.Scheduler.AutoSearchPollInterval,
        AutoSearchMaxDuration:  cfg.Scheduler.AutoSearchMaxDuration,
        CleanupInterval:        hoursToDuration(cfg.Scheduler.CleanupIntervalHours),
        MessageRetentionDays:   cfg.Scheduler.MessageRetentionDays,
        OrphanRetentionHours:   cfg.Scheduler.OrphanRetentionHours,
        BlockedRetentionHours:  cfg.Scheduler.BlockedRetentionHours,
    })
    engine.SetAutoSearchController(sched)
    corr.SetAutoSearchCanceler(sched)

    return &services{
        cfg:        cfg,
        db:         db,
        cache:      cache,
        queries:    queries,
        metrics:    m,
        sink:       sink,
        engine:     engine,
        biller:     biller,
        correlator: corr,
        scheduler:  sched,
    }, nil
}

func hoursToDuration(hours int) time.Duration {
    return time.Duration(hours) * time.Hour
}
