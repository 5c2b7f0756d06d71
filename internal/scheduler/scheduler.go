// Package scheduler runs the background timers that keep reservations,
// numbers, and provider messages consistent without a request driving
// them: expiry sweeps, auto-search for a reservation's verification code
// after it is created, retention cleanup, and orphan reprocessing
// (spec.md §4.7).
package scheduler

import (
    "context"
    "sync"
    "sync/atomic"
    "time"

    "github.com/hashicorp/go-multierror"

    "github.com/hamzaKhattat/reservation-engine/internal/correlator"
    "github.com/hamzaKhattat/reservation-engine/internal/metrics"
    "github.com/hamzaKhattat/reservation-engine/internal/models"
    "github.com/hamzaKhattat/reservation-engine/internal/notify"
    "github.com/hamzaKhattat/reservation-engine/internal/reservation"
    "github.com/hamzaKhattat/reservation-engine/internal/store"
    "github.com/hamzaKhattat/reservation-engine/pkg/logger"
)

// CleanupEnabled gates the retention job independently of MaintenanceFlag
// so an operator can pause destructive housekeeping without blocking
// reservations (spec.md §C.4).
var CleanupEnabled atomic.Bool

func init() {
    CleanupEnabled.Store(true)
}

// Config tunes every timer the scheduler owns.
type Config struct {
    ExpirySweepInterval    time.Duration // ~30s
    AutoSearchInitialDelay time.Duration // ~5s
    AutoSearchPollInterval time.Duration // ~2s
    AutoSearchMaxDuration  time.Duration // ~5m
    CleanupInterval        time.Duration // ~6h
    MessageRetentionDays   int
    OrphanRetentionHours   int
    BlockedRetentionHours  int
}

// Scheduler owns every background timer in the engine.
type Scheduler struct {
    queries     *store.Queries
    engine      *reservation.Engine
    correlator  *correlator.Correlator
    sink        notify.Sink
    metrics     metrics.MetricsInterface
    cfg         Config

    shutdown chan struct{}
    wg       sync.WaitGroup

    autoSearchMu    sync.Mutex
    autoSearchTasks map[int64]context.CancelFunc
}

func New(queries *store.Queries, engine *reservation.Engine, corr *correlator.Correlator, sink notify.Sink, m metrics.MetricsInterface, cfg Config) *Scheduler {
    return &Scheduler{
        queries:         queries,
        engine:          engine,
        correlator:      corr,
        sink:            sink,
        metrics:         m,
        cfg:             cfg,
        shutdown:        make(chan struct{}),
        autoSearchTasks: make(map[int64]context.CancelFunc),
    }
}

// Start launches every background loop. Stop must be called to release
// goroutines cleanly.
func (s *Scheduler) Start() {
    s.wg.Add(3)
    go s.expirySweepLoop()
    go s.cleanupLoop()
    go s.orphanReprocessLoop()
}

func (s *Scheduler) Stop() {
    close(s.shutdown)
    s.wg.Wait()
}

// --- Expiry sweep (spec.md §4.7 "Expiry sweep") -----------------------------

func (s *Scheduler) expirySweepLoop() {
    defer s.wg.Done()
    ticker := time.NewTicker(s.cfg.ExpirySweepInterval)
    defer ticker.Stop()

    for {
        select {
        case <-s.shutdown:
            return
        case <-ticker.C:
            s.sweepExpired(context.Background())
        }
    }
}

func (s *Scheduler) sweepExpired(ctx context.Context) {
    log := logger.WithContext(ctx)

    expired, err := s.queries.ListExpiredReservations(ctx, time.Now(), 200)
    if err != nil {
        log.WithError(err).Warn("failed to list expired reservations")
        return
    }
    if len(expired) == 0 {
        return
    }

    var result error
    swept := 0
    for _, r := range expired {
        if err := s.expireOne(ctx, r); err != nil {
            result = multierror.Append(result, err)
            continue
        }
        swept++
    }

    if result != nil {
        log.WithError(result).Warn("some reservations failed to expire cleanly")
    }
    if swept > 0 {
        log.WithField("count", swept).Info("swept expired reservations")
    }
}

func (s *Scheduler) expireOne(ctx context.Context, r *models.Reservation) error {
    if err := s.engine.Expire(ctx, r.ID); err != nil {
        return err
    }

    user, err := s.queries.GetUser(ctx, r.UserID)
    if err != nil {
        return nil // best effort notification
    }
    service, err := s.queries.GetService(ctx, r.ServiceID)
    if err != nil {
        return nil
    }

    s.sink.NotifyUser(ctx, user.ExternalID, notify.TemplateReservationExpired, map[string]string{
        "service": service.Name,
    }, user.LanguageTag)
    return nil
}

// --- Auto-search (spec.md §4.7 "Auto-search") -------------------------------

// StartAutoSearch launches a bounded per-reservation goroutine that
// calls retry on the caller's behalf after an initial delay, polling
// until retry returns nil, cancellation, or the max duration elapses.
// Only one auto-search task runs per reservation at a time.
func (s *Scheduler) StartAutoSearch(reservationID int64, retry func(ctx context.Context) error) {
    s.autoSearchMu.Lock()
    if _, running := s.autoSearchTasks[reservationID]; running {
        s.autoSearchMu.Unlock()
        return
    }
    ctx, cancel := context.WithTimeout(context.Background(), s.cfg.AutoSearchMaxDuration)
    s.autoSearchTasks[reservationID] = cancel
    s.autoSearchMu.Unlock()

    s.metrics.SetGauge("auto_search_tasks_active", float64(s.activeAutoSearchCount()), nil)

    go func() {
        defer func() {
            cancel()
            s.autoSearchMu.Lock()
            delete(s.autoSearchTasks, reservationID)
            s.autoSearchMu.Unlock()
            s.metrics.SetGauge("auto_search_tasks_active", float64(s.activeAutoSearchCount()), nil)
        }()

        select {
        case <-ctx.Done():
            return
        case <-time.After(s.cfg.AutoSearchInitialDelay):
        }

        ticker := time.NewTicker(s.cfg.AutoSearchPollInterval)
        defer ticker.Stop()

        for {
            if err := retry(ctx); err == nil {
                return
            }
            select {
            case <-ctx.Done():
                return
            case <-ticker.C:
            }
        }
    }()
}

// StartAutoSearchForReservation launches the correlator-backed retry body
// for one reservation. Kept here rather than in the caller since the
// retry closure needs the correlator reference the scheduler already
// holds (spec.md §4.7 "Auto-search").
func (s *Scheduler) StartAutoSearchForReservation(reservationID int64) {
    s.StartAutoSearch(reservationID, func(ctx context.Context) error {
        return s.correlator.AutoSearch(ctx, reservationID)
    })
}

// CancelAutoSearch stops a running auto-search task, used when the
// reservation it targets is canceled or completed out of band.
func (s *Scheduler) CancelAutoSearch(reservationID int64) {
    s.autoSearchMu.Lock()
    defer s.autoSearchMu.Unlock()
    if cancel, ok := s.autoSearchTasks[reservationID]; ok {
        cancel()
        delete(s.autoSearchTasks, reservationID)
    }
}

func (s *Scheduler) activeAutoSearchCount() int {
    s.autoSearchMu.Lock()
    defer s.autoSearchMu.Unlock()
    return len(s.autoSearchTasks)
}

// --- Retention cleanup (spec.md §4.7 "Cleanup") -----------------------------

func (s *Scheduler) cleanupLoop() {
    defer s.wg.Done()
    ticker := time.NewTicker(s.cfg.CleanupInterval)
    defer ticker.Stop()

    for {
        select {
        case <-s.shutdown:
            return
        case <-ticker.C:
            if CleanupEnabled.Load() {
                s.runCleanup(context.Background())
            }
        }
    }
}

func (s *Scheduler) runCleanup(ctx context.Context) {
    start := time.Now()
    log := logger.WithContext(ctx)

    processedCutoff := time.Now().AddDate(0, 0, -s.cfg.MessageRetentionDays)
    deleted, err := s.queries.DeleteMessagesOlderThan(ctx, models.MessageStatusProcessed, processedCutoff)
    if err != nil {
        log.WithError(err).Warn("failed to delete old processed messages")
    }

    orphanCutoff := time.Now().Add(-time.Duration(s.cfg.OrphanRetentionHours) * time.Hour)
    deletedOrphans, err := s.queries.DeleteMessagesOlderThan(ctx, models.MessageStatusOrphan, orphanCutoff)
    if err != nil {
        log.WithError(err).Warn("failed to delete old orphan messages")
    }

    blockedCutoff := time.Now().Add(-time.Duration(s.cfg.BlockedRetentionHours) * time.Hour)
    deletedBlocked, err := s.queries.DeleteBlockedMessagesOlderThan(ctx, blockedCutoff)
    if err != nil {
        log.WithError(err).Warn("failed to delete old blocked messages")
    }

    log.WithField("processed", deleted).
        WithField("orphans", deletedOrphans).
        WithField("blocked", deletedBlocked).
        Info("retention cleanup complete")

    s.metrics.ObserveHistogram("cleanup_duration", time.Since(start).Seconds(), nil)
}

// --- Orphan reprocessing (spec.md §4.7 "Orphan reprocessing") ---------------

func (s *Scheduler) orphanReprocessLoop() {
    defer s.wg.Done()
    ticker := time.NewTicker(s.cfg.ExpirySweepInterval)
    defer ticker.Stop()

    for {
        select {
        case <-s.shutdown:
            return
        case <-ticker.C:
            s.reprocessOrphans(context.Background())
        }
    }
}

func (s *Scheduler) reprocessOrphans(ctx context.Context) {
    log := logger.WithContext(ctx)

    orphans, err := s.queries.ListOrphanMessages(ctx, 50)
    if err != nil {
        log.WithError(err).Warn("failed to list orphan messages")
        return
    }

    for _, msg := range orphans {
        outcome, err := s.correlator.ReprocessOrphan(ctx, msg)
        if err != nil {
            log.WithError(err).WithField("message_id", msg.ID).Warn("orphan reprocessing failed")
            continue
        }
        if outcome == correlator.OutcomeProcessed {
            log.WithField("message_id", msg.ID).Info("orphan message resolved on reprocess")
        }
    }
}
