// Package reservation implements the phone-number reservation engine:
// allocation, change, cancellation, and status lookup (spec.md §4.3).
package reservation

import (
    "context"
    "database/sql"
    "fmt"
    "sync/atomic"
    "time"

    "github.com/hamzaKhattat/reservation-engine/internal/metrics"
    "github.com/hamzaKhattat/reservation-engine/internal/models"
    "github.com/hamzaKhattat/reservation-engine/internal/store"
    "github.com/hamzaKhattat/reservation-engine/pkg/errors"
    "github.com/hamzaKhattat/reservation-engine/pkg/logger"
)

// MaintenanceFlag gates every user-facing mutating operation. It is
// process-wide, toggled only by an admin operation, and read without
// locks (spec.md §5 "Shared-resource policy").
var MaintenanceFlag atomic.Bool

// AutoSearchController starts and stops the scheduler's per-reservation
// auto-search task (spec.md §4.7 "Auto-search"). Defined here rather than
// imported from the scheduler package so this package doesn't need to
// depend on it — the scheduler already depends on this one for Expire.
// Satisfied by *scheduler.Scheduler.
type AutoSearchController interface {
    StartAutoSearchForReservation(reservationID int64)
    CancelAutoSearch(reservationID int64)
}

// Engine implements the reservation lifecycle described in spec.md §4.3.
type Engine struct {
    db      *store.DB
    cache   *store.Cache
    queries *store.Queries
    metrics metrics.MetricsInterface

    timeout time.Duration
    lockTTL time.Duration

    autoSearch AutoSearchController
}

// SetAutoSearchController wires the scheduler in after both are
// constructed (the scheduler's own constructor takes this Engine, so the
// dependency can't be supplied to NewEngine without a cycle).
func (e *Engine) SetAutoSearchController(c AutoSearchController) {
    e.autoSearch = c
}

// Config configures an Engine.
type Config struct {
    TimeoutMinutes int
    LockTTL        time.Duration
}

func NewEngine(db *store.DB, cache *store.Cache, queries *store.Queries, m metrics.MetricsInterface, cfg Config) *Engine {
    lockTTL := cfg.LockTTL
    if lockTTL <= 0 {
        lockTTL = 5 * time.Second
    }
    return &Engine{
        db:      db,
        cache:   cache,
        queries: queries,
        metrics: m,
        timeout: time.Duration(cfg.TimeoutMinutes) * time.Minute,
        lockTTL: lockTTL,
    }
}

func lockKey(serviceID int64, countryCode string) string {
    return fmt.Sprintf("reservation:allocate:%d:%s", serviceID, countryCode)
}

// Reserve allocates the oldest eligible AVAILABLE number for
// (serviceId, countryCode) that the user has never completed a
// reservation against, and returns a new WAITING_CODE reservation.
func (e *Engine) Reserve(ctx context.Context, userID, serviceID int64, countryCode string) (*models.Reservation, error) {
    if MaintenanceFlag.Load() {
        return nil, errors.New(errors.ErrInvalidState, "reservation engine is in maintenance mode").WithStatusCode(503)
    }

    unlock, err := e.cache.Lock(ctx, lockKey(serviceID, countryCode), e.lockTTL)
    if err != nil {
        return nil, errors.Wrap(err, errors.ErrInternal, "failed to acquire allocation lock")
    }
    defer unlock()

    var reservation *models.Reservation
    err = e.db.Transaction(ctx, func(tx *sql.Tx) error {
        excluded, err := e.usedNumberIDs(ctx, tx, userID, serviceID, countryCode)
        if err != nil {
            return err
        }

        number, err := e.queries.FindAndLockAvailableNumber(ctx, tx, serviceID, countryCode, excluded)
        if err != nil {
            return err
        }

        expiresAt := time.Now().Add(e.timeout)
        if err := e.queries.MarkNumberReserved(ctx, tx, number.ID, userID, expiresAt); err != nil {
            return err
        }

        id, err := e.queries.CreateReservation(ctx, tx, &models.Reservation{
            UserID:    userID,
            ServiceID: serviceID,
            NumberID:  number.ID,
            ExpiredAt: expiresAt,
        })
        if err != nil {
            return err
        }

        reservation, err = e.queries.GetReservationForUpdate(ctx, tx, id)
        return err
    })

    if err != nil {
        e.metrics.IncrementCounter("reservations_failed_total", map[string]string{"reason": string(errors.Code(err))})
        return nil, err
    }

    e.metrics.IncrementCounter("reservations_created_total", map[string]string{"service_id": fmt.Sprint(serviceID), "country_code": countryCode})
    logger.WithContext(ctx).WithFields(map[string]interface{}{
        "reservation_id": reservation.ID,
        "user_id":        userID,
        "number_id":      reservation.NumberID,
    }).Info("reservation created")

    if e.autoSearch != nil {
        e.autoSearch.StartAutoSearchForReservation(reservation.ID)
    }

    return reservation, nil
}

// usedNumberIDs returns every Number id this user has ever COMPLETED a
// reservation against, for the exclusion set in the allocation algorithm.
func (e *Engine) usedNumberIDs(ctx context.Context, tx *sql.Tx, userID, serviceID int64, countryCode string) ([]int64, error) {
    rows, err := tx.QueryContext(ctx, `
        SELECT DISTINCT r.number_id
        FROM reservations r
        JOIN numbers n ON n.id = r.number_id
        WHERE r.user_id = ? AND r.status = ? AND n.service_id = ? AND n.country_code = ?`,
        userID, models.ReservationStatusCompleted, serviceID, countryCode)
    if err != nil {
        return nil, errors.Wrap(err, errors.ErrDatabase, "failed to compute used numbers")
    }
    defer rows.Close()

    var ids []int64
    for rows.Next() {
        var id int64
        if err := rows.Scan(&id); err != nil {
            continue
        }
        ids = append(ids, id)
    }
    return ids, nil
}

// ChangeNumber releases the reservation's current Number per the release
// policy, then reallocates, excluding the old Number. If no alternative
// exists, the original reservation is restored atomically.
func (e *Engine) ChangeNumber(ctx context.Context, reservationID int64) (*models.Reservation, error) {
    if MaintenanceFlag.Load() {
        return nil, errors.New(errors.ErrInvalidState, "reservation engine is in maintenance mode").WithStatusCode(503)
    }

    var result *models.Reservation
    err := e.db.Transaction(ctx, func(tx *sql.Tx) error {
        res, err := e.queries.GetReservationForUpdate(ctx, tx, reservationID)
        if err != nil {
            return err
        }
        if res.Status != models.ReservationStatusWaitingCode {
            return errors.New(errors.ErrInvalidState, "reservation is not awaiting a code")
        }

        oldNumber, err := e.queries.GetNumberForUpdate(ctx, tx, res.NumberID)
        if err != nil {
            return err
        }

        if err := releaseNumber(ctx, tx, e.queries, oldNumber); err != nil {
            return err
        }

        excluded := []int64{oldNumber.ID}
        newNumber, err := e.queries.FindAndLockAvailableNumber(ctx, tx, res.ServiceID, oldNumber.CountryCode, excluded)
        if err != nil {
            if errors.Is(err, errors.ErrNoInventory) {
                // restore the original reservation atomically
                if restoreErr := e.queries.MarkNumberReserved(ctx, tx, oldNumber.ID, res.UserID, res.ExpiredAt); restoreErr != nil {
                    return restoreErr
                }
                return errors.New(errors.ErrNoAlternative, "no alternative number available")
            }
            return err
        }

        expiresAt := time.Now().Add(e.timeout)
        if err := e.queries.MarkNumberReserved(ctx, tx, newNumber.ID, res.UserID, expiresAt); err != nil {
            return err
        }
        if err := e.queries.UpdateReservationNumber(ctx, tx, reservationID, newNumber.ID, expiresAt); err != nil {
            return err
        }

        result, err = e.queries.GetReservationForUpdate(ctx, tx, reservationID)
        return err
    })

    if err != nil {
        return nil, err
    }

    if e.autoSearch != nil {
        // the old task's number is gone; cancel and restart under the
        // same reservation id so a stale closure can't keep polling a
        // released number.
        e.autoSearch.CancelAutoSearch(reservationID)
        e.autoSearch.StartAutoSearchForReservation(reservationID)
    }

    return result, nil
}

// ChangeCountry cancels the existing reservation (releasing its number
// per policy) so the caller can restart allocation against a new country.
func (e *Engine) ChangeCountry(ctx context.Context, reservationID int64) error {
    if MaintenanceFlag.Load() {
        return errors.New(errors.ErrInvalidState, "reservation engine is in maintenance mode").WithStatusCode(503)
    }
    return e.cancelInternal(ctx, reservationID)
}

// Cancel transitions a WAITING_CODE reservation to CANCELED and applies
// the number release policy.
func (e *Engine) Cancel(ctx context.Context, reservationID int64) error {
    if MaintenanceFlag.Load() {
        return errors.New(errors.ErrInvalidState, "reservation engine is in maintenance mode").WithStatusCode(503)
    }
    return e.cancelInternal(ctx, reservationID)
}

func (e *Engine) cancelInternal(ctx context.Context, reservationID int64) error {
    err := e.db.Transaction(ctx, func(tx *sql.Tx) error {
        res, err := e.queries.GetReservationForUpdate(ctx, tx, reservationID)
        if err != nil {
            return err
        }
        if res.Status != models.ReservationStatusWaitingCode {
            return errors.New(errors.ErrInvalidState, "reservation is not awaiting a code")
        }

        number, err := e.queries.GetNumberForUpdate(ctx, tx, res.NumberID)
        if err != nil {
            return err
        }

        if err := releaseNumber(ctx, tx, e.queries, number); err != nil {
            return err
        }

        return e.queries.CancelReservation(ctx, tx, reservationID)
    })

    if err != nil {
        return err
    }

    if e.autoSearch != nil {
        e.autoSearch.CancelAutoSearch(reservationID)
    }

    e.metrics.IncrementCounter("reservations_canceled_total", nil)
    return nil
}

// Expire transitions a WAITING_CODE reservation to EXPIRED and applies
// the number release policy. Unlike Cancel, it is driven by the
// scheduler's expiry sweep rather than a user action and so is not
// gated by MaintenanceFlag — a maintenance window must not let stale
// reservations pin numbers indefinitely. It does not cancel an in-flight
// auto-search task directly: spec.md §4.7 has that task observe the
// status change on its own next poll and self-terminate, since expiry
// and the sweep that calls this already race the task by design.
func (e *Engine) Expire(ctx context.Context, reservationID int64) error {
    err := e.db.Transaction(ctx, func(tx *sql.Tx) error {
        res, err := e.queries.GetReservationForUpdate(ctx, tx, reservationID)
        if err != nil {
            return err
        }
        if res.Status != models.ReservationStatusWaitingCode {
            return errors.New(errors.ErrInvalidState, "reservation is not awaiting a code")
        }

        number, err := e.queries.GetNumberForUpdate(ctx, tx, res.NumberID)
        if err != nil {
            return err
        }

        if err := releaseNumber(ctx, tx, e.queries, number); err != nil {
            return err
        }

        return e.queries.ExpireReservation(ctx, tx, reservationID)
    })

    if err != nil {
        return err
    }

    e.metrics.IncrementCounter("reservations_expired_total", nil)
    return nil
}

// releaseNumber applies the number release policy (spec.md §4.3): a
// number that has ever seen a code on it is burned and retired; otherwise
// it returns to the available pool.
func releaseNumber(ctx context.Context, tx *sql.Tx, q *store.Queries, number *models.Number) error {
    if number.CodeReceivedAt != nil {
        return q.RetireNumber(ctx, tx, number.ID)
    }
    return q.ReleaseNumber(ctx, tx, number.ID)
}

// ReservationStatus is the result of a Status lookup.
type ReservationStatus struct {
    Reservation   *models.Reservation
    RemainingTime time.Duration
}

// Status returns the current state of a reservation and its remaining
// WAITING_CODE time (always allowed, even under maintenance mode).
func (e *Engine) Status(ctx context.Context, reservationID int64) (*ReservationStatus, error) {
    res, err := e.queries.GetReservation(ctx, reservationID)
    if err != nil {
        return nil, err
    }

    remaining := time.Until(res.ExpiredAt)
    if remaining < 0 {
        remaining = 0
    }

    return &ReservationStatus{Reservation: res, RemainingTime: remaining}, nil
}
