// Package billing implements the atomic completion of a reservation once
// a verification code has been correlated to it (spec.md §4.5).
package billing

import (
    "context"
    "database/sql"
    "fmt"
    "time"

    "github.com/shopspring/decimal"

    "github.com/hamzaKhattat/reservation-engine/internal/metrics"
    "github.com/hamzaKhattat/reservation-engine/internal/models"
    "github.com/hamzaKhattat/reservation-engine/internal/notify"
    "github.com/hamzaKhattat/reservation-engine/internal/store"
    "github.com/hamzaKhattat/reservation-engine/pkg/errors"
    "github.com/hamzaKhattat/reservation-engine/pkg/logger"
)

// Config configures the Biller.
type Config struct {
    RetirementUsers int // NUMBER_RETIREMENT_USERS, default 3
}

// Biller completes reservations and maintains the balance ledger.
type Biller struct {
    db      *store.DB
    queries *store.Queries
    metrics metrics.MetricsInterface
    sink    notify.Sink
    cfg     Config
}

func NewBiller(db *store.DB, queries *store.Queries, m metrics.MetricsInterface, sink notify.Sink, cfg Config) *Biller {
    if cfg.RetirementUsers <= 0 {
        cfg.RetirementUsers = 3
    }
    return &Biller{db: db, queries: queries, metrics: m, sink: sink, cfg: cfg}
}

// Complete bills a reservation for the supplied code (spec.md §4.5).
// It returns errors.ErrInvalidState if the reservation is not
// WAITING_CODE, and errors.ErrInsufficientFunds if the user's balance
// could not cover the price. On insufficient funds the reservation is
// committed as EXPIRED and the number release policy is applied (retired
// if a code has landed on the number, otherwise returned to AVAILABLE);
// otherwise nothing is committed on error.
func (b *Biller) Complete(ctx context.Context, reservationID int64, code string) error {
    var (
        insufficientFunds bool
        lowStock          bool
        price             decimal.Decimal
        newBalance        decimal.Decimal
        phone             string
        serviceName       string
        serviceID         int64
        countryCode       string
        remaining         int
        userExternalID    string
        userLanguage      string
    )

    err := b.db.Transaction(ctx, func(tx *sql.Tx) error {
        res, err := b.queries.GetReservationForUpdate(ctx, tx, reservationID)
        if err != nil {
            return err
        }
        if res.Status != models.ReservationStatusWaitingCode {
            return errors.New(errors.ErrInvalidState, "reservation is not awaiting a code")
        }

        user, err := b.queries.GetUserForUpdate(ctx, tx, res.UserID)
        if err != nil {
            return err
        }
        number, err := b.queries.GetNumberForUpdate(ctx, tx, res.NumberID)
        if err != nil {
            return err
        }
        service, err := b.queries.GetService(ctx, res.ServiceID)
        if err != nil {
            return err
        }

        serviceID = service.ID
        serviceName = service.Name
        phone = number.PhoneNumber
        userExternalID = user.ExternalID
        userLanguage = user.LanguageTag
        price = number.Price(service)

        if user.Balance.LessThan(price) {
            insufficientFunds = true
            if err := b.queries.ExpireReservation(ctx, tx, reservationID); err != nil {
                return err
            }
            if number.CodeReceivedAt != nil {
                return b.queries.RetireNumber(ctx, tx, number.ID)
            }
            return b.queries.ReleaseNumber(ctx, tx, number.ID)
        }

        newBalance, err = b.queries.AdjustBalance(ctx, tx, user.ID, price.Neg())
        if err != nil {
            return err
        }

        if err := b.queries.CompleteReservation(ctx, tx, reservationID, code); err != nil {
            return err
        }
        if err := b.queries.MarkNumberCompleted(ctx, tx, number.ID, time.Now()); err != nil {
            return err
        }

        distinctUsers, err := b.queries.CountDistinctCompletedUsers(ctx, tx, number.ID)
        if err != nil {
            return err
        }
        if distinctUsers >= b.cfg.RetirementUsers {
            if err := b.queries.RetireNumber(ctx, tx, number.ID); err != nil {
                return err
            }
        }

        if err := b.queries.CreateTransaction(ctx, tx, &models.Transaction{
            UserID: user.ID,
            Kind:   models.TransactionKindPurchase,
            Amount: price,
            Reason: fmt.Sprintf("%s:%s:%s", models.ReasonServicePurchase, service.Name, number.PhoneNumber),
        }); err != nil {
            return err
        }

        countryCode = number.CountryCode
        remaining, err = b.queries.CountAvailableNumbers(ctx, service.ID, number.CountryCode)
        if err != nil {
            return err
        }
        lowStock = remaining == 0

        return nil
    })

    if err != nil {
        return err
    }

    if insufficientFunds {
        b.metrics.IncrementCounter("reservations_failed_total", map[string]string{"reason": string(errors.ErrInsufficientFunds)})
        b.sink.NotifyUser(ctx, userExternalID, notify.TemplateInsufficientBalance, map[string]string{
            "phone":   phone,
            "service": serviceName,
            "price":   price.String(),
        }, userLanguage)
        return errors.New(errors.ErrInsufficientFunds, "balance insufficient to complete reservation").WithStatusCode(402)
    }

    b.metrics.IncrementCounter("reservations_completed_total", map[string]string{"service_id": fmt.Sprint(serviceID)})
    b.metrics.ObserveHistogram("billing_amount", priceFloat(price), map[string]string{"service_id": fmt.Sprint(serviceID)})
    b.metrics.SetGauge("numbers_available", float64(remaining), map[string]string{"service_id": fmt.Sprint(serviceID), "country_code": countryCode})

    logger.WithContext(ctx).WithFields(map[string]interface{}{
        "reservation_id": reservationID,
        "amount":         price.String(),
    }).Info("reservation billed")

    b.sink.NotifyUser(ctx, userExternalID, notify.TemplateCodeDelivered, map[string]string{
        "phone":       phone,
        "service":     serviceName,
        "code":        code,
        "amount":      price.String(),
        "new_balance": newBalance.String(),
    }, userLanguage)

    if lowStock {
        b.sink.NotifyOperator(ctx, notify.TemplateLowStockAlert, map[string]string{
            "service": serviceName,
        })
    }

    return nil
}

func priceFloat(d decimal.Decimal) float64 {
    f, _ := d.Float64()
    return f
}
