// Package correlator binds inbound SMS text pushed from the chat gateway
// to the reservation awaiting it (spec.md §4.4).
package correlator

import (
    "context"
    "crypto/sha256"
    "encoding/hex"
    "fmt"
    "time"

    "github.com/hamzaKhattat/reservation-engine/internal/billing"
    "github.com/hamzaKhattat/reservation-engine/internal/extract"
    "github.com/hamzaKhattat/reservation-engine/internal/metrics"
    "github.com/hamzaKhattat/reservation-engine/internal/models"
    "github.com/hamzaKhattat/reservation-engine/internal/phonenumber"
    "github.com/hamzaKhattat/reservation-engine/internal/store"
    "github.com/hamzaKhattat/reservation-engine/pkg/errors"
    "github.com/hamzaKhattat/reservation-engine/pkg/logger"
)

// Inbound is the tuple the chat gateway pushes per spec.md §6.
type Inbound struct {
    GroupChatID     string
    SenderID        string
    Text            string
    ExternalMsgID   string
    ReceivedAt      time.Time
}

// Outcome tags the terminal result of processing one Inbound, replacing
// the "silent drop" control flow of the source with explicit variants
// (spec.md §9).
type Outcome string

const (
    OutcomeDuplicate Outcome = "DUPLICATE"
    OutcomeDropped   Outcome = "DROPPED" // no ServiceGroup bound to this chat
    OutcomeRejected  Outcome = "REJECTED"
    OutcomeOrphan    Outcome = "ORPHAN"
    OutcomeProcessed Outcome = "PROCESSED"
)

// AutoSearchCanceler stops a scheduler-owned auto-search task once its
// reservation resolves through the normal inbound pipeline instead of
// the task's own ORPHAN rescan (spec.md §4.7 "task terminates on
// reservation leaving WAITING_CODE"). Satisfied by *scheduler.Scheduler;
// defined here rather than imported so this package doesn't depend on
// the scheduler, which already depends on this one.
type AutoSearchCanceler interface {
    CancelAutoSearch(reservationID int64)
}

// Correlator implements the pipeline described in spec.md §4.4.
type Correlator struct {
    queries *store.Queries
    biller  *billing.Biller
    metrics metrics.MetricsInterface

    autoSearch AutoSearchCanceler
}

func New(queries *store.Queries, biller *billing.Biller, m metrics.MetricsInterface) *Correlator {
    return &Correlator{queries: queries, biller: biller, metrics: m}
}

// SetAutoSearchCanceler wires the scheduler in after both are
// constructed (the scheduler's own constructor takes this Correlator, so
// the dependency can't be supplied to New without a cycle).
func (c *Correlator) SetAutoSearchCanceler(a AutoSearchCanceler) {
    c.autoSearch = a
}

func dedupeHash(in Inbound) string {
    sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%d", in.GroupChatID, in.SenderID, in.Text, in.ReceivedAt.UnixNano())))
    return hex.EncodeToString(sum[:])
}

// Submit runs the full correlation pipeline for one inbound message.
func (c *Correlator) Submit(ctx context.Context, in Inbound) (Outcome, error) {
    start := time.Now()
    outcome, err := c.submit(ctx, in)
    c.metrics.ObserveHistogram("correlator_pipeline_duration", time.Since(start).Seconds(), map[string]string{"outcome": string(outcome)})
    c.metrics.IncrementCounter("messages_processed_total", map[string]string{"status": string(outcome)})
    return outcome, err
}

func (c *Correlator) submit(ctx context.Context, in Inbound) (Outcome, error) {
    hash := dedupeHash(in)

    existing, err := c.queries.GetProviderMessageByHash(ctx, hash)
    if err != nil {
        return OutcomeDropped, err
    }
    if existing != nil {
        return OutcomeDuplicate, nil
    }

    groups, err := c.queries.ListServiceGroupsByChat(ctx, in.GroupChatID)
    if err != nil {
        return OutcomeDropped, err
    }
    if len(groups) == 0 {
        // not an audit event: no ServiceGroup is bound to this chat
        return OutcomeDropped, nil
    }

    msg := &models.ProviderMessage{
        GroupChatID: in.GroupChatID,
        SenderID:    in.SenderID,
        Text:        in.Text,
        ReceivedAt:  in.ReceivedAt,
        Status:      models.MessageStatusPending,
        ExternalID:  in.ExternalMsgID,
        DedupeHash:  hash,
        ServiceID:   groups[0].ServiceID,
    }
    messageID, err := c.queries.InsertProviderMessage(ctx, msg)
    if err != nil {
        return OutcomeDropped, err
    }
    msg.ID = messageID

    return c.process(ctx, msg, groups)
}

// process implements pipeline steps 2-6. Orphan reprocessing re-enters
// here too, so a rerun repeats extraction before number resolution.
func (c *Correlator) process(ctx context.Context, msg *models.ProviderMessage, groups []*models.ServiceGroup) (Outcome, error) {
    var (
        phone      string
        code       string
        maskedTail string
    )

    for _, g := range groups {
        p, cd := extract.ExtractFull(msg.Text, g.RegexPattern)
        if p != "" {
            phone = p
        }
        if cd != "" {
            code = cd
            if phone != "" {
                break
            }
        }
    }

    if phone == "" || code == "" {
        maskedTail = extract.ExtractMaskedTail(msg.Text)
        if code == "" {
            for _, g := range groups {
                if cd := extract.ExtractCodeWithContext(msg.Text, "", g.RegexPattern); cd != "" {
                    code = cd
                    break
                }
            }
        }
    }

    if code == "" && (phone == "" && maskedTail == "") {
        return c.reject(ctx, msg, groups[0].ServiceID, models.ReasonNoNumberOrNoCode)
    }

    number, reservation, err := c.resolve(ctx, phone, maskedTail, groups)
    if err != nil {
        if errors.Is(err, errors.ErrNoReservation) || errors.Is(err, errors.ErrNotFound) {
            return c.markOrphan(ctx, msg)
        }
        return OutcomeDropped, err
    }

    if code == "" {
        return c.markOrphan(ctx, msg)
    }

    if err := c.queries.SetNumberCodeReceivedAsync(ctx, number.ID); err != nil {
        logger.WithContext(ctx).WithError(err).Warn("failed to record code receipt timestamp")
    }

    billErr := c.biller.Complete(ctx, reservation.ID, code)
    if billErr != nil {
        if errors.Is(billErr, errors.ErrInsufficientFunds) {
            _ = c.queries.MarkMessageProcessed(ctx, msg.ID, models.MessageStatusRejected)
            return OutcomeRejected, nil
        }
        return OutcomeDropped, billErr
    }

    if err := c.queries.MarkMessageProcessed(ctx, msg.ID, models.MessageStatusProcessed); err != nil {
        logger.WithContext(ctx).WithError(err).Warn("failed to mark message processed")
    }

    if c.autoSearch != nil {
        c.autoSearch.CancelAutoSearch(reservation.ID)
    }

    return OutcomeProcessed, nil
}

// resolve implements pipeline steps 4-5: number resolution by phone or
// masked tail, then binding to the number's active WAITING_CODE
// reservation.
func (c *Correlator) resolve(ctx context.Context, phone, maskedTail string, groups []*models.ServiceGroup) (*models.Number, *models.Reservation, error) {
    var number *models.Number
    var err error

    if phone != "" {
        for _, g := range groups {
            number, err = c.numberByPhoneAndService(ctx, phone, g.ServiceID)
            if err == nil {
                break
            }
        }
    }

    if number == nil && maskedTail != "" {
        for _, g := range groups {
            number, err = c.numberByTailAndService(ctx, maskedTail, g.ServiceID)
            if err == nil {
                break
            }
        }
    }

    if number == nil {
        return nil, nil, errors.New(errors.ErrNotFound, "no matching number")
    }

    reservation, err := c.queries.GetActiveReservationByNumber(ctx, number.ID)
    if err != nil {
        return nil, nil, err
    }

    return number, reservation, nil
}

func (c *Correlator) numberByPhoneAndService(ctx context.Context, phone string, serviceID int64) (*models.Number, error) {
    return c.queries.GetNumberByPhoneAndService(ctx, phone, serviceID)
}

func (c *Correlator) numberByTailAndService(ctx context.Context, tail string, serviceID int64) (*models.Number, error) {
    return c.queries.GetNumberByTailAndService(ctx, tail, serviceID)
}

func (c *Correlator) reject(ctx context.Context, msg *models.ProviderMessage, serviceID int64, reason string) (Outcome, error) {
    if err := c.queries.InsertBlockedMessage(ctx, &models.BlockedMessage{
        ServiceID:   serviceID,
        GroupChatID: msg.GroupChatID,
        SenderID:    msg.SenderID,
        Text:        msg.Text,
        Reason:      reason,
    }); err != nil {
        return OutcomeDropped, err
    }
    if err := c.queries.MarkMessageProcessed(ctx, msg.ID, models.MessageStatusRejected); err != nil {
        logger.WithContext(ctx).WithError(err).Warn("failed to mark message rejected")
    }
    return OutcomeRejected, nil
}

func (c *Correlator) markOrphan(ctx context.Context, msg *models.ProviderMessage) (Outcome, error) {
    if err := c.queries.MarkMessageProcessed(ctx, msg.ID, models.MessageStatusOrphan); err != nil {
        return OutcomeDropped, err
    }
    return OutcomeOrphan, nil
}

// Normalize re-exports phonenumber.Normalize for callers assembling an
// Inbound from raw gateway payloads that may include a phone hint.
var Normalize = phonenumber.Normalize

// ReprocessOrphan reruns the pipeline (extraction through billing) for a
// previously orphaned message; a successful rerun makes the only backward
// transition permitted (ORPHAN → PROCESSED, spec.md §4.4).
func (c *Correlator) ReprocessOrphan(ctx context.Context, msg *models.ProviderMessage) (Outcome, error) {
    groups, err := c.queries.ListServiceGroupsByChat(ctx, msg.GroupChatID)
    if err != nil || len(groups) == 0 {
        return OutcomeOrphan, err
    }
    return c.process(ctx, msg, groups)
}

// AutoSearch is the retry body a scheduler auto-search task drives for
// one reservation (spec.md §4.7 "Auto-search"): it scans ORPHAN messages
// parked against the reservation's service looking for a message that
// now resolves, since the code may have arrived before this reservation
// existed to claim it. Returns nil once the reservation has left
// WAITING_CODE (for example by reaching COMPLETED), or an error so the
// caller's retry loop keeps polling.
func (c *Correlator) AutoSearch(ctx context.Context, reservationID int64) error {
    res, err := c.queries.GetReservation(ctx, reservationID)
    if err != nil {
        return err
    }
    if res.Status != models.ReservationStatusWaitingCode {
        return nil
    }

    number, err := c.queries.GetNumber(ctx, res.NumberID)
    if err != nil {
        return err
    }

    orphans, err := c.queries.ListOrphanMessagesByService(ctx, number.ServiceID, 50)
    if err != nil {
        return err
    }

    for _, msg := range orphans {
        if _, err := c.ReprocessOrphan(ctx, msg); err != nil {
            logger.WithContext(ctx).WithError(err).WithField("message_id", msg.ID).Warn("auto-search reprocess failed")
            continue
        }

        updated, err := c.queries.GetReservation(ctx, reservationID)
        if err == nil && updated.Status == models.ReservationStatusCompleted {
            return nil
        }
    }

    return errors.New(errors.ErrNotFound, "no usable code found yet")
}
