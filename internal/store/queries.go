package store

import (
    "context"
    "database/sql"
    "time"

    "github.com/shopspring/decimal"

    "github.com/hamzaKhattat/reservation-engine/internal/models"
    "github.com/hamzaKhattat/reservation-engine/pkg/errors"
    "github.com/hamzaKhattat/reservation-engine/pkg/logger"
)

// Queries bundles every hand-written SQL statement the engine issues
// against MySQL. It holds no state beyond the connection pool and cache,
// and is safe for concurrent use.
type Queries struct {
    db    *DB
    cache *Cache
}

func NewQueries(db *DB, cache *Cache) *Queries {
    return &Queries{db: db, cache: cache}
}

// --- Users ---------------------------------------------------------------

func (q *Queries) GetUserByExternalID(ctx context.Context, externalID string) (*models.User, error) {
    var u models.User
    err := q.db.QueryRowContext(ctx, `
        SELECT id, external_id, balance, is_banned, language_tag, joined_at
        FROM users WHERE external_id = ?`, externalID).
        Scan(&u.ID, &u.ExternalID, &u.Balance, &u.IsBanned, &u.LanguageTag, &u.JoinedAt)
    if err == sql.ErrNoRows {
        return nil, errors.New(errors.ErrNotFound, "user not found")
    }
    if err != nil {
        return nil, errors.Wrap(err, errors.ErrDatabase, "failed to get user")
    }
    return &u, nil
}

func (q *Queries) GetUser(ctx context.Context, id int64) (*models.User, error) {
    var u models.User
    err := q.db.QueryRowContext(ctx, `
        SELECT id, external_id, balance, is_banned, language_tag, joined_at
        FROM users WHERE id = ?`, id).
        Scan(&u.ID, &u.ExternalID, &u.Balance, &u.IsBanned, &u.LanguageTag, &u.JoinedAt)
    if err == sql.ErrNoRows {
        return nil, errors.New(errors.ErrNotFound, "user not found")
    }
    if err != nil {
        return nil, errors.Wrap(err, errors.ErrDatabase, "failed to get user")
    }
    return &u, nil
}

// GetUserForUpdate locks the user row for the lifetime of tx, used before
// checking and debiting balance in billing.Complete.
func (q *Queries) GetUserForUpdate(ctx context.Context, tx *sql.Tx, id int64) (*models.User, error) {
    var u models.User
    err := tx.QueryRowContext(ctx, `
        SELECT id, external_id, balance, is_banned, language_tag, joined_at
        FROM users WHERE id = ? FOR UPDATE`, id).
        Scan(&u.ID, &u.ExternalID, &u.Balance, &u.IsBanned, &u.LanguageTag, &u.JoinedAt)
    if err == sql.ErrNoRows {
        return nil, errors.New(errors.ErrNotFound, "user not found")
    }
    if err != nil {
        return nil, errors.Wrap(err, errors.ErrDatabase, "failed to get user")
    }
    return &u, nil
}

func (q *Queries) CreateUser(ctx context.Context, externalID string) (*models.User, error) {
    res, err := q.db.ExecContext(ctx, `
        INSERT INTO users (external_id, balance, is_banned, language_tag, joined_at)
        VALUES (?, 0, FALSE, 'en', ?)`, externalID, time.Now())
    if err != nil {
        return nil, errors.Wrap(err, errors.ErrDatabase, "failed to create user")
    }
    id, _ := res.LastInsertId()
    return q.GetUser(ctx, id)
}

// AdjustBalance applies delta (positive or negative) to the user's
// balance inside tx and returns the resulting balance.
func (q *Queries) AdjustBalance(ctx context.Context, tx *sql.Tx, userID int64, delta decimal.Decimal) (decimal.Decimal, error) {
    if _, err := tx.ExecContext(ctx, `
        UPDATE users SET balance = balance + ? WHERE id = ?`, delta, userID); err != nil {
        return decimal.Zero, errors.Wrap(err, errors.ErrDatabase, "failed to adjust balance")
    }

    var balance decimal.Decimal
    if err := tx.QueryRowContext(ctx, `SELECT balance FROM users WHERE id = ?`, userID).Scan(&balance); err != nil {
        return decimal.Zero, errors.Wrap(err, errors.ErrDatabase, "failed to read updated balance")
    }
    return balance, nil
}

// --- Services / Countries --------------------------------------------------

func (q *Queries) GetService(ctx context.Context, id int64) (*models.Service, error) {
    var s models.Service
    err := q.db.QueryRowContext(ctx, `
        SELECT id, name, emoji, description, default_price, active
        FROM services WHERE id = ?`, id).
        Scan(&s.ID, &s.Name, &s.Emoji, &s.Description, &s.DefaultPrice, &s.Active)
    if err == sql.ErrNoRows {
        return nil, errors.New(errors.ErrNotFound, "service not found")
    }
    if err != nil {
        return nil, errors.Wrap(err, errors.ErrDatabase, "failed to get service")
    }
    return &s, nil
}

func (q *Queries) ListActiveServices(ctx context.Context) ([]*models.Service, error) {
    rows, err := q.db.QueryContext(ctx, `
        SELECT id, name, emoji, description, default_price, active
        FROM services WHERE active = TRUE ORDER BY name`)
    if err != nil {
        return nil, errors.Wrap(err, errors.ErrDatabase, "failed to list services")
    }
    defer rows.Close()

    var out []*models.Service
    for rows.Next() {
        var s models.Service
        if err := rows.Scan(&s.ID, &s.Name, &s.Emoji, &s.Description, &s.DefaultPrice, &s.Active); err != nil {
            continue
        }
        out = append(out, &s)
    }
    return out, nil
}

func (q *Queries) ListCountriesForService(ctx context.Context, serviceID int64) ([]*models.Country, error) {
    rows, err := q.db.QueryContext(ctx, `
        SELECT c.code, c.name, c.flag
        FROM countries c
        JOIN service_countries sc ON sc.country_code = c.code
        WHERE sc.service_id = ? AND sc.active = TRUE
        ORDER BY c.name`, serviceID)
    if err != nil {
        return nil, errors.Wrap(err, errors.ErrDatabase, "failed to list countries for service")
    }
    defer rows.Close()

    var out []*models.Country
    for rows.Next() {
        var c models.Country
        if err := rows.Scan(&c.Code, &c.Name, &c.Flag); err != nil {
            continue
        }
        out = append(out, &c)
    }
    return out, nil
}

func (q *Queries) GetServiceGroup(ctx context.Context, serviceID int64, groupChatID string) (*models.ServiceGroup, error) {
    var g models.ServiceGroup
    err := q.db.QueryRowContext(ctx, `
        SELECT service_id, group_chat_id, regex_pattern, active
        FROM service_groups WHERE service_id = ? AND group_chat_id = ?`, serviceID, groupChatID).
        Scan(&g.ServiceID, &g.GroupChatID, &g.RegexPattern, &g.Active)
    if err == sql.ErrNoRows {
        return nil, errors.New(errors.ErrNotFound, "service group not found")
    }
    if err != nil {
        return nil, errors.Wrap(err, errors.ErrDatabase, "failed to get service group")
    }
    return &g, nil
}

func (q *Queries) ListServiceGroupsByChat(ctx context.Context, groupChatID string) ([]*models.ServiceGroup, error) {
    rows, err := q.db.QueryContext(ctx, `
        SELECT service_id, group_chat_id, regex_pattern, active
        FROM service_groups WHERE group_chat_id = ? AND active = TRUE`, groupChatID)
    if err != nil {
        return nil, errors.Wrap(err, errors.ErrDatabase, "failed to list service groups")
    }
    defer rows.Close()

    var out []*models.ServiceGroup
    for rows.Next() {
        var g models.ServiceGroup
        if err := rows.Scan(&g.ServiceID, &g.GroupChatID, &g.RegexPattern, &g.Active); err != nil {
            continue
        }
        out = append(out, &g)
    }
    return out, nil
}

// --- Numbers ---------------------------------------------------------------

// FindAndLockAvailableNumber selects the oldest available number for
// (serviceID, countryCode), excluding excludeIDs, and locks the row for
// update.
func (q *Queries) FindAndLockAvailableNumber(ctx context.Context, tx *sql.Tx, serviceID int64, countryCode string, excludeIDs []int64) (*models.Number, error) {
    query := `
        SELECT id, phone_number, service_id, country_code, status,
               price_override, reserved_by_user_id, reserved_at, expires_at,
               code_received_at, usage_count
        FROM numbers
        WHERE service_id = ? AND country_code = ? AND status = ?`
    args := []interface{}{serviceID, countryCode, models.NumberStatusAvailable}

    if len(excludeIDs) > 0 {
        query += " AND id NOT IN (" + placeholders(len(excludeIDs)) + ")"
        for _, id := range excludeIDs {
            args = append(args, id)
        }
    }
    query += " ORDER BY id ASC LIMIT 1 FOR UPDATE"

    n, err := scanNumber(tx.QueryRowContext(ctx, query, args...))
    if err == sql.ErrNoRows {
        return nil, errors.New(errors.ErrNoInventory, "no available number")
    }
    if err != nil {
        return nil, errors.Wrap(err, errors.ErrDatabase, "failed to find available number")
    }
    return n, nil
}

func (q *Queries) GetNumberForUpdate(ctx context.Context, tx *sql.Tx, id int64) (*models.Number, error) {
    n, err := scanNumber(tx.QueryRowContext(ctx, `
        SELECT id, phone_number, service_id, country_code, status,
               price_override, reserved_by_user_id, reserved_at, expires_at,
               code_received_at, usage_count
        FROM numbers WHERE id = ? FOR UPDATE`, id))
    if err == sql.ErrNoRows {
        return nil, errors.New(errors.ErrNotFound, "number not found")
    }
    if err != nil {
        return nil, errors.Wrap(err, errors.ErrDatabase, "failed to get number")
    }
    return n, nil
}

func (q *Queries) GetNumber(ctx context.Context, id int64) (*models.Number, error) {
    n, err := scanNumber(q.db.QueryRowContext(ctx, `
        SELECT id, phone_number, service_id, country_code, status,
               price_override, reserved_by_user_id, reserved_at, expires_at,
               code_received_at, usage_count
        FROM numbers WHERE id = ?`, id))
    if err == sql.ErrNoRows {
        return nil, errors.New(errors.ErrNotFound, "number not found")
    }
    if err != nil {
        return nil, errors.Wrap(err, errors.ErrDatabase, "failed to get number")
    }
    return n, nil
}

func scanNumber(row *sql.Row) (*models.Number, error) {
    var n models.Number
    err := row.Scan(&n.ID, &n.PhoneNumber, &n.ServiceID, &n.CountryCode, &n.Status,
        &n.PriceOverride, &n.ReservedByUserID, &n.ReservedAt, &n.ExpiresAt,
        &n.CodeReceivedAt, &n.UsageCount)
    if err != nil {
        return nil, err
    }
    return &n, nil
}

func (q *Queries) MarkNumberReserved(ctx context.Context, tx *sql.Tx, numberID, userID int64, expiresAt time.Time) error {
    _, err := tx.ExecContext(ctx, `
        UPDATE numbers
        SET status = ?, reserved_by_user_id = ?, reserved_at = NOW(), expires_at = ?, code_received_at = NULL
        WHERE id = ?`, models.NumberStatusReserved, userID, expiresAt, numberID)
    if err != nil {
        return errors.Wrap(err, errors.ErrDatabase, "failed to mark number reserved")
    }
    return nil
}

// ReleaseNumber returns a number to the available pool and clears its
// reservation fields and code_received_at. Callers applying the release
// policy use RetireNumber instead when a code has landed on the number.
func (q *Queries) ReleaseNumber(ctx context.Context, tx *sql.Tx, numberID int64) error {
    _, err := tx.ExecContext(ctx, `
        UPDATE numbers
        SET status = ?, reserved_by_user_id = NULL, reserved_at = NULL,
            expires_at = NULL, code_received_at = NULL
        WHERE id = ?`, models.NumberStatusAvailable, numberID)
    if err != nil {
        return errors.Wrap(err, errors.ErrDatabase, "failed to release number")
    }
    return nil
}

// MarkNumberCompleted finalizes a number after a billed reservation
// (spec.md §4.5 step 4): status USED, codeReceivedAt = now,
// usageCount += 1. Retirement (step 5) is decided separately by the
// caller via CountDistinctCompletedUsers.
func (q *Queries) MarkNumberCompleted(ctx context.Context, tx *sql.Tx, numberID int64, at time.Time) error {
    _, err := tx.ExecContext(ctx, `
        UPDATE numbers
        SET status = ?, code_received_at = ?, usage_count = usage_count + 1,
            reserved_by_user_id = NULL, reserved_at = NULL, expires_at = NULL
        WHERE id = ?`, models.NumberStatusUsed, at, numberID)
    if err != nil {
        return errors.Wrap(err, errors.ErrDatabase, "failed to finalize number")
    }
    return nil
}

// CountDistinctCompletedUsers counts the distinct users who have ever
// COMPLETED a reservation against numberID, for the retirement check in
// spec.md §4.5 step 5.
func (q *Queries) CountDistinctCompletedUsers(ctx context.Context, tx *sql.Tx, numberID int64) (int, error) {
    var count int
    err := tx.QueryRowContext(ctx, `
        SELECT COUNT(DISTINCT user_id) FROM reservations WHERE number_id = ? AND status = ?`,
        numberID, models.ReservationStatusCompleted).Scan(&count)
    if err != nil {
        return 0, errors.Wrap(err, errors.ErrDatabase, "failed to count distinct completed users")
    }
    return count, nil
}

// RetireNumber permanently removes a number from rotation (spec.md §4.3
// release policy: a number that has ever had a code land on it is
// "burned" and unsafe to recycle, independent of the distinct-user
// retirement threshold applied in billing).
func (q *Queries) RetireNumber(ctx context.Context, tx *sql.Tx, numberID int64) error {
    _, err := tx.ExecContext(ctx, `
        UPDATE numbers
        SET status = ?, reserved_by_user_id = NULL, reserved_at = NULL, expires_at = NULL
        WHERE id = ?`, models.NumberStatusDeleted, numberID)
    if err != nil {
        return errors.Wrap(err, errors.ErrDatabase, "failed to retire number")
    }
    return nil
}

func (q *Queries) SetNumberCodeReceived(ctx context.Context, tx *sql.Tx, numberID int64, at time.Time) error {
    _, err := tx.ExecContext(ctx, `UPDATE numbers SET code_received_at = ? WHERE id = ?`, at, numberID)
    if err != nil {
        return errors.Wrap(err, errors.ErrDatabase, "failed to record code receipt")
    }
    return nil
}

// SetNumberCodeReceivedAsync stamps code_received_at outside of any
// billing transaction, used by the correlator the moment a code is
// matched to a number so the timestamp reflects arrival rather than the
// later billing commit.
func (q *Queries) SetNumberCodeReceivedAsync(ctx context.Context, numberID int64) error {
    _, err := q.db.ExecContext(ctx, `UPDATE numbers SET code_received_at = NOW() WHERE id = ? AND code_received_at IS NULL`, numberID)
    if err != nil {
        return errors.Wrap(err, errors.ErrDatabase, "failed to record code receipt")
    }
    return nil
}

// GetNumberByPhoneAndService finds the most recently reserved number
// matching phoneNumber for serviceID, used by the correlator to resolve
// an inbound message by the phone extracted from its "to:" token
// (spec.md §4.4 step 4).
func (q *Queries) GetNumberByPhoneAndService(ctx context.Context, phoneNumber string, serviceID int64) (*models.Number, error) {
    n, err := scanNumber(q.db.QueryRowContext(ctx, `
        SELECT id, phone_number, service_id, country_code, status,
               price_override, reserved_by_user_id, reserved_at, expires_at,
               code_received_at, usage_count
        FROM numbers
        WHERE phone_number = ? AND service_id = ? AND status IN (?, ?)
        ORDER BY reserved_at DESC LIMIT 1`,
        phoneNumber, serviceID, models.NumberStatusReserved, models.NumberStatusUsed))
    if err == sql.ErrNoRows {
        return nil, errors.New(errors.ErrNotFound, "no number matches phone and service")
    }
    if err != nil {
        return nil, errors.Wrap(err, errors.ErrDatabase, "failed to look up number by phone")
    }
    return n, nil
}

// GetNumberByTailAndService is the masked-tail fallback lookup: it
// matches numbers currently RESERVED for serviceID whose trailing digits
// equal tail (spec.md §4.4 step 4 fallback).
func (q *Queries) GetNumberByTailAndService(ctx context.Context, tail string, serviceID int64) (*models.Number, error) {
    n, err := scanNumber(q.db.QueryRowContext(ctx, `
        SELECT id, phone_number, service_id, country_code, status,
               price_override, reserved_by_user_id, reserved_at, expires_at,
               code_received_at, usage_count
        FROM numbers
        WHERE service_id = ? AND status = ? AND phone_number LIKE CONCAT('%', ?)
        ORDER BY reserved_at DESC LIMIT 1`,
        serviceID, models.NumberStatusReserved, tail))
    if err == sql.ErrNoRows {
        return nil, errors.New(errors.ErrNotFound, "no number matches masked tail and service")
    }
    if err != nil {
        return nil, errors.Wrap(err, errors.ErrDatabase, "failed to look up number by tail")
    }
    return n, nil
}

func (q *Queries) CountAvailableNumbers(ctx context.Context, serviceID int64, countryCode string) (int, error) {
    var count int
    err := q.db.QueryRowContext(ctx, `
        SELECT COUNT(*) FROM numbers WHERE service_id = ? AND country_code = ? AND status = ?`,
        serviceID, countryCode, models.NumberStatusAvailable).Scan(&count)
    if err != nil {
        return 0, errors.Wrap(err, errors.ErrDatabase, "failed to count available numbers")
    }
    return count, nil
}

// --- Reservations ------------------------------------------------------

func (q *Queries) CreateReservation(ctx context.Context, tx *sql.Tx, r *models.Reservation) (int64, error) {
    res, err := tx.ExecContext(ctx, `
        INSERT INTO reservations (user_id, service_id, number_id, status, created_at, expired_at)
        VALUES (?, ?, ?, ?, NOW(), ?)`,
        r.UserID, r.ServiceID, r.NumberID, models.ReservationStatusWaitingCode, r.ExpiredAt)
    if err != nil {
        return 0, errors.Wrap(err, errors.ErrDatabase, "failed to create reservation")
    }
    return res.LastInsertId()
}

func (q *Queries) GetReservation(ctx context.Context, id int64) (*models.Reservation, error) {
    r, err := scanReservation(q.db.QueryRowContext(ctx, `
        SELECT id, user_id, service_id, number_id, status, created_at, expired_at, completed_at, code_value
        FROM reservations WHERE id = ?`, id))
    if err == sql.ErrNoRows {
        return nil, errors.New(errors.ErrNotFound, "reservation not found")
    }
    if err != nil {
        return nil, errors.Wrap(err, errors.ErrDatabase, "failed to get reservation")
    }
    return r, nil
}

func (q *Queries) GetReservationForUpdate(ctx context.Context, tx *sql.Tx, id int64) (*models.Reservation, error) {
    r, err := scanReservation(tx.QueryRowContext(ctx, `
        SELECT id, user_id, service_id, number_id, status, created_at, expired_at, completed_at, code_value
        FROM reservations WHERE id = ? FOR UPDATE`, id))
    if err == sql.ErrNoRows {
        return nil, errors.New(errors.ErrNotFound, "reservation not found")
    }
    if err != nil {
        return nil, errors.Wrap(err, errors.ErrDatabase, "failed to get reservation")
    }
    return r, nil
}

// GetActiveReservationByNumber finds the WAITING_CODE reservation currently
// bound to numberID, used by the correlator to resolve an inbound message.
func (q *Queries) GetActiveReservationByNumber(ctx context.Context, numberID int64) (*models.Reservation, error) {
    r, err := scanReservation(q.db.QueryRowContext(ctx, `
        SELECT id, user_id, service_id, number_id, status, created_at, expired_at, completed_at, code_value
        FROM reservations WHERE number_id = ? AND status = ?
        ORDER BY created_at DESC LIMIT 1`, numberID, models.ReservationStatusWaitingCode))
    if err == sql.ErrNoRows {
        return nil, errors.New(errors.ErrNoReservation, "no active reservation for number")
    }
    if err != nil {
        return nil, errors.Wrap(err, errors.ErrDatabase, "failed to get active reservation")
    }
    return r, nil
}

func scanReservation(row *sql.Row) (*models.Reservation, error) {
    var r models.Reservation
    err := row.Scan(&r.ID, &r.UserID, &r.ServiceID, &r.NumberID, &r.Status,
        &r.CreatedAt, &r.ExpiredAt, &r.CompletedAt, &r.CodeValue)
    if err != nil {
        return nil, err
    }
    return &r, nil
}

func (q *Queries) UpdateReservationNumber(ctx context.Context, tx *sql.Tx, reservationID, numberID int64, expiredAt time.Time) error {
    _, err := tx.ExecContext(ctx, `
        UPDATE reservations SET number_id = ?, expired_at = ? WHERE id = ?`, numberID, expiredAt, reservationID)
    if err != nil {
        return errors.Wrap(err, errors.ErrDatabase, "failed to update reservation number")
    }
    return nil
}

func (q *Queries) UpdateReservationService(ctx context.Context, tx *sql.Tx, reservationID, serviceID, numberID int64, expiredAt time.Time) error {
    _, err := tx.ExecContext(ctx, `
        UPDATE reservations SET service_id = ?, number_id = ?, expired_at = ? WHERE id = ?`,
        serviceID, numberID, expiredAt, reservationID)
    if err != nil {
        return errors.Wrap(err, errors.ErrDatabase, "failed to update reservation service")
    }
    return nil
}

func (q *Queries) CompleteReservation(ctx context.Context, tx *sql.Tx, reservationID int64, code string) error {
    _, err := tx.ExecContext(ctx, `
        UPDATE reservations SET status = ?, completed_at = NOW(), code_value = ? WHERE id = ?`,
        models.ReservationStatusCompleted, code, reservationID)
    if err != nil {
        return errors.Wrap(err, errors.ErrDatabase, "failed to complete reservation")
    }
    return nil
}

func (q *Queries) ExpireReservation(ctx context.Context, tx *sql.Tx, reservationID int64) error {
    _, err := tx.ExecContext(ctx, `
        UPDATE reservations SET status = ? WHERE id = ?`, models.ReservationStatusExpired, reservationID)
    if err != nil {
        return errors.Wrap(err, errors.ErrDatabase, "failed to expire reservation")
    }
    return nil
}

func (q *Queries) CancelReservation(ctx context.Context, tx *sql.Tx, reservationID int64) error {
    _, err := tx.ExecContext(ctx, `
        UPDATE reservations SET status = ? WHERE id = ?`, models.ReservationStatusCanceled, reservationID)
    if err != nil {
        return errors.Wrap(err, errors.ErrDatabase, "failed to cancel reservation")
    }
    return nil
}

// ListExpiredReservations returns WAITING_CODE reservations whose
// expired_at has passed, for the scheduler's expiry sweep.
func (q *Queries) ListExpiredReservations(ctx context.Context, before time.Time, limit int) ([]*models.Reservation, error) {
    rows, err := q.db.QueryContext(ctx, `
        SELECT id, user_id, service_id, number_id, status, created_at, expired_at, completed_at, code_value
        FROM reservations WHERE status = ? AND expired_at <= ? ORDER BY expired_at ASC LIMIT ?`,
        models.ReservationStatusWaitingCode, before, limit)
    if err != nil {
        return nil, errors.Wrap(err, errors.ErrDatabase, "failed to list expired reservations")
    }
    defer rows.Close()

    var out []*models.Reservation
    for rows.Next() {
        var r models.Reservation
        if err := rows.Scan(&r.ID, &r.UserID, &r.ServiceID, &r.NumberID, &r.Status,
            &r.CreatedAt, &r.ExpiredAt, &r.CompletedAt, &r.CodeValue); err != nil {
            continue
        }
        out = append(out, &r)
    }
    return out, nil
}

// --- Transactions --------------------------------------------------------

func (q *Queries) CreateTransaction(ctx context.Context, tx *sql.Tx, t *models.Transaction) error {
    _, err := tx.ExecContext(ctx, `
        INSERT INTO transactions (user_id, kind, amount, reason, created_at)
        VALUES (?, ?, ?, ?, NOW())`, t.UserID, t.Kind, t.Amount, t.Reason)
    if err != nil {
        return errors.Wrap(err, errors.ErrDatabase, "failed to record transaction")
    }
    return nil
}

func (q *Queries) ListTransactionsForUser(ctx context.Context, userID int64, limit, offset int) ([]*models.Transaction, error) {
    rows, err := q.db.QueryContext(ctx, `
        SELECT id, user_id, kind, amount, reason, created_at
        FROM transactions WHERE user_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`,
        userID, limit, offset)
    if err != nil {
        return nil, errors.Wrap(err, errors.ErrDatabase, "failed to list transactions")
    }
    defer rows.Close()

    var out []*models.Transaction
    for rows.Next() {
        var t models.Transaction
        if err := rows.Scan(&t.ID, &t.UserID, &t.Kind, &t.Amount, &t.Reason, &t.CreatedAt); err != nil {
            continue
        }
        out = append(out, &t)
    }
    return out, nil
}

// --- Provider messages -----------------------------------------------------

// InsertProviderMessage is idempotent on dedupe_hash: a duplicate insert
// is reported via the unique-key violation surfacing as ErrDatabase, which
// callers should treat as "already seen" rather than retrying.
func (q *Queries) InsertProviderMessage(ctx context.Context, m *models.ProviderMessage) (int64, error) {
    res, err := q.db.ExecContext(ctx, `
        INSERT INTO provider_messages
            (service_id, group_chat_id, sender_id, text, received_at, status, raw_payload, external_id, dedupe_hash)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
        m.ServiceID, m.GroupChatID, m.SenderID, m.Text, m.ReceivedAt, m.Status, m.RawPayload, m.ExternalID, m.DedupeHash)
    if err != nil {
        return 0, errors.Wrap(err, errors.ErrDatabase, "failed to insert provider message")
    }
    return res.LastInsertId()
}

func (q *Queries) GetProviderMessageByHash(ctx context.Context, dedupeHash string) (*models.ProviderMessage, error) {
    m, err := scanProviderMessage(q.db.QueryRowContext(ctx, `
        SELECT id, service_id, group_chat_id, sender_id, text, received_at, status,
               raw_payload, processed_at, external_id, dedupe_hash
        FROM provider_messages WHERE dedupe_hash = ?`, dedupeHash))
    if err == sql.ErrNoRows {
        return nil, nil
    }
    if err != nil {
        return nil, errors.Wrap(err, errors.ErrDatabase, "failed to look up provider message")
    }
    return m, nil
}

func scanProviderMessage(row *sql.Row) (*models.ProviderMessage, error) {
    var m models.ProviderMessage
    err := row.Scan(&m.ID, &m.ServiceID, &m.GroupChatID, &m.SenderID, &m.Text, &m.ReceivedAt,
        &m.Status, &m.RawPayload, &m.ProcessedAt, &m.ExternalID, &m.DedupeHash)
    if err != nil {
        return nil, err
    }
    return &m, nil
}

func (q *Queries) MarkMessageProcessed(ctx context.Context, messageID int64, status models.MessageStatus) error {
    _, err := q.db.ExecContext(ctx, `
        UPDATE provider_messages SET status = ?, processed_at = NOW() WHERE id = ?`, status, messageID)
    if err != nil {
        return errors.Wrap(err, errors.ErrDatabase, "failed to mark message processed")
    }
    return nil
}

// ListOrphanMessages returns messages parked as ORPHAN for the scheduler's
// reprocessing pass (spec.md §4.7).
func (q *Queries) ListOrphanMessages(ctx context.Context, limit int) ([]*models.ProviderMessage, error) {
    rows, err := q.db.QueryContext(ctx, `
        SELECT id, service_id, group_chat_id, sender_id, text, received_at, status,
               raw_payload, processed_at, external_id, dedupe_hash
        FROM provider_messages WHERE status = ? ORDER BY received_at ASC LIMIT ?`,
        models.MessageStatusOrphan, limit)
    if err != nil {
        return nil, errors.Wrap(err, errors.ErrDatabase, "failed to list orphan messages")
    }
    defer rows.Close()

    var out []*models.ProviderMessage
    for rows.Next() {
        var m models.ProviderMessage
        if err := rows.Scan(&m.ID, &m.ServiceID, &m.GroupChatID, &m.SenderID, &m.Text, &m.ReceivedAt,
            &m.Status, &m.RawPayload, &m.ProcessedAt, &m.ExternalID, &m.DedupeHash); err != nil {
            continue
        }
        out = append(out, &m)
    }
    return out, nil
}

// ListOrphanMessagesByService scopes the orphan scan to one service, used
// by a reservation's auto-search task rather than the scheduler's global
// reprocessing pass (spec.md §4.7 "Auto-search").
func (q *Queries) ListOrphanMessagesByService(ctx context.Context, serviceID int64, limit int) ([]*models.ProviderMessage, error) {
    rows, err := q.db.QueryContext(ctx, `
        SELECT id, service_id, group_chat_id, sender_id, text, received_at, status,
               raw_payload, processed_at, external_id, dedupe_hash
        FROM provider_messages WHERE status = ? AND service_id = ? ORDER BY received_at ASC LIMIT ?`,
        models.MessageStatusOrphan, serviceID, limit)
    if err != nil {
        return nil, errors.Wrap(err, errors.ErrDatabase, "failed to list orphan messages for service")
    }
    defer rows.Close()

    var out []*models.ProviderMessage
    for rows.Next() {
        var m models.ProviderMessage
        if err := rows.Scan(&m.ID, &m.ServiceID, &m.GroupChatID, &m.SenderID, &m.Text, &m.ReceivedAt,
            &m.Status, &m.RawPayload, &m.ProcessedAt, &m.ExternalID, &m.DedupeHash); err != nil {
            continue
        }
        out = append(out, &m)
    }
    return out, nil
}

func (q *Queries) DeleteMessagesOlderThan(ctx context.Context, status models.MessageStatus, cutoff time.Time) (int64, error) {
    res, err := q.db.ExecContext(ctx, `
        DELETE FROM provider_messages WHERE status = ? AND received_at < ?`, status, cutoff)
    if err != nil {
        return 0, errors.Wrap(err, errors.ErrDatabase, "failed to delete old messages")
    }
    return res.RowsAffected()
}

// InsertBlockedMessage records a message that could not be correlated to
// any service group or reservation.
func (q *Queries) InsertBlockedMessage(ctx context.Context, b *models.BlockedMessage) error {
    _, err := q.db.ExecContext(ctx, `
        INSERT INTO blocked_messages (service_id, group_chat_id, sender_id, text, reason, created_at)
        VALUES (?, ?, ?, ?, ?, NOW())`, b.ServiceID, b.GroupChatID, b.SenderID, b.Text, b.Reason)
    if err != nil {
        logger.WithContext(ctx).WithError(err).Warn("failed to insert blocked message")
        return errors.Wrap(err, errors.ErrDatabase, "failed to insert blocked message")
    }
    return nil
}

func (q *Queries) DeleteBlockedMessagesOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
    res, err := q.db.ExecContext(ctx, `DELETE FROM blocked_messages WHERE created_at < ?`, cutoff)
    if err != nil {
        return 0, errors.Wrap(err, errors.ErrDatabase, "failed to delete old blocked messages")
    }
    return res.RowsAffected()
}

func placeholders(n int) string {
    out := ""
    for i := 0; i < n; i++ {
        if i > 0 {
            out += ","
        }
        out += "?"
    }
    return out
}
