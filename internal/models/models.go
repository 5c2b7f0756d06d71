package models

import (
    "database/sql/driver"
    "encoding/json"
    "time"

    "github.com/shopspring/decimal"
)

// NumberStatus is the lifecycle state of a rented phone number (spec.md §3).
type NumberStatus string

const (
    NumberStatusAvailable NumberStatus = "AVAILABLE"
    NumberStatusReserved  NumberStatus = "RESERVED"
    NumberStatusUsed      NumberStatus = "USED"
    NumberStatusDeleted   NumberStatus = "DELETED"
)

// ReservationStatus is the lifecycle state of a Reservation (spec.md §3).
type ReservationStatus string

const (
    ReservationStatusWaitingCode ReservationStatus = "WAITING_CODE"
    ReservationStatusCompleted   ReservationStatus = "COMPLETED"
    ReservationStatusExpired     ReservationStatus = "EXPIRED"
    ReservationStatusCanceled    ReservationStatus = "CANCELED"
)

// TransactionKind is the append-only ledger entry type (spec.md §3).
type TransactionKind string

const (
    TransactionKindAdd      TransactionKind = "ADD"
    TransactionKindDeduct   TransactionKind = "DEDUCT"
    TransactionKindPurchase TransactionKind = "PURCHASE"
    TransactionKindReward   TransactionKind = "REWARD"
)

// MessageStatus is the lifecycle state of an inbound ProviderMessage (spec.md §3).
type MessageStatus string

const (
    MessageStatusPending   MessageStatus = "PENDING"
    MessageStatusProcessed MessageStatus = "PROCESSED"
    MessageStatusRejected  MessageStatus = "REJECTED"
    MessageStatusOrphan    MessageStatus = "ORPHAN"
)

// Reasons recorded on Transaction.Reason and BlockedMessage.Reason, matching
// the structured reason strings the Python original groups admin reporting
// by (SPEC_FULL.md §C.1).
const (
    ReasonServicePurchase     = "service_purchase"
    ReasonInsufficientBalance = "insufficient_balance"
    ReasonAdminAdjustment     = "admin_adjustment"
    ReasonNoNumberOrNoCode    = "no_number_or_no_code"
)

// JSON is a generic map persisted as a database json/text column.
type JSON map[string]interface{}

func (j JSON) Value() (driver.Value, error) {
    return json.Marshal(j)
}

func (j *JSON) Scan(value interface{}) error {
    if value == nil {
        *j = make(JSON)
        return nil
    }

    bytes, ok := value.([]byte)
    if !ok {
        return nil
    }

    return json.Unmarshal(bytes, j)
}

// User is an end user renting numbers (spec.md §3).
type User struct {
    ID          int64           `json:"id" db:"id"`
    ExternalID  string          `json:"external_id" db:"external_id"`
    Balance     decimal.Decimal `json:"balance" db:"balance"`
    IsBanned    bool            `json:"is_banned" db:"is_banned"`
    JoinedAt    time.Time       `json:"joined_at" db:"joined_at"`
    LanguageTag string          `json:"language_tag,omitempty" db:"language_tag"`
}

// Service is a destination a user intends to verify against (spec.md §3).
type Service struct {
    ID           int64           `json:"id" db:"id"`
    Name         string          `json:"name" db:"name"`
    Emoji        string          `json:"emoji" db:"emoji"`
    Description  string          `json:"description,omitempty" db:"description"`
    DefaultPrice decimal.Decimal `json:"default_price" db:"default_price"`
    Active       bool            `json:"active" db:"active"`
}

// Country is a static per-deployment dialing entry (spec.md §3).
type Country struct {
    Code string `json:"code" db:"code"` // e.g. "+20"
    Name string `json:"name" db:"name"`
    Flag string `json:"flag" db:"flag"`
}

// ServiceCountry is a materialized view of which country is offered per service.
type ServiceCountry struct {
    ServiceID   int64  `json:"service_id" db:"service_id"`
    CountryCode string `json:"country_code" db:"country_code"`
    Active      bool   `json:"active" db:"active"`
}

// Number is a rentable phone number (spec.md §3).
type Number struct {
    ID               int64            `json:"id" db:"id"`
    PhoneNumber      string           `json:"phone_number" db:"phone_number"` // E.164
    ServiceID        int64            `json:"service_id" db:"service_id"`
    CountryCode      string           `json:"country_code" db:"country_code"`
    Status           NumberStatus     `json:"status" db:"status"`
    PriceOverride    *decimal.Decimal `json:"price_override,omitempty" db:"price_override"`
    ReservedByUserID *int64           `json:"reserved_by_user_id,omitempty" db:"reserved_by_user_id"`
    ReservedAt       *time.Time       `json:"reserved_at,omitempty" db:"reserved_at"`
    ExpiresAt        *time.Time       `json:"expires_at,omitempty" db:"expires_at"`
    CodeReceivedAt   *time.Time       `json:"code_received_at,omitempty" db:"code_received_at"`
    UsageCount       int              `json:"usage_count" db:"usage_count"`
}

// Price resolves the effective price for this number (spec.md §4.5 step 2).
func (n *Number) Price(svc *Service) decimal.Decimal {
    if n.PriceOverride != nil {
        return *n.PriceOverride
    }
    return svc.DefaultPrice
}

// Reservation binds a Number to a User for a bounded time (spec.md §3).
type Reservation struct {
    ID          int64             `json:"id" db:"id"`
    UserID      int64             `json:"user_id" db:"user_id"`
    ServiceID   int64             `json:"service_id" db:"service_id"`
    NumberID    int64             `json:"number_id" db:"number_id"`
    Status      ReservationStatus `json:"status" db:"status"`
    CreatedAt   time.Time         `json:"created_at" db:"created_at"`
    ExpiredAt   time.Time         `json:"expired_at" db:"expired_at"`
    CompletedAt *time.Time        `json:"completed_at,omitempty" db:"completed_at"`
    CodeValue   string            `json:"code_value,omitempty" db:"code_value"`
}

// Transaction is an append-only audit ledger entry (spec.md §3).
type Transaction struct {
    ID        int64           `json:"id" db:"id"`
    UserID    int64           `json:"user_id" db:"user_id"`
    Kind      TransactionKind `json:"kind" db:"kind"`
    Amount    decimal.Decimal `json:"amount" db:"amount"`
    Reason    string          `json:"reason" db:"reason"`
    CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// ProviderMessage is an inbound SMS observed in a monitored chat group (spec.md §3).
type ProviderMessage struct {
    ID          int64         `json:"id" db:"id"`
    ServiceID   int64         `json:"service_id" db:"service_id"`
    GroupChatID string        `json:"group_chat_id" db:"group_chat_id"`
    SenderID    string        `json:"sender_id" db:"sender_id"`
    Text        string        `json:"text" db:"text"`
    ReceivedAt  time.Time     `json:"received_at" db:"received_at"`
    Status      MessageStatus `json:"status" db:"status"`
    RawPayload  string        `json:"raw_payload,omitempty" db:"raw_payload"`
    ProcessedAt *time.Time    `json:"processed_at,omitempty" db:"processed_at"`
    ExternalID  string        `json:"external_id,omitempty" db:"external_id"`
    DedupeHash  string        `json:"dedupe_hash" db:"dedupe_hash"`
}

// BlockedMessage is a diagnostic record for messages that could not be
// correlated at all (spec.md §3). Never referenced by other entities.
type BlockedMessage struct {
    ID          int64     `json:"id" db:"id"`
    ServiceID   int64     `json:"service_id" db:"service_id"`
    GroupChatID string    `json:"group_chat_id" db:"group_chat_id"`
    SenderID    string    `json:"sender_id" db:"sender_id"`
    Text        string    `json:"text" db:"text"`
    Reason      string    `json:"reason" db:"reason"`
    CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// ServiceGroup binds a chat group to the service whose SMS arrive there,
// carrying the code-extraction pattern for that service (spec.md §3).
type ServiceGroup struct {
    ServiceID    int64  `json:"service_id" db:"service_id"`
    GroupChatID  string `json:"group_chat_id" db:"group_chat_id"`
    RegexPattern string `json:"regex_pattern" db:"regex_pattern"`
    Active       bool   `json:"active" db:"active"`
}
