// Package httpapi exposes the correlator's message intake endpoint and
// the engine's liveness/readiness probes over HTTP (spec.md §6, §C.2).
package httpapi

import (
    "context"
    "crypto/hmac"
    "crypto/sha256"
    "crypto/subtle"
    "encoding/json"
    "fmt"
    "io"
    "net/http"
    "sync"
    "time"

    "github.com/gorilla/mux"

    "github.com/hamzaKhattat/reservation-engine/internal/correlator"
    "github.com/hamzaKhattat/reservation-engine/pkg/errors"
    "github.com/hamzaKhattat/reservation-engine/pkg/logger"
)

// Checker mirrors the probe contract the engine registers health/readiness
// checks under.
type Checker interface {
    Check(ctx context.Context) error
}

type CheckFunc func(ctx context.Context) error

func (f CheckFunc) Check(ctx context.Context) error { return f(ctx) }

// Config configures the Server.
type Config struct {
    Addr       string
    HMACSecret string // empty disables signature verification
}

// Server hosts the correlator intake webhook and the two Kubernetes-style
// probe endpoints.
type Server struct {
    cfg        Config
    correlator *correlator.Correlator
    httpServer *http.Server

    mu          sync.RWMutex
    liveChecks  map[string]Checker
    readyChecks map[string]Checker
}

func New(cfg Config, corr *correlator.Correlator) *Server {
    s := &Server{
        cfg:         cfg,
        correlator:  corr,
        liveChecks:  make(map[string]Checker),
        readyChecks: make(map[string]Checker),
    }

    router := mux.NewRouter()
    router.HandleFunc("/v1/messages", s.handleMessage).Methods(http.MethodPost)
    router.HandleFunc("/health/live", s.handleLiveness).Methods(http.MethodGet)
    router.HandleFunc("/health/ready", s.handleReadiness).Methods(http.MethodGet)

    s.httpServer = &http.Server{
        Addr:         cfg.Addr,
        Handler:      router,
        ReadTimeout:  10 * time.Second,
        WriteTimeout: 10 * time.Second,
    }
    return s
}

func (s *Server) RegisterLivenessCheck(name string, c Checker)  { s.register(s.liveChecks, name, c) }
func (s *Server) RegisterReadinessCheck(name string, c Checker) { s.register(s.readyChecks, name, c) }

func (s *Server) register(m map[string]Checker, name string, c Checker) {
    s.mu.Lock()
    defer s.mu.Unlock()
    m[name] = c
}

func (s *Server) Start() error {
    logger.WithField("addr", s.cfg.Addr).Info("http api listening")
    return s.httpServer.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
    return s.httpServer.Shutdown(ctx)
}

// messagePayload is the gateway's push shape for an inbound SMS.
type messagePayload struct {
    GroupChatID   string `json:"group_chat_id"`
    SenderID      string `json:"sender_id"`
    Text          string `json:"text"`
    ExternalMsgID string `json:"message_id"`
    ReceivedAt    int64  `json:"received_at"` // unix seconds
}

// handleMessage verifies the gateway's HMAC-SHA256 signature (when
// configured) and hands the payload to the correlator pipeline.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
    ctx := r.Context()
    body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
    if err != nil {
        writeError(w, errors.New(errors.ErrInvalidRequest, "failed to read body").WithStatusCode(http.StatusBadRequest))
        return
    }

    if s.cfg.HMACSecret != "" {
        if !verifySignature(s.cfg.HMACSecret, body, r.Header.Get("X-Signature")) {
            writeError(w, errors.New(errors.ErrUnauthorized, "invalid signature").WithStatusCode(http.StatusUnauthorized))
            return
        }
    }

    var payload messagePayload
    if err := json.Unmarshal(body, &payload); err != nil {
        writeError(w, errors.New(errors.ErrInvalidRequest, "malformed payload").WithStatusCode(http.StatusBadRequest))
        return
    }
    if payload.GroupChatID == "" || payload.Text == "" {
        writeError(w, errors.New(errors.ErrInvalidRequest, "group_chat_id and text are required").WithStatusCode(http.StatusBadRequest))
        return
    }

    receivedAt := time.Now()
    if payload.ReceivedAt > 0 {
        receivedAt = time.Unix(payload.ReceivedAt, 0)
    }

    outcome, err := s.correlator.Submit(ctx, correlator.Inbound{
        GroupChatID:   payload.GroupChatID,
        SenderID:      payload.SenderID,
        Text:          payload.Text,
        ExternalMsgID: payload.ExternalMsgID,
        ReceivedAt:    receivedAt,
    })
    if err != nil {
        logger.WithContext(ctx).WithError(err).Warn("correlator pipeline failed")
        writeError(w, errors.Wrap(err, errors.ErrInternal, "pipeline failure"))
        return
    }

    writeJSON(w, http.StatusAccepted, map[string]string{"outcome": string(outcome)})
}

func verifySignature(secret string, body []byte, signature string) bool {
    if signature == "" {
        return false
    }
    mac := hmac.New(sha256.New, []byte(secret))
    mac.Write(body)
    expected := fmt.Sprintf("%x", mac.Sum(nil))
    return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
    s.handleChecks(w, r, s.liveChecks)
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
    s.handleChecks(w, r, s.readyChecks)
}

type checkResult struct {
    Status string `json:"status"`
    Error  string `json:"error,omitempty"`
}

func (s *Server) handleChecks(w http.ResponseWriter, r *http.Request, checks map[string]Checker) {
    ctx := r.Context()
    s.mu.RLock()
    defer s.mu.RUnlock()

    status := "ok"
    results := make(map[string]checkResult, len(checks))
    for name, check := range checks {
        if err := check.Check(ctx); err != nil {
            status = "failed"
            results[name] = checkResult{Status: "failed", Error: err.Error()}
            continue
        }
        results[name] = checkResult{Status: "ok"}
    }

    code := http.StatusOK
    if status != "ok" {
        code = http.StatusServiceUnavailable
    }
    writeJSON(w, code, map[string]interface{}{"status": status, "checks": results})
}

func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
    w.Header().Set("Content-Type", "application/json")
    w.WriteHeader(statusCode)
    json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
    statusCode := http.StatusInternalServerError
    if appErr, ok := err.(*errors.AppError); ok {
        statusCode = appErr.StatusCode
    }
    writeJSON(w, statusCode, map[string]string{"error": err.Error()})
}
