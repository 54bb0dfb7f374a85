package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Payload is the canonical callback body (§4.J / §6).
type Payload struct {
	Version        int    `json:"version"`
	RequestID      string `json:"requestId"`
	ExternalJobID  string `json:"externalJobId"`
	Status         string `json:"status"`
	CandidateCount int    `json:"candidateCount"`
	EnrichedCount  int    `json:"enrichedCount"`
	Error          string `json:"error,omitempty"`
}

// RequestUpdater is the subset of RequestStore the delivery path needs.
type RequestUpdater interface {
	IncrementCallbackAttempt(ctx context.Context, id string, lastErr *string) error
	SetCallbackSent(ctx context.Context, id string) error
	SetCallbackFailed(ctx context.Context, id string) error
}

var backoffDelays = []time.Duration{1 * time.Second, 3 * time.Second, 10 * time.Second, 30 * time.Second}

const maxAttempts = 5

// Dispatcher signs and delivers callback payloads with retry+backoff.
type Dispatcher struct {
	signer     *Signer
	httpClient *http.Client
	requests   RequestUpdater
	sleep      func(time.Duration)
	jitter     func() float64
}

// NewDispatcher builds a Dispatcher against the signer used for every
// attempt's JWT and the store used to persist attempt/outcome bookkeeping.
func NewDispatcher(signer *Signer, requests RequestUpdater) *Dispatcher {
	return &Dispatcher{
		signer:     signer,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		requests:   requests,
		sleep:      time.Sleep,
		jitter:     func() float64 { return 0.8 + rand.Float64()*0.4 },
	}
}

// Deliver attempts callback delivery up to maxAttempts times, persisting
// callbackAttempts/lastCallbackError on every attempt and the terminal
// status (callback_sent or callback_failed) on the outcome.
func (d *Dispatcher) Deliver(ctx context.Context, tenantID, requestID, callbackURL string, payload Payload) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := d.attempt(ctx, tenantID, requestID, callbackURL, payload)
		var errMsg *string
		if err != nil {
			msg := err.Error()
			errMsg = &msg
		}
		if uErr := d.requests.IncrementCallbackAttempt(ctx, requestID, errMsg); uErr != nil {
			log.Warn().Err(uErr).Str("request_id", requestID).Msg("callback_attempt_persist_failed")
		}
		if err == nil {
			if sErr := d.requests.SetCallbackSent(ctx, requestID); sErr != nil {
				log.Warn().Err(sErr).Str("request_id", requestID).Msg("callback_sent_persist_failed")
			}
			return nil
		}

		lastErr = err
		log.Warn().Err(err).Str("request_id", requestID).Int("attempt", attempt).Msg("callback_delivery_attempt_failed")

		if attempt < maxAttempts {
			d.sleep(time.Duration(float64(backoffDelays[attempt-1]) * d.jitter()))
		}
	}

	if fErr := d.requests.SetCallbackFailed(ctx, requestID); fErr != nil {
		log.Warn().Err(fErr).Str("request_id", requestID).Msg("callback_failed_persist_failed")
	}
	return fmt.Errorf("callback delivery exhausted %d attempts: %w", maxAttempts, lastErr)
}

func (d *Dispatcher) attempt(ctx context.Context, tenantID, requestID, callbackURL string, payload Payload) error {
	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal callback payload: %w", err)
	}

	token, err := d.signer.Sign(tenantID, requestID)
	if err != nil {
		return fmt.Errorf("sign callback jwt: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, callbackURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build callback request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("callback request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("callback http %d: %s", resp.StatusCode, string(respBody))
}
