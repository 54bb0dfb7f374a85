package callback

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSigner(t *testing.T) *Signer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der := x509.MarshalPKCS1PrivateKey(key)
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: der}
	return NewSigner(string(pem.EncodeToMemory(block)), "v1")
}

func TestSignerProducesVerifiableToken(t *testing.T) {
	signer := testSigner(t)
	token, err := signer.Sign("tenant-1", "req-1")
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	parsed, err := jwt.Parse(token, func(*jwt.Token) (any, error) { return &signer.key.PublicKey, nil })
	require.NoError(t, err)
	assert.True(t, parsed.Valid)
}

type fakeRequestUpdater struct {
	attempts int
	lastErr  *string
	sent     bool
	failed   bool
}

func (f *fakeRequestUpdater) IncrementCallbackAttempt(ctx context.Context, id string, lastErr *string) error {
	f.attempts++
	f.lastErr = lastErr
	return nil
}
func (f *fakeRequestUpdater) SetCallbackSent(ctx context.Context, id string) error {
	f.sent = true
	return nil
}
func (f *fakeRequestUpdater) SetCallbackFailed(ctx context.Context, id string) error {
	f.failed = true
	return nil
}

func TestDeliverSucceedsOnFirstAttempt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Contains(t, r.Header.Get("Authorization"), "Bearer ")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	updater := &fakeRequestUpdater{}
	d := NewDispatcher(testSigner(t), updater)
	d.sleep = func(time.Duration) {}

	err := d.Deliver(context.Background(), "tenant-1", "req-1", srv.URL, Payload{Version: 1, RequestID: "req-1", Status: "complete", CandidateCount: 5})
	require.NoError(t, err)
	assert.True(t, updater.sent)
	assert.False(t, updater.failed)
	assert.Equal(t, 1, updater.attempts)
}

func TestDeliverRetriesThenFailsAfterMaxAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	updater := &fakeRequestUpdater{}
	d := NewDispatcher(testSigner(t), updater)
	d.sleep = func(time.Duration) {}

	err := d.Deliver(context.Background(), "tenant-1", "req-2", srv.URL, Payload{Version: 1, RequestID: "req-2", Status: "complete"})
	require.Error(t, err)
	assert.True(t, updater.failed)
	assert.False(t, updater.sent)
	assert.Equal(t, maxAttempts, updater.attempts)
}

func TestDeliverRecoversAfterTransientFailures(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	updater := &fakeRequestUpdater{}
	d := NewDispatcher(testSigner(t), updater)
	d.sleep = func(time.Duration) {}

	err := d.Deliver(context.Background(), "tenant-1", "req-3", srv.URL, Payload{Version: 1, RequestID: "req-3", Status: "complete"})
	require.NoError(t, err)
	assert.True(t, updater.sent)
	assert.Equal(t, 3, updater.attempts)
}
