package callback

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/puneetrinity/signal-sourcing/internal/model"
)

type fakeSweepLister struct {
	requests []model.SourcingRequest
}

func (f *fakeSweepLister) ListCallbackFailedForSweep(ctx context.Context, maxAge time.Duration, batchSize int, tenantID string) ([]model.SourcingRequest, error) {
	return f.requests, nil
}

func TestSweeperRedeliversAndMarksSent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	lister := &fakeSweepLister{requests: []model.SourcingRequest{
		{ID: "req-1", TenantID: "tenant-1", ExternalJobID: "ext-1", CallbackURL: srv.URL, ResultCount: 10},
	}}
	updater := &fakeRequestUpdater{}
	d := NewDispatcher(testSigner(t), updater)
	d.sleep = func(time.Duration) {}

	sweeper := NewSweeper(lister, d, time.Minute, 30*time.Minute, 50)
	sweeper.sweepOnce(context.Background())

	assert.True(t, updater.sent)
}

func TestSweeperSkipsOverlappingCycle(t *testing.T) {
	lister := &fakeSweepLister{}
	updater := &fakeRequestUpdater{}
	d := NewDispatcher(testSigner(t), updater)

	sweeper := NewSweeper(lister, d, time.Minute, 30*time.Minute, 50)
	sweeper.running = 1

	sweeper.sweepOnce(context.Background())
	require.Equal(t, int32(1), sweeper.running)
}
