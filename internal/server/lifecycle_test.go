package server_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/greyhelm/gamemaster/internal/config"
	"github.com/greyhelm/gamemaster/internal/server"
)

// stubService blocks in Start until Stop is called, like the real HTTP
// frontend does.
type stubService struct {
	startErr error
	quit     chan struct{}
	onStop   func()
	once     sync.Once
}

func newStubService() *stubService {
	return &stubService{quit: make(chan struct{})}
}

func (s *stubService) Start() error {
	if s.startErr != nil {
		return s.startErr
	}
	<-s.quit
	return nil
}

func (s *stubService) Stop() {
	if s.onStop != nil {
		s.onStop()
	}
	s.once.Do(func() { close(s.quit) })
}

func TestLifecycleStopsServicesInReverseOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	track := func(name string) *stubService {
		s := newStubService()
		s.onStop = func() {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}
		return s
	}

	lc := server.NewLifecycle(zap.NewNop())
	lc.Add("postgres", track("postgres"))
	lc.Add("http", track("http"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- lc.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err, "a cancelled run is a clean exit")
	case <-time.After(3 * time.Second):
		t.Fatal("lifecycle did not shut down")
	}
	assert.Equal(t, []string{"http", "postgres"}, order)
}

func TestLifecycleReturnsFailingServiceError(t *testing.T) {
	boom := errors.New("address already in use")
	bad := newStubService()
	bad.startErr = boom

	lc := server.NewLifecycle(zap.NewNop())
	lc.Add("http", newStubService())
	lc.Add("keepalive", bad)

	err := lc.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "keepalive")
}

func TestLifecycleServesHTTPUntilShutdown(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"status":"ok"}`)
	})
	cfg := config.ServerConfig{
		Host:            "127.0.0.1",
		Port:            0,
		ReadTimeout:     time.Second,
		WriteTimeout:    time.Second,
		ShutdownTimeout: time.Second,
	}
	svc := server.NewHTTPService(cfg, mux, zap.NewNop())

	lc := server.NewLifecycle(zap.NewNop())
	lc.Add("http", svc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- lc.Run(ctx) }()

	var addr string
	require.Eventually(t, func() bool {
		addr = svc.Addr()
		return addr != ""
	}, 2*time.Second, 10*time.Millisecond, "listener never bound")

	resp, err := http.Get("http://" + addr + "/health")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "ok")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("lifecycle did not shut down")
	}

	_, err = http.Get("http://" + addr + "/health")
	assert.Error(t, err, "listener must be closed after shutdown")
}
