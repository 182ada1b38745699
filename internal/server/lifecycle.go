// Package server runs the process's long-lived pieces, the HTTP frontend
// and the database keepalive, under one lifecycle: start in registration
// order, stop in reverse on SIGINT, SIGTERM, or the first service failure.
package server

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Service is one long-running component. Start blocks until the service
// exits; Stop asks it to.
type Service interface {
	Start() error
	Stop()
}

// FuncService adapts a start/stop function pair into a Service.
type FuncService struct {
	StartFn func() error
	StopFn  func()
}

func (f *FuncService) Start() error { return f.StartFn() }
func (f *FuncService) Stop()        { f.StopFn() }

// Lifecycle owns a set of named services. Add every service before calling
// Run; Add is not safe to call concurrently with Run.
type Lifecycle struct {
	logger   *zap.Logger
	services []entry
}

type entry struct {
	name string
	svc  Service
}

// NewLifecycle creates an empty Lifecycle.
func NewLifecycle(logger *zap.Logger) *Lifecycle {
	return &Lifecycle{logger: logger}
}

// Add registers a service. Start order follows Add order; stop order is the
// reverse.
func (l *Lifecycle) Add(name string, svc Service) {
	l.services = append(l.services, entry{name: name, svc: svc})
}

// Run starts every registered service and blocks until a termination signal
// arrives, the context is cancelled, or a service fails. All services are
// stopped in reverse order before Run returns. The return value is nil on a
// signalled or cancelled exit and the failing service's error otherwise.
func (l *Lifecycle) Run(ctx context.Context) error {
	start := time.Now()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	failed := make(chan error, len(l.services))
	for _, e := range l.services {
		e := e
		go func() {
			l.logger.Info("service starting", zap.String("service", e.name))
			if err := e.svc.Start(); err != nil {
				failed <- fmt.Errorf("service %s: %w", e.name, err)
			}
		}()
	}
	l.logger.Info("services running", zap.Int("count", len(l.services)))

	var runErr error
	select {
	case <-ctx.Done():
		l.logger.Info("shutdown requested")
	case runErr = <-failed:
		l.logger.Error("service failed", zap.Error(runErr))
	}

	l.stopAll()
	l.logger.Info("shutdown complete", zap.Duration("uptime", time.Since(start)))
	return runErr
}

// stopAll stops services newest-first so the HTTP frontend drains before
// the stores it depends on go away.
func (l *Lifecycle) stopAll() {
	for i := len(l.services) - 1; i >= 0; i-- {
		e := l.services[i]
		begin := time.Now()
		e.svc.Stop()
		l.logger.Info("service stopped",
			zap.String("service", e.name),
			zap.Duration("elapsed", time.Since(begin)),
		)
	}
}
