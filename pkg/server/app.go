package server

import (
	"context"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	mid "AlertGate/internal/middleware"
	"AlertGate/internal/service/stream"
	"AlertGate/internal/usecase"
	"AlertGate/pkg/config"
	xhttp "AlertGate/pkg/http"
	pkgkafka "AlertGate/pkg/kafka"
	"AlertGate/pkg/logger"
)

// Closer is an infrastructure client released after everything else stopped.
type Closer struct {
	Name  string
	Close func() error
}

// IOCloser adapts an io.Closer.
func IOCloser(name string, c io.Closer) Closer {
	return Closer{Name: name, Close: c.Close}
}

// App encapsulates the application lifecycle.
type App struct {
	cfg        *config.Config
	log        *logger.Logger
	scheduler  *usecase.Scheduler
	dispatcher *usecase.Dispatcher
	queue      *usecase.DeliveryQueue
	monitor    *stream.Monitor
	gate       *mid.StreamGate
	consumer   *pkgkafka.Consumer
	httpServer *xhttp.Server

	mu      sync.Mutex
	closers []Closer
}

// Components are the long-running parts App drives. Consumer and Monitor may be nil.
type Components struct {
	Scheduler  *usecase.Scheduler
	Dispatcher *usecase.Dispatcher
	Queue      *usecase.DeliveryQueue
	Monitor    *stream.Monitor
	Gate       *mid.StreamGate
	Consumer   *pkgkafka.Consumer
	HTTP       *xhttp.Server
}

func New(cfg *config.Config, l *logger.Logger, c Components, closers ...Closer) *App {
	if l == nil {
		l = logger.Nop()
	}
	return &App{
		cfg:        cfg,
		log:        l.Component("app"),
		scheduler:  c.Scheduler,
		dispatcher: c.Dispatcher,
		queue:      c.Queue,
		monitor:    c.Monitor,
		gate:       c.Gate,
		consumer:   c.Consumer,
		httpServer: c.HTTP,
		closers:    closers,
	}
}

// AddCloser registers a client to release on shutdown. Closers run in reverse order.
func (a *App) AddCloser(c Closer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closers = append(a.closers, c)
}

// Run starts every component and blocks until SIGINT/SIGTERM, ctx cancellation or a fatal
// HTTP listen error, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// intake: everything that produces candidates or requests
	intakeCtx, stopIntake := context.WithCancel(ctx)
	defer stopIntake()
	intake, intakeCtx := errgroup.WithContext(intakeCtx)

	// delivery outlives intake so queued alerts keep flowing while producers wind down
	deliveryCtx, stopDelivery := context.WithCancel(context.WithoutCancel(ctx))
	defer stopDelivery()
	deliveryDone := make(chan struct{})

	go func() {
		defer close(deliveryDone)
		if err := a.dispatcher.Run(deliveryCtx); err != nil {
			a.log.Error("dispatcher stopped", logger.Error(err))
		}
	}()

	if a.gate != nil {
		a.gate.Start(intakeCtx)
	}
	intake.Go(func() error {
		a.scheduler.Run(intakeCtx)
		return nil
	})
	if a.monitor != nil {
		intake.Go(func() error {
			a.monitor.Run(intakeCtx)
			return nil
		})
	}
	if a.consumer != nil {
		if err := a.consumer.Start(intakeCtx); err != nil {
			a.log.Error("kafka consumer not started", logger.Error(err))
		} else {
			a.log.Info("kafka consumer started")
		}
	}

	var fatal error
	if a.httpServer != nil {
		if err := a.httpServer.Start(); err != nil {
			fatal = err
		}
	}
	a.log.Info("alertgate running", logger.String("env", a.cfg.Environment))

	if fatal == nil {
		fatal = a.wait(ctx)
	}
	a.log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout+a.cfg.Queue.DrainTimeout)
	defer cancel()

	if a.httpServer != nil {
		if err := a.httpServer.Stop(shutdownCtx); err != nil {
			a.log.Warn("http shutdown", logger.Error(err))
		}
	}
	if a.consumer != nil {
		if err := a.consumer.Stop(shutdownCtx); err != nil {
			a.log.Warn("kafka consumer stop", logger.Error(err))
		}
	}
	stopIntake()
	_ = intake.Wait()
	if a.gate != nil {
		a.gate.Stop()
	}

	// one last drain for whatever intake enqueued while stopping
	if _, err := a.dispatcher.DrainOnce(shutdownCtx); err != nil {
		a.log.Warn("final drain", logger.Error(err))
	}
	stopDelivery()
	<-deliveryDone

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), a.drainTimeout())
	defer cancelDrain()
	if err := a.queue.Close(drainCtx); err != nil {
		a.log.Warn("delivery queue close", logger.Error(err))
	}

	a.closeAll()
	a.log.Info("shutdown complete")
	return fatal
}

func (a *App) wait(ctx context.Context) error {
	var errs <-chan error
	if a.httpServer != nil {
		errs = a.httpServer.Errors()
	}
	select {
	case <-ctx.Done():
		return nil
	case err := <-errs:
		return err
	}
}

func (a *App) drainTimeout() time.Duration {
	if a.cfg.Queue.DrainTimeout > 0 {
		return a.cfg.Queue.DrainTimeout
	}
	return 10 * time.Second
}

func (a *App) closeAll() {
	a.mu.Lock()
	closers := a.closers
	a.closers = nil
	a.mu.Unlock()

	for i := len(closers) - 1; i >= 0; i-- {
		c := closers[i]
		if err := c.Close(); err != nil {
			a.log.Warn("close failed", logger.String("client", c.Name), logger.Error(err))
		}
	}
}
