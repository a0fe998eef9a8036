// Package dispatch запускает побочные эффекты жизненного цикла (уведомления) в фоне,
// не задерживая ответ вызывающему.
package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/vladislavdragonenkov/returns/internal/metrics"
)

const (
	defaultConcurrency = 32
	defaultTaskTimeout = 30 * time.Second
)

// Task — фоновая задача. ctx не отменяется вместе с запросом, но ограничен taskTimeout.
type Task func(ctx context.Context) error

// Dispatcher выполняет задачи не более чем в concurrency горутинах.
// Если все слоты заняты или идёт остановка, задача выполняется синхронно в вызывающей горутине:
// хотя бы одна попытка гарантирована.
type Dispatcher struct {
	sem         *semaphore.Weighted
	taskTimeout time.Duration
	metrics     *metrics.ReturnsMetrics
	logger      *log.Entry

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// Option настраивает Dispatcher.
type Option func(*Dispatcher)

// WithConcurrency ограничивает число одновременно выполняемых задач.
func WithConcurrency(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithTaskTimeout ограничивает длительность одной задачи.
func WithTaskTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.taskTimeout = timeout
		}
	}
}

// WithMetrics подключает gauge выполняющихся задач.
func WithMetrics(m *metrics.ReturnsMetrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// New создаёт Dispatcher.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sem:         semaphore.NewWeighted(defaultConcurrency),
		taskTimeout: defaultTaskTimeout,
		logger:      log.New().WithField("component", "dispatcher"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Go запускает задачу в фоне. Возвращает false, если задача выполнилась синхронно.
func (d *Dispatcher) Go(ctx context.Context, name string, task Task) bool {
	taskCtx := context.WithoutCancel(ctx)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.logger.WithField("task", name).Warn("dispatcher is shutting down, running task inline")
		d.run(taskCtx, name, task)
		return false
	}
	if !d.sem.TryAcquire(1) {
		d.mu.Unlock()
		d.logger.WithField("task", name).Warn("dispatcher is saturated, running task inline")
		d.run(taskCtx, name, task)
		return false
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		defer d.sem.Release(1)
		d.run(taskCtx, name, task)
	}()
	return true
}

func (d *Dispatcher) run(ctx context.Context, name string, task Task) {
	ctx, cancel := context.WithTimeout(ctx, d.taskTimeout)
	defer cancel()

	d.metrics.DispatchStarted()
	defer d.metrics.DispatchFinished()

	start := time.Now()
	err := safeCall(ctx, task)
	if err != nil {
		d.logger.WithError(err).WithFields(log.Fields{
			"task":     name,
			"duration": time.Since(start),
		}).Warn("background task failed")
	}
}

func safeCall(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return task(ctx)
}

// Wait ждёт завершения всех запущенных задач.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Shutdown запрещает новые фоновые запуски и ждёт текущие задачи до истечения ctx.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	waitDone := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(waitDone)
	}()

	select {
	case <-waitDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
