package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Manager управляет graceful shutdown сервиса.
// Функции выполняются в обратном порядке регистрации: то, что поднято последним, гасится первым.
type Manager struct {
	timeout time.Duration
	logger  *zap.Logger
	funcs   []shutdownFunc
	mu      sync.Mutex
}

type shutdownFunc struct {
	name string
	fn   func(context.Context) error
}

// New создаёт Manager; timeout ограничивает каждую функцию отдельно
func New(timeout time.Duration, logger *zap.Logger) *Manager {
	return &Manager{
		timeout: timeout,
		logger:  logger,
	}
}

// Add регистрирует shutdown функцию
func (m *Manager) Add(name string, fn func(context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.funcs = append(m.funcs, shutdownFunc{name: name, fn: fn})
}

// Wait блокируется до SIGINT/SIGTERM либо отмены ctx, затем выполняет Shutdown
func (m *Manager) Wait(ctx context.Context) {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	m.logger.Info("received shutdown signal, starting graceful shutdown")
	m.Shutdown()
}

// Shutdown выполняет зарегистрированные функции в обратном порядке.
// Ошибка одной функции не прерывает остальные.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	funcs := make([]shutdownFunc, len(m.funcs))
	copy(funcs, m.funcs)
	m.funcs = nil
	m.mu.Unlock()

	for i := len(funcs) - 1; i >= 0; i-- {
		fn := funcs[i]

		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		start := time.Now()
		err := fn.fn(ctx)
		cancel()

		if err != nil {
			m.logger.Error("shutdown function failed",
				zap.String("name", fn.name),
				zap.Error(err),
				zap.Duration("duration", time.Since(start)))
			continue
		}
		m.logger.Info("shutdown function completed",
			zap.String("name", fn.name),
			zap.Duration("duration", time.Since(start)))
	}

	m.logger.Info("graceful shutdown completed")
}

// ShutdownHTTPServer возвращает shutdown функцию для http.Server
func ShutdownHTTPServer(srv interface {
	Shutdown(context.Context) error
}) func(context.Context) error {
	return func(ctx context.Context) error {
		return srv.Shutdown(ctx)
	}
}

// ClosePool возвращает shutdown функцию для пула без ошибки закрытия (pgxpool.Pool)
func ClosePool(pool interface {
	Close()
}) func(context.Context) error {
	return func(ctx context.Context) error {
		pool.Close()
		return nil
	}
}

// CloseClient возвращает shutdown функцию для клиента с Close() error (redis, kafka.Writer)
func CloseClient(client interface {
	Close() error
}) func(context.Context) error {
	return func(ctx context.Context) error {
		return client.Close()
	}
}

// StopWorker отменяет контекст фоновой горутины и ждёт её завершения не дольше таймаута
func StopWorker(cancel context.CancelFunc, done <-chan struct{}) func(context.Context) error {
	return func(ctx context.Context) error {
		cancel()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
