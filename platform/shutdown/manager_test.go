package shutdown

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePool struct{ closed bool }

func (p *fakePool) Close() { p.closed = true }

func TestManager_ShutdownOrder(t *testing.T) {
	m := New(time.Second, zap.NewNop())

	var order []string
	m.Add("first", func(context.Context) error { order = append(order, "first"); return nil })
	m.Add("failing", func(context.Context) error { order = append(order, "failing"); return errors.New("boom") })
	m.Add("last", func(context.Context) error { order = append(order, "last"); return nil })

	m.Shutdown()
	assert.Equal(t, []string{"last", "failing", "first"}, order)

	// повторный вызов ничего не выполняет
	m.Shutdown()
	assert.Len(t, order, 3)
}

func TestManager_WaitOnContext(t *testing.T) {
	m := New(time.Second, zap.NewNop())
	pool := &fakePool{}
	m.Add("pool", ClosePool(pool))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Wait(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after cancel")
	}
	assert.True(t, pool.closed)
}

func TestStopWorker(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(done)
	}()
	require.NoError(t, StopWorker(cancel, done)(context.Background()))

	stuck := make(chan struct{})
	timeout, cancelTimeout := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancelTimeout()
	err := StopWorker(func() {}, stuck)(timeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
