package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/nodestream-go/internal/core"
	"github.com/rmacdonaldsmith/nodestream-go/internal/eventstream"
	"github.com/rmacdonaldsmith/nodestream-go/pkg/reconnect"
)

var errRefused = errors.New("connection refused")

// fakeConn returns scripted Connect results; nil means connected.
type fakeConn struct {
	mu      sync.Mutex
	results []error
	calls   int

	lost         chan error
	disconnected chan struct{}
	done         chan struct{}
	connected    chan struct{}
}

func newFakeConn(results ...error) *fakeConn {
	return &fakeConn{
		results:      results,
		lost:         make(chan error, 1),
		disconnected: make(chan struct{}, 1),
		done:         make(chan struct{}),
		connected:    make(chan struct{}, 16),
	}
}

func (f *fakeConn) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.results) == 0 {
		f.connected <- struct{}{}
		return nil
	}
	err := f.results[0]
	f.results = f.results[1:]
	if err == nil || errors.Is(err, eventstream.ErrAlreadyConnected) {
		f.connected <- struct{}{}
	}
	return err
}

func (f *fakeConn) ConnectionLost() <-chan error  { return f.lost }
func (f *fakeConn) Disconnected() <-chan struct{} { return f.disconnected }
func (f *fakeConn) Done() <-chan struct{}         { return f.done }

func (f *fakeConn) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *recorder) Delays() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

func testPolicy() reconnect.Policy {
	return reconnect.Policy{
		BackoffFactor:          2,
		InitialDelay:           time.Second,
		MaxDelay:               5 * time.Second,
		ReconnectOnStreamError: true,
		RetryInitialConnect:    true,
		MaxAttempts:            reconnect.Infinite(),
	}
}

func run(t *testing.T, conn Connector, policy reconnect.Policy, rec *recorder) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- New(conn, policy, WithSleep(rec.sleep)).Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, errc
}

func result(t *testing.T, errc <-chan error) error {
	t.Helper()
	select {
	case err := <-errc:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not return")
		return nil
	}
}

func TestSupervisor_BackoffUntilConnected(t *testing.T) {
	conn := newFakeConn(errRefused, errRefused, errRefused, errRefused, errRefused)
	rec := &recorder{}
	policy := testPolicy()
	policy.ReconnectOnStreamError = false

	_, errc := run(t, conn, policy, rec)

	<-conn.connected
	lostErr := errors.New("node went away")
	conn.lost <- lostErr

	assert.ErrorIs(t, result(t, errc), lostErr)
	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second,
	}, rec.Delays())
	assert.Equal(t, 6, conn.Calls())
}

func TestSupervisor_MaxAttemptsExhausted(t *testing.T) {
	conn := newFakeConn(errRefused, errRefused, errRefused, errRefused)
	rec := &recorder{}
	policy := testPolicy()
	policy.MaxAttempts = reconnect.Finite(3)

	_, errc := run(t, conn, policy, rec)
	err := result(t, errc)

	var exhausted *RetriesExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, uint64(3), exhausted.Attempts)
	assert.ErrorIs(t, err, errRefused)
	assert.Equal(t, 3, conn.Calls())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, rec.Delays())
}

func TestSupervisor_NoRetryOfInitialConnect(t *testing.T) {
	conn := newFakeConn(errRefused)
	rec := &recorder{}
	policy := testPolicy()
	policy.RetryInitialConnect = false

	_, errc := run(t, conn, policy, rec)

	assert.ErrorIs(t, result(t, errc), errRefused)
	assert.Equal(t, 1, conn.Calls())
	assert.Empty(t, rec.Delays())
}

func TestSupervisor_InitialConnectPolicyOnlyAppliesBeforeFirstSuccess(t *testing.T) {
	conn := newFakeConn(nil, errRefused, errRefused, nil)
	rec := &recorder{}
	policy := testPolicy()
	policy.RetryInitialConnect = false

	cancel, errc := run(t, conn, policy, rec)

	<-conn.connected
	conn.lost <- eventstream.ErrStreamExhausted
	<-conn.connected
	cancel()

	assert.ErrorIs(t, result(t, errc), context.Canceled)
	assert.Equal(t, 4, conn.Calls())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, rec.Delays())
}

func TestSupervisor_BackoffResetsAfterReconnect(t *testing.T) {
	conn := newFakeConn(errRefused, errRefused, nil, errRefused, nil)
	rec := &recorder{}

	cancel, errc := run(t, conn, testPolicy(), rec)

	<-conn.connected
	conn.lost <- core.ErrNodeShutdown
	<-conn.connected
	cancel()

	assert.ErrorIs(t, result(t, errc), context.Canceled)
	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, // initial failures
		time.Second, 2 * time.Second, // reset after success: loss, then one failure
	}, rec.Delays())
}

func TestSupervisor_TerminalErrors(t *testing.T) {
	for _, terminalErr := range []error{core.ErrCommandChannelClosed, core.ErrAckLost} {
		t.Run(terminalErr.Error(), func(t *testing.T) {
			conn := newFakeConn(terminalErr)
			rec := &recorder{}
			_, errc := run(t, conn, testPolicy(), rec)

			assert.ErrorIs(t, result(t, errc), terminalErr)
			assert.Empty(t, rec.Delays())
		})
	}
}

func TestSupervisor_ClientStoppedWhileConnected(t *testing.T) {
	conn := newFakeConn(nil)
	_, errc := run(t, conn, testPolicy(), &recorder{})

	<-conn.connected
	close(conn.done)

	assert.ErrorIs(t, result(t, errc), core.ErrCommandChannelClosed)
}

func TestSupervisor_StopsOnExplicitDisconnect(t *testing.T) {
	conn := newFakeConn(nil)
	rec := &recorder{}
	_, errc := run(t, conn, testPolicy(), rec)

	<-conn.connected
	conn.disconnected <- struct{}{}

	assert.ErrorIs(t, result(t, errc), core.ErrDisconnected)
	assert.Equal(t, 1, conn.Calls())
	assert.Empty(t, rec.Delays())
}

func TestSupervisor_AlreadyConnectedCountsAsConnected(t *testing.T) {
	conn := newFakeConn(eventstream.ErrAlreadyConnected)
	rec := &recorder{}
	cancel, errc := run(t, conn, testPolicy(), rec)

	<-conn.connected
	cancel()

	assert.ErrorIs(t, result(t, errc), context.Canceled)
	assert.Empty(t, rec.Delays())
}

func TestSupervisor_CancelDuringBackoff(t *testing.T) {
	conn := newFakeConn(errRefused)
	ctx, cancel := context.WithCancel(context.Background())

	errc := make(chan error, 1)
	go func() {
		errc <- New(conn, testPolicy(), WithSleep(func(ctx context.Context, d time.Duration) error {
			cancel()
			return sleepCtx(ctx, d)
		})).Run(ctx)
	}()

	assert.ErrorIs(t, result(t, errc), context.Canceled)
}

func TestRetriesExhaustedError(t *testing.T) {
	err := &RetriesExhaustedError{Attempts: 2, Last: errRefused}
	assert.Contains(t, err.Error(), "2 connection attempts")
	assert.ErrorIs(t, err, errRefused)
}
