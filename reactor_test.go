package evtimer

import (
	"os"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newTestReactor(t *testing.T, opts ...Option) (*Reactor, *fatalRecorder) {
	t.Helper()
	fr := &fatalRecorder{}
	opts = append([]Option{FatalHandler(fr.handle), WithLog(newTestLog(t))}, opts...)
	r, err := NewReactor(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r, fr
}

// runUntil drive the loop until cond is true or d elapsed
func runUntil(t *testing.T, r *Reactor, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out")
		}
		_, err := r.RunOnce(10)
		require.NoError(t, err)
	}
}

func openFds(t *testing.T) int {
	t.Helper()
	ents, err := os.ReadDir("/proc/self/fd")
	require.NoError(t, err)
	return len(ents)
}

func TestReactor_ZeroDelayScenario(t *testing.T) {
	r, fr := newTestReactor(t, TimerPoolSize(4))

	var fired [4]int
	for i := 0; i < 4; i++ {
		i := i
		h := r.CallbackAfterDelay(func() { fired[i]++ }, 0)
		require.False(t, h.IsNull())
	}
	time.Sleep(2 * time.Millisecond) // all four 1ns timerfds have expired

	n, err := r.RunOnce(100)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, [4]int{1, 1, 1, 1}, fired)
	assert.Equal(t, 0, r.Timers().Active())

	h := r.CallbackAfterDelay(func() {}, 0)
	assert.False(t, h.IsNull())
	assert.Empty(t, fr.errs)
}

func TestReactor_NotEarlierThanDelay(t *testing.T) {
	r, _ := newTestReactor(t)

	start := time.Now()
	var firedAt time.Time
	r.CallbackAfterDelay(func() { firedAt = time.Now() }, 30)
	runUntil(t, r, 2*time.Second, func() bool { return !firedAt.IsZero() })

	assert.GreaterOrEqual(t, firedAt.Sub(start), 30*time.Millisecond)
	assert.Equal(t, 0, r.Timers().Active())
}

func TestReactor_CancelBeforeFire(t *testing.T) {
	r, _ := newTestReactor(t)

	fired := false
	h := r.CallbackAfterDelay(func() { fired = true }, 40)
	_, err := r.RunOnce(20)
	require.NoError(t, err)
	r.CancelCallback(h)

	time.Sleep(40 * time.Millisecond)
	n, err := r.RunOnce(20)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.False(t, fired)
	assert.Equal(t, 0, r.Timers().Active())
}

func TestReactor_CancelPeerAfterBothExpired(t *testing.T) {
	r, _ := newTestReactor(t)

	var b TimerHandle
	bFired := false
	r.CallbackAfterDelay(func() { r.CancelCallback(b) }, 5)
	b = r.CallbackAfterDelay(func() { bFired = true }, 5)
	time.Sleep(15 * time.Millisecond)

	// epoll decides the order: either a cancels b, or b fires first and a cancels nothing
	runUntil(t, r, time.Second, func() bool { return r.Timers().Active() == 0 })
	if bFired {
		assert.Equal(t, uint64(2), r.Timers().Stats().Fired)
	} else {
		assert.Equal(t, uint64(1), r.Timers().Stats().Cancelled)
	}
}

func TestReactor_Exhausted(t *testing.T) {
	r, fr := newTestReactor(t, TimerPoolSize(2))

	r.CallbackAfterDelay(func() {}, 1000)
	r.CallbackAfterDelay(func() {}, 1000)
	h := r.CallbackAfterDelay(func() {}, 1000)

	assert.True(t, h.IsNull())
	require.Len(t, fr.errs, 1)
	assert.ErrorIs(t, fr.errs[0], ErrPoolExhausted)
}

func TestReactor_RunStopPost(t *testing.T) {
	defer leaktest.Check(t)()

	r, _ := newTestReactor(t)

	done := make(chan error, 1)
	go func() {
		done <- r.Run()
	}()

	firedC := make(chan struct{})
	go func() {
		r.Post(func() {
			r.CallbackAfterDelay(func() {
				close(firedC)
				r.Stop()
			}, 5)
		})
	}()

	select {
	case <-firedC:
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
	}
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.NoError(t, r.Close())
}

func TestReactor_PostBatch(t *testing.T) {
	r, _ := newTestReactor(t, PostBatch(2))

	ran := 0
	for i := 0; i < 5; i++ {
		r.Post(func() { ran++ })
	}
	runUntil(t, r, time.Second, func() bool { return ran == 5 })
	assert.Equal(t, 0, r.nt.pending())
}

func TestReactor_StopBeforeRun(t *testing.T) {
	r, _ := newTestReactor(t)

	r.Stop()
	assert.NoError(t, r.Run())
}

func TestReactor_CloseReleasesTimerfds(t *testing.T) {
	before := openFds(t)

	l, err := NewLog(t.TempDir()) // debug off, no log file gets opened
	require.NoError(t, err)
	defer l.Close()

	fr := &fatalRecorder{}
	r, err := NewReactor(TimerPoolSize(8), FatalHandler(fr.handle), WithLog(l))
	require.NoError(t, err)
	for i := 0; i < 8; i++ {
		r.CallbackAfterDelay(func() {}, 10000)
	}
	assert.Equal(t, before+2+8, openFds(t)) // epoll, eventfd, timerfds

	require.NoError(t, r.Close())
	assert.Equal(t, before, openFds(t))
	assert.NoError(t, r.Close())

	_, err = r.RunOnce(0)
	assert.Error(t, err)
	assert.Empty(t, fr.errs)
}

type pipeHandler struct {
	fd     int
	reads  int
	keep   bool
	closed bool
}

func (h *pipeHandler) OnRead() bool {
	var buf [16]byte
	unix.Read(h.fd, buf[:])
	h.reads++
	return h.keep
}

func (h *pipeHandler) OnClose() {
	h.closed = true
	unix.Close(h.fd)
}

func TestReactor_EvHandler(t *testing.T) {
	r, _ := newTestReactor(t)

	var p [2]int
	require.NoError(t, unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC))
	defer unix.Close(p[1])

	h := &pipeHandler{fd: p[0], keep: true}
	require.NoError(t, r.AddEvHandler(h, p[0], EvIn))
	assert.Error(t, r.AddEvHandler(h, p[0], EvIn))

	unix.Write(p[1], []byte("a"))
	runUntil(t, r, time.Second, func() bool { return h.reads == 1 })

	h.keep = false
	unix.Write(p[1], []byte("b"))
	runUntil(t, r, time.Second, func() bool { return h.closed })
	assert.Equal(t, 2, h.reads)
	assert.Error(t, r.RemoveEvHandler(p[0]))
}
