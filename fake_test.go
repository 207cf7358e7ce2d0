package evtimer

import (
	"errors"
	"math"
	"sort"
	"testing"

	"golang.org/x/sys/unix"
)

// fakeTimerfd timerfds over a simulated clock, fd numbers are recycled lowest first like the kernel does
type fakeTimerfd struct {
	now    int64 // nanosecond
	timers map[int]*fakeTimer

	failCreate  error
	failSettime error

	created int
	closed  int
}

type fakeTimer struct {
	deadline int64 // -1: disarmed
}

func newFakeTimerfd() *fakeTimerfd {
	return &fakeTimerfd{timers: make(map[int]*fakeTimer)}
}

func (f *fakeTimerfd) create(clockid int) (int, error) {
	if f.failCreate != nil {
		return -1, f.failCreate
	}
	fd := 100
	for f.timers[fd] != nil {
		fd++
	}
	f.timers[fd] = &fakeTimer{deadline: -1}
	f.created++
	return fd, nil
}

func (f *fakeTimerfd) settime(fd int, spec *unix.ItimerSpec) error {
	if f.failSettime != nil {
		return f.failSettime
	}
	t := f.timers[fd]
	if t == nil {
		return unix.EBADF
	}
	sec, nsec := int64(spec.Value.Sec), int64(spec.Value.Nsec)
	switch {
	case sec == 0 && nsec == 0:
		t.deadline = -1
	case sec >= (math.MaxInt64-f.now)/1e9-1: // beyond the simulated clock
		t.deadline = math.MaxInt64
	default:
		t.deadline = f.now + sec*1e9 + nsec
	}
	return nil
}

func (f *fakeTimerfd) read(fd int) (uint64, error) {
	t := f.timers[fd]
	if t == nil {
		return 0, unix.EBADF
	}
	if !t.expired(f.now) {
		return 0, unix.EAGAIN
	}
	t.deadline = -1
	return 1, nil
}

func (f *fakeTimerfd) close(fd int) error {
	if f.timers[fd] == nil {
		return unix.EBADF
	}
	delete(f.timers, fd)
	f.closed++
	return nil
}

func (f *fakeTimerfd) open() int {
	return len(f.timers)
}

func (t *fakeTimer) expired(now int64) bool {
	return t.deadline >= 0 && now >= t.deadline
}

// fakeRegistry records readiness watches
type fakeRegistry struct {
	watched map[int]EvHandler
	failAdd error
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{watched: make(map[int]EvHandler)}
}

func (r *fakeRegistry) AddReadinessWatch(fd int, eh EvHandler) error {
	if r.failAdd != nil {
		return r.failAdd
	}
	if _, ok := r.watched[fd]; ok {
		return errors.New("fd already registered")
	}
	r.watched[fd] = eh
	return nil
}

func (r *fakeRegistry) RemoveReadinessWatch(fd int) error {
	if _, ok := r.watched[fd]; !ok {
		return errors.New("fd not registered")
	}
	delete(r.watched, fd)
	return nil
}

type fatalRecorder struct {
	errs []*FatalError
}

func (fr *fatalRecorder) handle(fe *FatalError) {
	fr.errs = append(fr.errs, fe)
}

// fakeLoop drives a TimerPool like evPoll does: collect the ready fds first,
// then dispatch them one by one, looking the handler up at dispatch time.
type fakeLoop struct {
	tfd   *fakeTimerfd
	reg   *fakeRegistry
	fatal *fatalRecorder
	tp    *TimerPool
}

func newFakeLoop(t *testing.T, size int) *fakeLoop {
	t.Helper()
	fl := &fakeLoop{
		tfd:   newFakeTimerfd(),
		reg:   newFakeRegistry(),
		fatal: &fatalRecorder{},
	}
	fl.tp = newTimerPool(fl.reg, setOptions(
		TimerPoolSize(size),
		FatalHandler(fl.fatal.handle),
		withTimerfdOps(fl.tfd),
		WithLog(newTestLog(t)),
	))
	return fl
}

// readyFds the batch epoll_wait would return now
func (fl *fakeLoop) readyFds() []int {
	var fds []int
	for fd, t := range fl.tfd.timers {
		if _, ok := fl.reg.watched[fd]; ok && t.expired(fl.tfd.now) {
			fds = append(fds, fd)
		}
	}
	sort.Ints(fds)
	return fds
}

func (fl *fakeLoop) dispatch(fds []int) {
	for _, fd := range fds {
		if eh, ok := fl.reg.watched[fd]; ok {
			eh.OnRead()
		}
	}
}

// advance move the clock forward msec and run one loop turn
func (fl *fakeLoop) advance(msec int64) int {
	fl.tfd.now += msec * 1000 * 1000
	fds := fl.readyFds()
	fl.dispatch(fds)
	return len(fds)
}

func newTestLog(t *testing.T) *Log {
	t.Helper()
	l, err := NewLog(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	l.EnableDebug(true)
	t.Cleanup(l.Close)
	return l
}
