package evtimer

import (
	"strconv"
)

// TimerHandle refers to one Schedule call, the zero value is the null handle.
//
// It stays valid until the callback has run or the handle was cancelled.
// A handle used after that is ignored, even if its slot was reused meanwhile.
type TimerHandle struct {
	idx int32
	gen uint32
}

// IsNull return true for the zero TimerHandle
func (h TimerHandle) IsNull() bool {
	return h.gen == 0
}

// TimerStats counters of a TimerPool
type TimerStats struct {
	Scheduled      uint64
	Fired          uint64
	Cancelled      uint64
	StaleReadiness uint64 // readable events ignored because the timerfd had not expired

	Active int
	Peak   int
}

// TimerPool a fixed number of timerfd backed one-shot timers
//
// Not goroutine safe, use it in the Reactor goroutine only (or through Reactor.Post).
type TimerPool struct {
	noCopy

	slots  []timerSlot
	active int
	seq    uint32 // generation of the last Schedule
	closed bool

	registry ReadinessRegistry
	ops      timerfdOps
	clockid  int
	fatal    func(*FatalError)
	log      *Log

	stats TimerStats
}

func newTimerPool(registry ReadinessRegistry, opts *Options) *TimerPool {
	if opts.timerPoolSize < 1 {
		panic("timerPool size invalid!")
	}
	tp := &TimerPool{
		slots:    make([]timerSlot, opts.timerPoolSize),
		registry: registry,
		ops:      opts.timerfdOps,
		clockid:  opts.timerClock,
		fatal:    opts.fatalHandler,
		log:      opts.log,
	}
	for i := range tp.slots {
		tp.slots[i].init(tp, i)
	}
	return tp
}

// Schedule call cb once after delay milliseconds
//
// cb runs in the Reactor goroutine and MUST NOT block.
// Scheduling while all slots are in use, or a kernel failure, is fatal.
func (tp *TimerPool) Schedule(cb func(), delay int64) TimerHandle {
	if cb == nil || delay < 0 {
		tp.fatal(newFatalError(ProgrammingFailure,
			"bad parameters, delay="+strconv.FormatInt(delay, 10), nil))
		return TimerHandle{}
	}
	if tp.closed {
		tp.fatal(newFatalError(ProgrammingFailure, "timer pool closed", nil))
		return TimerHandle{}
	}
	if tp.active == len(tp.slots) {
		tp.fatal(newFatalError(PoolExhausted,
			"using too many timers, capacity "+strconv.Itoa(len(tp.slots)), nil))
		return TimerHandle{}
	}

	var s *timerSlot
	for i := range tp.slots { // first fit
		if tp.slots[i].gen == 0 {
			s = &tp.slots[i]
			break
		}
	}
	tp.seq++
	if tp.seq == 0 { // wrapped
		tp.seq = 1
	}
	s.gen = tp.seq
	tp.active++

	if fe := s.arm(cb, delay); fe != nil {
		tp.reclaim(s)
		tp.fatal(fe)
		return TimerHandle{}
	}

	tp.stats.Scheduled++
	if tp.active > tp.stats.Peak {
		tp.stats.Peak = tp.active
	}
	return TimerHandle{idx: int32(s.idx), gen: s.gen}
}

// Cancel the callback of h will not run after Cancel returns.
//
// No-op for a null handle or a handle whose callback already ran or was cancelled,
// even if its slot was reused meanwhile.
// It is allowed inside any timer callback, including h's own.
func (tp *TimerPool) Cancel(h TimerHandle) {
	s := tp.lookup(h)
	if s == nil {
		return
	}
	if !s.firing { // already counted as Fired
		tp.stats.Cancelled++
	}
	s.cancel()
	tp.reclaim(s)
}

// Pending return true if the callback of h has neither run nor been cancelled.
//
// Inside its own callback a handle is no longer pending.
func (tp *TimerPool) Pending(h TimerHandle) bool {
	s := tp.lookup(h)
	return s != nil && s.armed && !s.firing
}

// Active the number of claimed slots
func (tp *TimerPool) Active() int {
	return tp.active
}

// Cap the number of slots
func (tp *TimerPool) Cap() int {
	return len(tp.slots)
}

// Stats return a copy of the counters
func (tp *TimerPool) Stats() TimerStats {
	st := tp.stats
	st.Active = tp.active
	return st
}

func (tp *TimerPool) lookup(h TimerHandle) *timerSlot {
	if h.gen == 0 || h.idx < 0 || int(h.idx) >= len(tp.slots) {
		return nil
	}
	s := &tp.slots[h.idx]
	if s.gen != h.gen {
		return nil // stale
	}
	return s
}

// onComplete the callback of s returned
func (tp *TimerPool) onComplete(s *timerSlot) {
	tp.reclaim(s)
}

func (tp *TimerPool) reclaim(s *timerSlot) {
	if s.gen == 0 {
		return
	}
	s.release()
	tp.active--
}

// close release every slot, pending callbacks are dropped
func (tp *TimerPool) close() {
	for i := range tp.slots {
		s := &tp.slots[i]
		if s.gen != 0 {
			s.cancel()
			tp.reclaim(s)
			continue
		}
		s.release()
	}
	tp.closed = true
}
