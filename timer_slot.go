package evtimer

import (
	"errors"
	"strconv"

	"golang.org/x/sys/unix"
)

// timerSlot one timerfd and the callback waiting for it
//
// fd == -1 iff the slot is not claimed by the pool (gen == 0), except between
// claim and arm. cb is only valid while armed.
type timerSlot struct {
	noCopy

	idx     int
	fd      int
	gen     uint32 // 0: free
	armed   bool
	watched bool // registered with the ReadinessRegistry
	firing  bool

	cb func()

	tp *TimerPool
}

func (s *timerSlot) init(tp *TimerPool, idx int) {
	s.tp, s.idx, s.fd = tp, idx, -1
}

// arm delay in millisecond
func (s *timerSlot) arm(cb func(), delay int64) *FatalError {
	if s.armed {
		return newFatalError(ProgrammingFailure, "timer slot "+strconv.Itoa(s.idx)+" is already armed", nil)
	}
	if s.fd == -1 {
		fd, err := s.tp.ops.create(s.tp.clockid)
		if err != nil {
			s.tp.log.Error("timerfd_create: %s", err.Error())
			return newFatalError(ResourceCreationFailure, "timerfd_create", err)
		}
		s.fd = fd
		s.tp.log.Debug("timer slot %d: timerfd %d created", s.idx, fd)
	}
	if !s.watched {
		if err := s.tp.registry.AddReadinessWatch(s.fd, s); err != nil {
			s.tp.log.Error("timer slot %d: add readiness watch: %s", s.idx, err.Error())
			return newFatalError(ProgrammingFailure, "add readiness watch", err)
		}
		s.watched = true
	}

	spec := msecToItimerSpec(delay)
	s.tp.log.Debug("timer slot %d: setting timerfd %d to run in %d second(s) and %d ns",
		s.idx, s.fd, spec.Value.Sec, spec.Value.Nsec)
	if err := s.tp.ops.settime(s.fd, &spec); err != nil {
		s.tp.log.Error("timerfd_settime: %s", err.Error())
		return newFatalError(ProgrammingFailure, "timerfd_settime", err)
	}
	s.cb = cb
	s.armed = true
	return nil
}

// OnRead the timerfd is readable, it is the fire step of the slot
func (s *timerSlot) OnRead() bool {
	if !s.armed || s.firing {
		return true
	}
	n, err := s.tp.ops.read(s.fd)
	if err != nil || n == 0 {
		if err != nil && !errors.Is(err, unix.EAGAIN) {
			s.tp.log.Error("timer slot %d: read timerfd %d: %s", s.idx, s.fd, err.Error())
		}
		// Readiness collected before the slot was disarmed or re-armed
		s.tp.stats.StaleReadiness++
		return true
	}
	gen, cb := s.gen, s.cb
	s.tp.log.Debug("timer slot %d: running callback, fd %d", s.idx, s.fd)

	s.tp.stats.Fired++
	s.firing = true
	cb()
	s.firing = false

	// The callback may have cancelled its own handle
	if s.gen == gen {
		s.tp.onComplete(s)
	}
	return true
}

// OnClose only happens on EPOLLERR/EPOLLHUP, the evPoll already dropped the watch
func (s *timerSlot) OnClose() {
	s.watched = false
	if s.gen != 0 {
		s.tp.log.Error("timer slot %d: timerfd %d closed by poller", s.idx, s.fd)
		s.tp.reclaim(s)
		return
	}
	s.release()
}

// cancel disarm the timerfd, the slot is still claimed
func (s *timerSlot) cancel() {
	if s.fd == -1 {
		return
	}
	var zero unix.ItimerSpec
	if err := s.tp.ops.settime(s.fd, &zero); err != nil {
		s.tp.log.Warn("timer slot %d: disarm timerfd %d: %s", s.idx, s.fd, err.Error())
	}
	s.armed = false
}

// release deregister and close the timerfd. No-op on a released slot
func (s *timerSlot) release() {
	if s.watched {
		if err := s.tp.registry.RemoveReadinessWatch(s.fd); err != nil {
			s.tp.log.Warn("timer slot %d: remove readiness watch: %s", s.idx, err.Error())
		}
		s.watched = false
	}
	if s.fd != -1 {
		if err := s.tp.ops.close(s.fd); err != nil {
			s.tp.log.Warn("timer slot %d: close timerfd %d: %s", s.idx, s.fd, err.Error())
		}
		s.tp.log.Debug("timer slot %d: timerfd %d closed", s.idx, s.fd)
		s.fd = -1
	}
	s.armed, s.firing = false, false
	s.cb = nil
	s.gen = 0
}
