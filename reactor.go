package evtimer

// Autor cuisw. 2023.06

import (
	"errors"
	"sync/atomic"
)

// Reactor is a single goroutine event loop over one epoll instance, with a fixed
// pool of timerfd backed deferred callbacks.
//
// Every handler and timer callback runs in the goroutine that calls Run/RunOnce.
// Only Post and Stop may be called from other goroutines.
type Reactor struct {
	noCopy

	ep     evPoll
	nt     *notify
	timers *TimerPool
	log    *Log

	running atomic.Bool
	closed  bool
}

// NewReactor return an instance
func NewReactor(opts ...Option) (*Reactor, error) {
	evOptions := setOptions(opts...)
	r := &Reactor{
		log: evOptions.log,
	}
	if err := r.ep.open(evOptions.evReadyNum, evOptions.evDataArrSize); err != nil {
		return nil, err
	}
	nt, err := newNotify(&r.ep, evOptions.postBatch)
	if err != nil {
		r.ep.close()
		return nil, err
	}
	r.nt = nt
	r.timers = newTimerPool(&r.ep, evOptions)
	return r, nil
}

// AddEvHandler register fd and its handler, fd is watched for events (e.g. EvIn)
func (r *Reactor) AddEvHandler(eh EvHandler, fd int, events uint32) error {
	if fd < 0 || eh == nil {
		return errors.New("AddEvHandler: invalid params")
	}
	return r.ep.add(fd, events, eh)
}

// RemoveEvHandler stop watching fd, the fd is not closed
func (r *Reactor) RemoveEvHandler(fd int) error {
	if fd < 0 {
		return errors.New("RemoveEvHandler: invalid fd")
	}
	return r.ep.remove(fd)
}

// Timers return the timer pool of the reactor
func (r *Reactor) Timers() *TimerPool {
	return r.timers
}

// CallbackAfterDelay call cb once after delay milliseconds, refer to TimerPool.Schedule
func (r *Reactor) CallbackAfterDelay(cb func(), delay int64) TimerHandle {
	return r.timers.Schedule(cb, delay)
}

// CancelCallback refer to TimerPool.Cancel
func (r *Reactor) CancelCallback(h TimerHandle) {
	r.timers.Cancel(h)
}

// Post run task in the reactor goroutine. Thread-safe
//
// Use it to schedule or cancel timers from other goroutines.
func (r *Reactor) Post(task func()) {
	if task == nil {
		return
	}
	r.nt.post(task)
}

// RunOnce wait at most msec milliseconds (-1 forever) for ready events and dispatch them.
//
// Return the number of events collected
func (r *Reactor) RunOnce(msec int) (int, error) {
	if r.closed {
		return 0, errors.New("reactor closed")
	}
	return r.ep.poll(msec)
}

// Run loop until Stop is called
func (r *Reactor) Run() error {
	if r.closed {
		return errors.New("reactor closed")
	}
	if !r.running.CompareAndSwap(false, true) {
		return errors.New("reactor is running")
	}
	defer r.running.Store(false)
	return r.ep.run()
}

// Stop Run returns after the tasks posted before Stop. Thread-safe
func (r *Reactor) Stop() {
	r.nt.post(func() {
		r.ep.stopped = true
	})
}

// Close release all timerfds, the eventfd and the epoll fd.
//
// Call it after Run returned, pending timer callbacks are dropped.
func (r *Reactor) Close() error {
	if r.closed {
		return nil
	}
	if r.running.Load() {
		return errors.New("reactor is running")
	}
	r.closed = true
	r.timers.close()
	r.nt.close()
	return r.ep.close()
}
