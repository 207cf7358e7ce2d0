package evtimer

import (
	"errors"
	"runtime"

	"golang.org/x/sys/unix"
)

// evPoll
//
// One epoll instance driven by one goroutine. Every EvHandler (timer slots, the
// post notifier, user handlers) is called in that goroutine, so handler state
// needs no lock.
type evPoll struct {
	efd int // epoll fd

	evReadyNum int // epoll_wait一次轮询获取固定数量准备好的I/O事件
	events     []unix.EpollEvent

	evDataMap *evDataMap

	stopped bool
}

func (ep *evPoll) open(evReadyNum, evDataArrSize int) error {
	if evReadyNum < 1 {
		return errors.New("EvReadyNum < 1")
	}
	efd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return errors.New("syscall epoll_create1: " + err.Error())
	}
	ep.efd = efd
	ep.evReadyNum = evReadyNum
	ep.events = make([]unix.EpollEvent, evReadyNum) // NOT make(x, len, cap)
	ep.evDataMap = newEvDataMap(evDataArrSize)
	return nil
}

func (ep *evPoll) add(fd int, events uint32, eh EvHandler) error {
	if fd < 0 || eh == nil {
		return errors.New("evPoll add: invalid params")
	}
	if ep.evDataMap.load(fd) != nil {
		return errors.New("evPoll add: fd already registered")
	}
	ev := unix.EpollEvent{
		Events: events,
		Fd:     int32(fd),
	}
	if err := unix.EpollCtl(ep.efd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return errors.New("epoll_ctl add: " + err.Error())
	}
	ed := ep.evDataMap.newOne(fd)
	ed.reset(fd, events, eh)
	ep.evDataMap.store(fd, ed)
	return nil
}

func (ep *evPoll) remove(fd int) error {
	if ep.evDataMap.load(fd) == nil {
		return errors.New("evPoll remove: fd not registered")
	}
	// Delete first, a batch that is being dispatched must not find this fd any more
	ep.evDataMap.del(fd)

	// The event argument is ignored and can be NULL (but see `man 2 epoll_ctl` BUGS)
	// kernel versions > 2.6.9
	if err := unix.EpollCtl(ep.efd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return errors.New("epoll_ctl del: " + err.Error())
	}
	return nil
}

// AddReadinessWatch implements ReadinessRegistry
func (ep *evPoll) AddReadinessWatch(fd int, eh EvHandler) error {
	return ep.add(fd, EvTimerfd, eh)
}

// RemoveReadinessWatch implements ReadinessRegistry
func (ep *evPoll) RemoveReadinessWatch(fd int) error {
	return ep.remove(fd)
}

// poll waits at most msec (-1 forever) and dispatches the ready events.
// Return the number of events collected.
func (ep *evPoll) poll(msec int) (int, error) {
	nfds, err := unix.EpollWait(ep.efd, ep.events, msec)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, errors.New("syscall epoll_wait: " + err.Error())
	}
	for i := 0; i < nfds; i++ {
		ev := &ep.events[i]
		fd := int(ev.Fd)
		// Load on every event, an earlier handler in this batch may have removed it
		ed := ep.evDataMap.load(fd)
		if ed == nil {
			continue
		}
		eh := ed.eh
		// EPOLLHUP refer to man 2 epoll_ctl
		if ev.Events&(unix.EPOLLHUP|unix.EPOLLERR) != 0 {
			ep.remove(fd) // MUST before OnClose()
			eh.OnClose()
			continue
		}
		if ev.Events&(unix.EPOLLIN) != 0 {
			if eh.OnRead() == false {
				if ep.evDataMap.load(fd) != nil {
					ep.remove(fd) // MUST before OnClose()
				}
				eh.OnClose()
				continue
			}
		}
	}
	return nfds, nil
}

func (ep *evPoll) run() error {
	// Refer to go doc runtime.LockOSThread
	// LockOSThread will bind the current goroutine to the current OS thread T,
	// preventing other goroutines from being scheduled onto this thread T
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	ep.stopped = false
	for !ep.stopped {
		if _, err := ep.poll(-1); err != nil {
			return err
		}
	}
	return nil
}

func (ep *evPoll) close() error {
	if ep.efd < 0 {
		return nil
	}
	err := unix.Close(ep.efd)
	ep.efd = -1
	return err
}
