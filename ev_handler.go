package evtimer

import (
	"golang.org/x/sys/unix"
)

const (
	// EvIn is readable event
	EvIn uint32 = unix.EPOLLIN | unix.EPOLLRDHUP

	// EvEventfd used for eventfd
	EvEventfd uint32 = unix.EPOLLIN | unix.EPOLLRDHUP // Not ET mode

	// EvTimerfd used for timerfd, level triggered so an unread expiration is never lost
	EvTimerfd uint32 = unix.EPOLLIN
)

// Detecting illegal struct copies using `go vet`
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// EvHandler is the event handling interface of the Reactor core
//
// All methods are called in the event loop goroutine.
type EvHandler interface {
	// EvPoll catch readable i/o event
	//
	// Call OnClose() when return false
	OnRead() bool

	// Call by evPoll after the fd was removed because of EPOLLHUP/EPOLLERR or OnRead() returned false.
	//
	// The fd is NOT closed by the evPoll, release it here.
	OnClose()
}

// ReadinessRegistry registers a file descriptor with the event loop for read readiness.
//
// The timer pool only depends on this interface, never on epoll directly.
type ReadinessRegistry interface {
	// AddReadinessWatch eh.OnRead() will be called in the loop goroutine when fd is readable
	AddReadinessWatch(fd int, eh EvHandler) error

	// RemoveReadinessWatch MUST be called before fd is closed, a recycled fd number
	// would otherwise inherit the old registration.
	RemoveReadinessWatch(fd int) error
}
