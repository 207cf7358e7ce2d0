package evtimer

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// timerfdOps the kernel calls a timer slot makes
type timerfdOps interface {
	create(clockid int) (int, error)

	// settime relative, spec.Interval is always zero (one-shot)
	settime(fd int, spec *unix.ItimerSpec) error

	// read return the expiration count, unix.EAGAIN if the timer has not expired
	read(fd int) (uint64, error)

	close(fd int) error
}

type sysTimerfd struct{}

func (sysTimerfd) create(clockid int) (int, error) {
	return unix.TimerfdCreate(clockid, unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
}

func (sysTimerfd) settime(fd int, spec *unix.ItimerSpec) error {
	return unix.TimerfdSettime(fd, 0 /*Relative time*/, spec, nil)
}

func (sysTimerfd) read(fd int) (uint64, error) {
	var v uint64
	buf := (*(*[8]byte)(unsafe.Pointer(&v)))[:]
	for {
		_, err := unix.Read(fd, buf)
		if err == unix.EINTR {
			continue
		}
		return v, err
	}
}

func (sysTimerfd) close(fd int) error {
	return unix.Close(fd)
}

// msecToItimerSpec one-shot countdown of msec milliseconds
//
// An all-zero it_value disarms a timerfd, so 0 becomes 1 nanosecond.
// Seconds and nanoseconds are kept apart, msec in nanoseconds overflows int64.
func msecToItimerSpec(msec int64) unix.ItimerSpec {
	sec, ns := msec/1000, (msec%1000)*1000*1000
	if sec == 0 && ns == 0 {
		ns = 1
	}
	return unix.ItimerSpec{
		Value: unix.Timespec{Sec: sec, Nsec: ns},
	}
}
