package evtimer

import (
	"errors"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/eapache/queue"
	"golang.org/x/sys/unix"
)

// notify lets other goroutines hand tasks to the evPoll goroutine
//
// Tasks are queued under mtx, then the eventfd wakes up epoll_wait.
type notify struct {
	noCopy

	efd      int
	notified atomic.Int32 // used to avoid duplicate write eventfd

	batch  int
	taskQ  *queue.Queue // of func()
	mtx    sync.Mutex
	runBuf []func()

	ep *evPoll
}

var (
	notifyV      int64 = 1
	notifyWriteV       = (*(*[8]byte)(unsafe.Pointer(&notifyV)))[:]
)

func newNotify(ep *evPoll, batch int) (*notify, error) {
	// since Linux 2.6.27
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, errors.New("eventfd: " + err.Error())
	}
	nt := &notify{
		efd:    fd,
		batch:  batch,
		taskQ:  queue.New(),
		runBuf: make([]func(), 0, batch),
		ep:     ep,
	}
	if err = ep.add(fd, EvEventfd, nt); err != nil {
		unix.Close(fd)
		return nil, errors.New("notify add to evpoll fail! " + err.Error())
	}
	return nt, nil
}

// post Tread-safe
func (nt *notify) post(task func()) {
	nt.mtx.Lock()
	nt.taskQ.Add(task)
	nt.mtx.Unlock()

	nt.wakeup()
}

func (nt *notify) wakeup() {
	if !nt.notified.CompareAndSwap(0, 1) {
		return
	}
	for {
		_, err := unix.Write(nt.efd, notifyWriteV) // man 2 eventfd
		if err != nil && err == unix.EINTR {
			continue
		}
		break // EAGAIN: counter is already non-zero
	}
}

// OnRead taskQ has data
func (nt *notify) OnRead() bool {
	var bf [8]byte
	for {
		_, err := unix.Read(nt.efd, bf[:])
		if err != nil {
			if err == unix.EINTR {
				continue
			} else if err == unix.EAGAIN {
				break
			}
			return false
		}
		break
	}
	nt.notified.Store(0)

	nt.mtx.Lock()
	for i := 0; i < nt.batch && nt.taskQ.Length() > 0; i++ { // Don't process too many at once
		nt.runBuf = append(nt.runBuf, nt.taskQ.Remove().(func()))
	}
	left := nt.taskQ.Length()
	nt.mtx.Unlock()

	for i, task := range nt.runBuf {
		nt.runBuf[i] = nil
		task()
	}
	nt.runBuf = nt.runBuf[:0]

	if left > 0 {
		nt.wakeup() // continue in the next loop turn
	}
	return true
}

func (nt *notify) OnClose() {
	if nt.efd != -1 {
		unix.Close(nt.efd)
		nt.efd = -1
	}
}

// pending number of queued tasks
func (nt *notify) pending() int {
	nt.mtx.Lock()
	defer nt.mtx.Unlock()
	return nt.taskQ.Length()
}

func (nt *notify) close() {
	if nt.efd == -1 {
		return
	}
	if nt.ep.evDataMap.load(nt.efd) != nil {
		nt.ep.remove(nt.efd)
	}
	nt.OnClose()
}
