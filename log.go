package evtimer

import (
	"errors"
	"fmt"
	"os"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// Point to the last allocated object
var lastLog atomic.Pointer[Log]

func init() {
	NewLog("") // stdout, never fails
}

// Debug write to the last created Log
func Debug(format string, v ...any) {
	lastLog.Load().Debug(format, v...)
}

// Info write to the last created Log
func Info(format string, v ...any) {
	lastLog.Load().Info(format, v...)
}

// Error write to the last created Log
func Error(format string, v ...any) {
	lastLog.Load().Error(format, v...)
}

// Fatal write to the last created Log, it does NOT exit
func Fatal(format string, v ...any) {
	lastLog.Load().Fatal(format, v...)
}

// Warn write to the last created Log
func Warn(format string, v ...any) {
	lastLog.Load().Warn(format, v...)
}

// Log one file per level per day, or stdout
type Log struct {
	noCopy

	debug atomic.Bool

	debugL log
	infoL  log
	errorL log
	fatalL log
	warnL  log
}

// NewLog output to stdout if dir == ""
func NewLog(dir string) (*Log, error) {
	l := &Log{
		debugL: log{dir: dir, name: "debug", fd: -1},
		infoL:  log{dir: dir, name: "info", fd: -1},
		errorL: log{dir: dir, name: "error", fd: -1},
		fatalL: log{dir: dir, name: "fatal", fd: -1},
		warnL:  log{dir: dir, name: "warn", fd: -1},
	}
	if dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errors.New("NewLog mkdir fail! " + err.Error())
		}
	}
	lastLog.Store(l)
	return l, nil
}

// EnableDebug debug lines are dropped by default
func (l *Log) EnableDebug(v bool) {
	l.debug.Store(v)
}

func (l *Log) Debug(format string, v ...any) {
	if l.debug.Load() {
		l.debugL.write(format, v...)
	}
}
func (l *Log) Info(format string, v ...any) {
	l.infoL.write(format, v...)
}
func (l *Log) Error(format string, v ...any) {
	l.errorL.write(format, v...)
}
func (l *Log) Fatal(format string, v ...any) {
	l.fatalL.write(format, v...)
}
func (l *Log) Warn(format string, v ...any) {
	l.warnL.write(format, v...)
}

// Close release all opened log files
func (l *Log) Close() {
	for _, ll := range []*log{&l.debugL, &l.infoL, &l.errorL, &l.fatalL, &l.warnL} {
		ll.mtx.Lock()
		ll.close()
		ll.newFileYear = 0
		ll.mtx.Unlock()
	}
}

// implement
type log struct {
	newFileYear  int
	newFileMonth int
	newFileDay   int
	fd           int
	dir          string
	name         string
	buff         []byte

	mtx sync.Mutex
}

func (l *log) newFile(year, month, day int) error {
	if l.newFileYear != year || l.newFileMonth != month || l.newFileDay != day {
		l.close()
		if err := l.open(year, month, day); err != nil {
			return err
		}
	}
	return nil
}
func (l *log) open(year, month, day int) (err error) {
	if l.dir == "" {
		l.fd = 1
	} else {
		fname := fmt.Sprintf("%s-%d-%02d-%02d.log", l.name, year, month, day)
		logFile := path.Join(l.dir, fname)
		l.fd, err = unix.Open(logFile, unix.O_CREAT|unix.O_WRONLY|unix.O_APPEND|unix.O_CLOEXEC, 0644)
		if err != nil {
			l.fd = -1
			return err
		}
	}
	l.newFileYear, l.newFileMonth, l.newFileDay = year, month, day
	l.buff = make([]byte, 0, 512)
	l.itoa(year, 4)
	l.buff = append(l.buff, '-')
	l.itoa(month, 2)
	l.buff = append(l.buff, '-')
	l.itoa(day, 2)
	l.buff = append(l.buff, ' ')
	return nil
}
func (l *log) close() {
	if l.dir != "" && l.fd != -1 {
		unix.Close(l.fd)
	}
	l.fd = -1
}
func (l *log) write(format string, v ...any) {
	now := time.Now()
	year, month, day := now.Date()

	l.mtx.Lock()
	defer l.mtx.Unlock()

	if err := l.newFile(year, int(month), day); err != nil {
		return
	}

	if l.fd == -1 {
		return
	}
	hour, min, sec := now.Clock()
	l.itoa(hour, 2)
	l.buff = append(l.buff, ':')
	l.itoa(min, 2)
	l.buff = append(l.buff, ':')
	l.itoa(sec, 2)
	l.buff = append(l.buff, '.')
	l.itoa(now.Nanosecond()/1e6, 3)
	if l.dir != "" {
		l.buff = append(l.buff, []byte{' ', '>', ' '}...)
	} else {
		l.buff = append(l.buff, ' ')
		l.buff = append(l.buff, []byte(l.name+" > ")...)
	}

	l.buff = fmt.Appendf(l.buff, format, v...)
	l.buff = append(l.buff, '\n')
	for {
		_, err := unix.Write(l.fd, l.buff)
		if err != nil && err == unix.EINTR {
			continue
		}
		break
	}
	l.buff = l.buff[:11 /*len("2023-07-05 ")*/]
}
func (l *log) itoa(i int, wid int) {
	// Assemble decimal in reverse order.
	var b [8]byte
	bp := len(b) - 1
	for i >= 10 || wid > 1 {
		wid--
		q := i / 10
		b[bp] = byte('0' + i - q*10)
		bp--
		i = q
	}
	// i < 10
	b[bp] = byte('0' + i)
	l.buff = append(l.buff, b[bp:]...)
}
