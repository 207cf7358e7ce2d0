package evtimer

import (
	"golang.org/x/sys/unix"
)

// Options of Reactor
type Options struct {
	// evpoll options
	evReadyNum    int // epoll_wait一次轮询获取的事件数量
	evDataArrSize int

	// timer pool options
	timerPoolSize int
	timerClock    int
	timerfdOps    timerfdOps

	// post queue options
	postBatch int

	fatalHandler func(*FatalError)
	log          *Log
}

// Option set one of Options
type Option func(*Options)

func setOptions(optL ...Option) *Options {
	//= defaut options
	opts := &Options{
		evReadyNum:    64,
		evDataArrSize: 1024,
		timerPoolSize: 4,
		timerClock:    unix.CLOCK_MONOTONIC,
		postBatch:     16,
	}

	for _, opt := range optL {
		opt(opts)
	}
	if opts.log == nil {
		opts.log = lastLog.Load()
	}
	if opts.fatalHandler == nil {
		opts.fatalHandler = defaultFatalHandler(opts.log)
	}
	if opts.timerfdOps == nil {
		opts.timerfdOps = sysTimerfd{}
	}
	return opts
}

// TimerPoolSize the max number of timers armed at the same time. Default 4
//
// Scheduling one more is fatal, the pool never grows.
func TimerPoolSize(n int) Option {
	return func(o *Options) {
		if n < 1 {
			panic("options: TimerPoolSize MUST > 0")
		}
		o.timerPoolSize = n
	}
}

// EvReadyNum evpoll一次轮询获取数量n的Ready I/O事件
func EvReadyNum(n int) Option {
	return func(o *Options) {
		if n < 1 {
			panic("options: EvReadyNum MUST > 0")
		}
		o.evReadyNum = n
	}
}

// EvDataArrSize fds below n are indexed by array, the others by map
func EvDataArrSize(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.evDataArrSize = n
		}
	}
}

// TimerClock clockid passed to timerfd_create. Default CLOCK_MONOTONIC
//
// unix.CLOCK_BOOTTIME keeps counting while the system is suspended.
func TimerClock(clockid int) Option {
	return func(o *Options) {
		o.timerClock = clockid
	}
}

// PostBatch the max number of posted tasks run per wakeup, the rest wait for the next loop turn
func PostBatch(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.postBatch = n
		}
	}
}

// FatalHandler called on ResourceCreationFailure, ProgrammingFailure and PoolExhausted.
//
// The default one writes a fatal log line and exits the process.
// If fn returns, the failed Schedule returns a null TimerHandle.
func FatalHandler(fn func(*FatalError)) Option {
	return func(o *Options) {
		o.fatalHandler = fn
	}
}

// WithLog default is the last created Log
func WithLog(l *Log) Option {
	return func(o *Options) {
		o.log = l
	}
}

// only used by tests
func withTimerfdOps(ops timerfdOps) Option {
	return func(o *Options) {
		o.timerfdOps = ops
	}
}
