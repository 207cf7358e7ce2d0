package main

import (
	"fmt"
	"os"
	"time"

	"github.com/shaovie/evtimer"
	"github.com/urfave/cli"
)

var flags = []cli.Flag{
	cli.IntFlag{
		Name:  "timers, n",
		Usage: "number of timers scheduled at once, also the pool size",
		Value: 4,
	},
	cli.Int64Flag{
		Name:  "delay, d",
		Usage: "delay of the first timer in milliseconds, each next one waits 10ms more",
		Value: 100,
	},
	cli.BoolFlag{
		Name:  "cancel, c",
		Usage: "cancel every other timer from another goroutine",
	},
	cli.BoolFlag{
		Name:  "debug",
		Usage: "print debug log lines",
	},
	cli.StringFlag{
		Name:  "log-dir",
		Usage: "write log files into this directory instead of stdout",
	},
}

func main() {
	app := cli.App{
		Name:      "debounce",
		HelpName:  "debounce",
		Usage:     "schedule timerfd callbacks on an epoll reactor",
		UsageText: "debounce [--timers N] [--delay MS] [--cancel]",
		Flags:     flags,
		Action:    run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	n := ctx.Int("timers")
	if n < 1 {
		return cli.NewExitError("--timers MUST > 0", 1)
	}
	l, err := evtimer.NewLog(ctx.String("log-dir"))
	if err != nil {
		return err
	}
	defer l.Close()
	l.EnableDebug(ctx.Bool("debug"))

	r, err := evtimer.NewReactor(evtimer.TimerPoolSize(n), evtimer.WithLog(l))
	if err != nil {
		return err
	}
	defer r.Close()

	start := time.Now()
	left := n
	handles := make([]evtimer.TimerHandle, n)
	done := func() {
		left--
		if left == 0 {
			r.Stop()
		}
	}
	for i := 0; i < n; i++ {
		i := i
		delay := ctx.Int64("delay") + int64(i)*10
		handles[i] = r.CallbackAfterDelay(func() {
			l.Info("timer %d fired after %s", i, time.Since(start).Round(time.Millisecond))
			done()
		}, delay)
	}

	if ctx.Bool("cancel") {
		go func() {
			for i := 1; i < n; i += 2 {
				i := i
				r.Post(func() {
					if r.Timers().Pending(handles[i]) {
						r.CancelCallback(handles[i])
						l.Info("timer %d cancelled", i)
						done()
					}
				})
			}
		}()
	}

	if err = r.Run(); err != nil {
		return err
	}
	st := r.Timers().Stats()
	l.Info("scheduled=%d fired=%d cancelled=%d peak=%d", st.Scheduled, st.Fired, st.Cancelled, st.Peak)
	return nil
}
