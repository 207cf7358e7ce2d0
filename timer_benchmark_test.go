package evtimer

import (
	"testing"
)

func BenchmarkTimer_ScheduleCancel(b *testing.B) {
	cases := []struct {
		name string
		N    int // pool size
	}{
		{"N-4", 4},
		{"N-64", 64},
		{"N-512", 512},
	}
	for _, c := range cases {
		b.Run(c.name, func(b *testing.B) {
			l, _ := NewLog(b.TempDir())
			defer l.Close()
			r, err := NewReactor(TimerPoolSize(c.N), WithLog(l))
			if err != nil {
				b.Fatal(err)
			}
			defer r.Close()
			hs := make([]TimerHandle, c.N)
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				j := i % c.N
				r.CancelCallback(hs[j]) // null or still pending
				hs[j] = r.CallbackAfterDelay(func() {}, 60*1000)
			}
		})
	}
}

func BenchmarkTimer_ScheduleCancelFake(b *testing.B) {
	l, _ := NewLog(b.TempDir())
	defer l.Close()
	tp := newTimerPool(newFakeRegistry(), setOptions(TimerPoolSize(4), withTimerfdOps(newFakeTimerfd()), WithLog(l)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tp.Cancel(tp.Schedule(func() {}, 1000))
	}
}
