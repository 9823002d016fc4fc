package apkes

import "sync/atomic"

// We use int32 as atomic bools since booleans are not natively supported by
// sync/atomic.
const (
	atomicFalse = int32(iota)
	atomicTrue
)

type AtomicBool struct {
	flag int32
}

func (a *AtomicBool) Get() bool {
	return atomic.LoadInt32(&a.flag) == atomicTrue
}

func (a *AtomicBool) Set(val bool) {
	flag := atomicFalse
	if val {
		flag = atomicTrue
	}
	atomic.StoreInt32(&a.flag, flag)
}
