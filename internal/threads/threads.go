// Package threads wraps goroutines in the handle the layer workers need:
// named identities for joining, and a sticky one-shot wakeup that interrupts
// Sleep and PollFD. The wakeup survives until the next interruptible call
// consumes it, so a wakeup sent just before the target blocks is not lost.
package threads

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// ID identifies one spawned thread.
type ID int64

type Thread struct {
	id   ID
	name string
	done chan struct{}

	// wake carries the single pending wakeup.
	wake chan struct{}

	pipeMu sync.Mutex
	pipeR  *os.File
	pipeW  *os.File
}

var (
	registryMu sync.Mutex
	registry   = map[ID]*Thread{}
	lastID     int64
)

// Spawn starts fn on a new goroutine under the given name and returns its
// handle. fn receives the handle so it can call Sleep and PollFD on itself.
func Spawn(name string, fn func(t *Thread)) *Thread {
	t := &Thread{
		id:   ID(atomic.AddInt64(&lastID, 1)),
		name: name,
		done: make(chan struct{}),
		wake: make(chan struct{}, 1),
	}
	registryMu.Lock()
	registry[t.id] = t
	registryMu.Unlock()
	go func() {
		defer func() {
			registryMu.Lock()
			delete(registry, t.id)
			registryMu.Unlock()
			t.closePipe()
			close(t.done)
		}()
		fn(t)
	}()
	return t
}

func (t *Thread) ID() ID       { return t.id }
func (t *Thread) Name() string { return t.name }

// Join blocks until the thread's function has returned.
func (t *Thread) Join() {
	<-t.done
}

// JoinEvery joins all live threads spawned under name.
func JoinEvery(name string) {
	registryMu.Lock()
	var matching []*Thread
	for _, t := range registry {
		if t.name == name {
			matching = append(matching, t)
		}
	}
	registryMu.Unlock()
	for _, t := range matching {
		t.Join()
	}
}

// Wakeup makes the thread's current or next Sleep or PollFD return
// immediately. One wakeup is remembered; further wakeups before it is
// consumed are no-ops.
func (t *Thread) Wakeup() {
	select {
	case t.wake <- struct{}{}:
		t.pipeMu.Lock()
		if t.pipeW != nil {
			t.pipeW.Write([]byte{0})
		}
		t.pipeMu.Unlock()
	default:
	}
}

// consumeWake takes the pending wakeup if there is one, draining the pipe
// byte that travelled with it.
func (t *Thread) consumeWake() bool {
	select {
	case <-t.wake:
		t.drainPipe()
		return true
	default:
		return false
	}
}

// Sleep blocks for d or until a wakeup arrives. It reports whether it was
// woken early.
func (t *Thread) Sleep(d time.Duration) bool {
	select {
	case <-t.wake:
		t.drainPipe()
		return true
	case <-time.After(d):
		return false
	}
}

// PollFD waits for events on fd for at most timeout (negative means no
// limit). It returns the ready events, zero when woken or timed out, and
// reports whether a wakeup ended the wait. Only the owning thread may call
// it.
func (t *Thread) PollFD(fd int, events int16, timeout time.Duration) (int16, bool, error) {
	if t.consumeWake() {
		return 0, true, nil
	}
	pipeFD, err := t.ensurePipe()
	if err != nil {
		return 0, false, err
	}
	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}
	fds := []unix.PollFd{
		{Fd: int32(fd), Events: events},
		{Fd: int32(pipeFD), Events: unix.POLLIN},
	}
	for {
		n, err := unix.Poll(fds, ms)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, false, err
		}
		if n == 0 {
			return 0, false, nil
		}
		if fds[1].Revents != 0 {
			t.consumeWake()
			return 0, true, nil
		}
		return fds[0].Revents, false, nil
	}
}

func (t *Thread) ensurePipe() (int, error) {
	t.pipeMu.Lock()
	defer t.pipeMu.Unlock()
	if t.pipeR == nil {
		r, w, err := os.Pipe()
		if err != nil {
			return -1, err
		}
		t.pipeR, t.pipeW = r, w
		unix.SetNonblock(int(r.Fd()), true)
		unix.SetNonblock(int(w.Fd()), true)
	}
	return int(t.pipeR.Fd()), nil
}

func (t *Thread) drainPipe() {
	t.pipeMu.Lock()
	defer t.pipeMu.Unlock()
	if t.pipeR == nil {
		return
	}
	var buf [8]byte
	for {
		n, err := t.pipeR.Read(buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

func (t *Thread) closePipe() {
	t.pipeMu.Lock()
	defer t.pipeMu.Unlock()
	if t.pipeR != nil {
		t.pipeR.Close()
		t.pipeW.Close()
		t.pipeR, t.pipeW = nil, nil
	}
}
