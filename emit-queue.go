package worldsync

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/anacrolix/missinggo/v2/panicif"
	xsync "github.com/anacrolix/sync"
)

// managerLock guards WorldManager state and queues the outbound
// messages the protocol engine produces while the lock is held. Unlock
// does not flush the queue: messages stay queued until GetEmittedMsgs
// drains them. Self-addressed messages never enter the queue; emit
// hands them to the handler inline, so a nested handler call runs
// inside the outer one and may change the same chunk's state.
type managerLock struct {
	internal xsync.RWMutex
	pending  []MessageRequest
	debug    *lockDebugState
}

func (l *managerLock) Lock() {
	l.internal.Lock()
	l.debugOnLock()
}

func (l *managerLock) Unlock() {
	l.debugOnUnlock()
	l.internal.Unlock()
}

func (l *managerLock) RLock() {
	l.internal.RLock()
}

func (l *managerLock) RUnlock() {
	l.internal.RUnlock()
}

// queue appends an outbound message. Called only while the lock is
// held, from inside the protocol engine.
func (l *managerLock) queue(req MessageRequest) {
	l.pending = append(l.pending, req)
}

// drain removes and returns every queued message. Called by
// GetEmittedMsgs with the lock held; the caller sends the returned
// messages to the bus after that call has released it.
func (l *managerLock) drain() []MessageRequest {
	if len(l.pending) == 0 {
		return nil
	}
	out := l.pending
	l.pending = nil
	return out
}

// EnableDebug turns on ownership checks and optional stack capture,
// toggled by the WORLDSYNC_LOCK_DEBUG environment variable.
func (l *managerLock) EnableDebug(name string, captureStacks bool) {
	if name == "" && !captureStacks {
		l.debug = nil
		return
	}
	l.debug = &lockDebugState{name: name, captureStacks: captureStacks}
}

func (l *managerLock) debugOnLock() {
	if l.debug == nil {
		return
	}
	gid := currentGoroutineID()
	if l.debug.owner == gid {
		l.debug.depth++
		return
	}
	panicif.False(l.debug.owner == 0)
	l.debug.owner = gid
	l.debug.depth = 1
	if l.debug.captureStacks {
		l.debug.lastStack = captureStack()
	}
}

func (l *managerLock) debugOnUnlock() {
	if l.debug == nil {
		return
	}
	gid := currentGoroutineID()
	panicif.False(l.debug.owner == gid)
	l.debug.depth--
	if l.debug.depth == 0 {
		l.debug.owner = 0
		l.debug.lastStack = nil
	}
}

// DebugInfo reports the current lock holder, for diagnosing a stuck
// Transfer state that never gets its TransferOk/TransferFailed.
func (l *managerLock) DebugInfo() string {
	d := l.debug
	if d == nil {
		return "debug not enabled (set WORLDSYNC_LOCK_DEBUG=stack)"
	}
	owner := d.owner
	if owner == 0 {
		return "lock not held"
	}
	if len(d.lastStack) == 0 {
		return fmt.Sprintf("lock %q held by goroutine %d (no stack captured, set WORLDSYNC_LOCK_DEBUG=stack)", d.name, owner)
	}
	return fmt.Sprintf("lock %q held by goroutine %d\n%s", d.name, owner, d.lastStack)
}

type lockDebugState struct {
	name          string
	owner         int64
	depth         int
	captureStacks bool
	lastStack     []byte
}

func captureStack() []byte {
	buf := make([]byte, 2048)
	for {
		n := runtime.Stack(buf, false)
		if n < len(buf) {
			return buf[:n]
		}
		buf = make([]byte, len(buf)*2)
	}
}

func currentGoroutineID() int64 {
	const prefix = "goroutine "
	buf := make([]byte, 64)
	n := runtime.Stack(buf, false)
	line := strings.TrimPrefix(string(buf[:n]), prefix)
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return -1
	}
	id, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return -1
	}
	return id
}

var _ sync.Locker = (*managerLock)(nil)
