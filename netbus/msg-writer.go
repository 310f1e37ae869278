package netbus

import (
	"io"

	"github.com/anacrolix/chansync"
	"github.com/anacrolix/log"
	"github.com/anacrolix/sync"
	"github.com/dannyzb/worldsync"
)

// writeQueueHighWaterLen is the queue length at which queueFull reports
// true. write() does not consult it: it always appends, so the queue
// itself has no upper bound.
const writeQueueHighWaterLen = 4096

// connMsgWriter buffers outbound frames for one peer connection and
// flushes them on a dedicated goroutine, coalescing wake-ups the way
// peerConnMsgWriter coalesces BitTorrent wire messages rather than
// issuing a write and a wakeup per message. Frames are queued and
// flushed individually (one cw.w.Write call each) rather than
// concatenated, so a transport that gives messages their own boundary
// (websocket) never has two worldsync messages land in one frame.
type connMsgWriter struct {
	closed *chansync.SetOnce
	logger log.Logger
	w      io.Writer

	mu        sync.Mutex
	writeCond chansync.BroadcastCond
	queue     [][]byte
}

func newConnMsgWriter(w io.Writer, logger log.Logger) *connMsgWriter {
	return &connMsgWriter{
		closed: new(chansync.SetOnce),
		logger: logger,
		w:      w,
	}
}

func (cw *connMsgWriter) run() {
	for {
		if cw.closed.IsSet() {
			return
		}
		cw.mu.Lock()
		if len(cw.queue) == 0 {
			writeCond := cw.writeCond.Signaled()
			cw.mu.Unlock()
			select {
			case <-cw.closed.Done():
			case <-writeCond:
			}
			continue
		}
		frames := cw.queue
		cw.queue = nil
		cw.mu.Unlock()

		for _, frame := range frames {
			if _, err := cw.w.Write(frame); err != nil {
				cw.logger.WithDefaultLevel(log.Debug).Printf("error writing to peer: %v", err)
				return
			}
		}
	}
}

func (cw *connMsgWriter) write(msg worldsync.WorldNetMessage) {
	body := msg.MarshalBinary()
	frame := make([]byte, 4+len(body))
	putUint32(frame[:4], uint32(len(body)))
	copy(frame[4:], body)

	cw.mu.Lock()
	cw.queue = append(cw.queue, frame)
	cw.writeCond.Broadcast()
	cw.mu.Unlock()
}

func (cw *connMsgWriter) queueFull() bool {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	return len(cw.queue) >= writeQueueHighWaterLen
}

func (cw *connMsgWriter) close() {
	cw.closed.Set()
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}
