package worldsync

import (
	"encoding/json"
	"strconv"
	"sync/atomic"
)

// Count is an atomically-updated int64, used for current_update (the
// monotonic per-tick counter incremented in AddEnd).
type Count struct {
	n int64
}

func (c *Count) Add(n int64) {
	atomic.AddInt64(&c.n, n)
}

func (c *Count) Inc() {
	c.Add(1)
}

func (c *Count) Int64() int64 {
	return atomic.LoadInt64(&c.n)
}

func (c *Count) String() string {
	return strconv.FormatInt(c.Int64(), 10)
}

func (c *Count) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.n)
}
