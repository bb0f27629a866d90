// Package bufpool provides scratch-buffer pooling for the commit engine:
// rather than a bump allocator freed on txn teardown, RepWriter and
// Committer borrow pooled byte buffers for the lifetime of one
// representation and return them when done, bounding allocator churn on
// the hot write path.
package bufpool

import "sync"

// Config controls pooling behavior.
type Config struct {
	Enabled bool
	MaxSize int // buffers larger than this are not returned to the pool
}

var globalConfig = Config{Enabled: true, MaxSize: 1 << 20} // 1 MiB

// Configure sets global pooling behavior. Call during initialization.
func Configure(cfg Config) { globalConfig = cfg }

var bytesPool = sync.Pool{
	New: func() any { return make([]byte, 0, 4096) },
}

// Get returns a zero-length byte buffer, possibly with spare capacity.
func Get() []byte {
	if !globalConfig.Enabled {
		return make([]byte, 0, 4096)
	}
	return bytesPool.Get().([]byte)[:0]
}

// Put returns buf to the pool unless it exceeds MaxSize.
func Put(buf []byte) {
	if !globalConfig.Enabled {
		return
	}
	if cap(buf) > globalConfig.MaxSize {
		return
	}
	bytesPool.Put(buf[:0])
}
