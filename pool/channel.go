package pool

import (
	"sync"
	"sync/atomic"
)

// Channel wraps one live SFTP session/channel pair. A Channel is owned by
// its Pool only while refCount is zero and it sits in the idle queue;
// refCount > 0 means an external holder (the façade call site, or a
// streaming adapter borrowing it) must release it.
type Channel struct {
	id       uint64
	session  Session
	pool     *Pool
	pooled   bool // false for getOrCreate's ad hoc channels
	refCount int32
	missed   int32 // consecutive failed keep-alive pings, reset on success
	closeOnce sync.Once
}

// ID returns the monotonic identifier assigned at dial time, for logging.
func (c *Channel) ID() uint64 { return c.id }

// Pooled reports whether this Channel was created as part of the bounded
// pool (true) or ad hoc by GetOrCreate (false).
func (c *Channel) Pooled() bool { return c.pooled }

// Client returns the SFTP primitive surface for issuing requests.
func (c *Channel) Client() Client { return c.session.Client() }

// AddRef increments the reference count. The façade calls this once, in
// addition to the implicit borrow it already holds from Get/GetOrCreate,
// when it wraps a returned stream in a reference-holding adapter, so the
// channel survives until both the façade call site and the stream have
// released it.
func (c *Channel) AddRef() { atomic.AddInt32(&c.refCount, 1) }

// Release decrements the reference count by one. When it reaches zero, a
// pooled Channel re-enters the queue; an unpooled Channel disconnects.
// Release must be called exactly once per AddRef and once per successful
// Get/GetOrCreate; releasing more times than acquired is a programming
// error and panics.
func (c *Channel) Release() {
	n := atomic.AddInt32(&c.refCount, -1)
	switch {
	case n < 0:
		panic("sftpfs/pool: Channel released more times than it was acquired")
	case n == 0:
		if c.pooled {
			c.pool.enqueue(c)
		} else {
			_ = c.disconnect()
		}
	}
}

// disconnect tears down the underlying session exactly once, regardless of
// how many callers (pool shutdown, liveness replacement, final release) ask
// for it.
func (c *Channel) disconnect() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.session.Close()
	})
	return err
}

func (c *Channel) ping() error { return c.session.Ping() }
