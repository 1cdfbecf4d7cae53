// Package pool implements the bounded set of connected SFTP channels shared
// by a filesystem's concurrent callers: timed acquisition, liveness
// detection with broken-channel replacement, reference counting through
// streaming operations, and keep-alive sweeps.
//
// The queue itself is a plain mutex-guarded slice plus a small waiter list
// so Get can block with a timeout instead of retrying on an unbounded
// pacer. Liveness replacement and the starvation-resistance rule (a broken
// channel that fails to be replaced goes back in the queue) keep the pool
// size stable across dead connections.
package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/go-sftpfs/sftpfs/sfterrors"
)

// Pool is a bounded FIFO queue of live Channels.
type Pool struct {
	mu      sync.Mutex
	idle    []*Channel
	waiters []chan struct{}

	capacity    int
	waitTimeout time.Duration
	dial        Dialer
	log         *logrus.Entry

	serverAliveCountMax int // consecutive missed pings tolerated before a sweep replaces a channel; default 1

	nextID uint64 // atomic
	closed int32  // atomic bool
}

// Option configures optional Pool behavior.
type Option func(*Pool)

// WithLogger injects a logger; the default is a disabled logrus logger so
// the pool is silent unless the embedding application opts in.
func WithLogger(log *logrus.Entry) Option {
	return func(p *Pool) { p.log = log }
}

// WithServerAliveCountMax sets how many consecutive failed pings a sweep
// (KeepAlive) tolerates on one channel before replacing it. n < 1 is
// normalized to 1, matching the pre-existing replace-on-first-failure
// behavior.
func WithServerAliveCountMax(n int) Option {
	return func(p *Pool) { p.serverAliveCountMax = n }
}

// New dials `capacity` channels eagerly and returns a Pool holding all of
// them idle. Dialing eagerly (rather than lazily up to capacity) makes the
// invariant |idle| + |checked out| == capacity hold from construction
// onward instead of only after the pool has been driven to saturation once.
//
// If any of the `capacity` dials fails, every channel dialed so far is
// disconnected and the error is returned, so connection failures surface
// at construction time rather than on first use.
func New(ctx context.Context, capacity int, waitTimeout time.Duration, dial Dialer, opts ...Option) (*Pool, error) {
	if capacity < 1 {
		capacity = 1
	}
	p := &Pool{
		capacity:            capacity,
		waitTimeout:         waitTimeout,
		dial:                dial,
		log:                 logrus.NewEntry(logrus.New()),
		serverAliveCountMax: 1,
	}
	for _, o := range opts {
		o(p)
	}
	if p.serverAliveCountMax < 1 {
		p.serverAliveCountMax = 1
	}

	for i := 0; i < capacity; i++ {
		ch, err := p.dialOne(ctx, true)
		if err != nil {
			for _, idle := range p.idle {
				_ = idle.disconnect()
			}
			return nil, err
		}
		p.idle = append(p.idle, ch)
	}
	return p, nil
}

func (p *Pool) dialOne(ctx context.Context, pooled bool) (*Channel, error) {
	var session Session
	op := func() error {
		s, err := p.dial(ctx)
		if err != nil {
			return err
		}
		session = s
		return nil
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return nil, err
	}
	id := atomic.AddUint64(&p.nextID, 1)
	return &Channel{id: id, session: session, pool: p, pooled: pooled}, nil
}

// Closed reports whether Close has been called.
func (p *Pool) Closed() bool { return atomic.LoadInt32(&p.closed) == 1 }

// Get dequeues a channel, blocking up to the pool's wait timeout (zero
// means wait indefinitely, modulo ctx cancellation). It performs a
// liveness probe and replacement before handing the channel back with
// refCount == 1.
func (p *Pool) Get(ctx context.Context) (*Channel, error) {
	if p.Closed() {
		return nil, sfterrors.NewClosed(sfterrors.OpOpenInput, "")
	}
	ch, err := p.dequeue(ctx)
	if err != nil {
		return nil, err
	}
	return p.afterDequeue(ctx, ch)
}

// GetOrCreate performs a non-blocking poll of the idle queue; if empty, it
// dials an unpooled (ad hoc) channel instead of waiting. The same
// liveness-replacement rule applies if a pooled channel is returned and
// found dead.
func (p *Pool) GetOrCreate(ctx context.Context) (*Channel, error) {
	if p.Closed() {
		return nil, sfterrors.NewClosed(sfterrors.OpOpenInput, "")
	}
	p.mu.Lock()
	var ch *Channel
	if len(p.idle) > 0 {
		ch = p.idle[0]
		p.idle = p.idle[1:]
	}
	p.mu.Unlock()

	if ch == nil {
		fresh, err := p.dialOne(ctx, false)
		if err != nil {
			return nil, err
		}
		atomic.StoreInt32(&fresh.refCount, 1)
		return fresh, nil
	}
	return p.afterDequeue(ctx, ch)
}

// afterDequeue performs the liveness probe/replacement step shared by Get
// and GetOrCreate, then arms the channel's refcount.
func (p *Pool) afterDequeue(ctx context.Context, ch *Channel) (*Channel, error) {
	if err := ch.ping(); err != nil {
		p.log.WithFields(logrus.Fields{"channel": ch.id, "error": err}).
			Debug("sftpfs: discarding dead channel, redialing replacement")
		_ = ch.disconnect()

		replacement, derr := p.dialOne(ctx, ch.pooled)
		if derr != nil {
			// The broken channel goes back in the queue even though it is
			// disconnected, so pool size is unchanged; the next Get() will
			// retry the replacement.
			if ch.pooled {
				p.enqueueRaw(ch)
			}
			return nil, derr
		}
		ch = replacement
	}
	atomic.StoreInt32(&ch.refCount, 1)
	return ch, nil
}

// dequeue blocks (respecting ctx and the pool's wait timeout) until a
// channel is idle, or fails with ClientConnectionWaitTimeoutExpired /
// InterruptedIO.
func (p *Pool) dequeue(ctx context.Context) (*Channel, error) {
	var deadline <-chan time.Time
	if p.waitTimeout > 0 {
		timer := time.NewTimer(p.waitTimeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		p.mu.Lock()
		if p.Closed() {
			p.mu.Unlock()
			return nil, sfterrors.NewClosed(sfterrors.OpOpenInput, "")
		}
		if len(p.idle) > 0 {
			ch := p.idle[0]
			p.idle = p.idle[1:]
			p.mu.Unlock()
			return ch, nil
		}
		w := make(chan struct{}, 1)
		p.waiters = append(p.waiters, w)
		p.mu.Unlock()

		select {
		case <-w:
			continue
		case <-ctx.Done():
			p.removeWaiter(w)
			return nil, sfterrors.NewInterrupted(sfterrors.OpOpenInput)
		case <-deadline:
			p.removeWaiter(w)
			return nil, sfterrors.NewWaitTimeout(sfterrors.OpOpenInput)
		}
	}
}

func (p *Pool) removeWaiter(target chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, w := range p.waiters {
		if w == target {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return
		}
	}
}

// enqueue is called by Channel.Release when a pooled channel's refcount
// drops to zero.
func (p *Pool) enqueue(ch *Channel) { p.enqueueRaw(ch) }

func (p *Pool) enqueueRaw(ch *Channel) {
	p.mu.Lock()
	if p.Closed() {
		// Close has already drained the queue; a channel arriving later is
		// disconnected instead of being parked in a pool nobody drains.
		p.mu.Unlock()
		_ = ch.disconnect()
		return
	}
	p.idle = append(p.idle, ch)
	var w chan struct{}
	if len(p.waiters) > 0 {
		w = p.waiters[0]
		p.waiters = p.waiters[1:]
	}
	p.mu.Unlock()
	if w != nil {
		select {
		case w <- struct{}{}:
		default:
		}
	}
}

// KeepAlive drains every currently-idle channel and pings each, which
// doubles as the keep-alive send. A channel that misses serverAliveCountMax
// consecutive pings is disconnected and replaced before being re-enqueued
// (if the redial fails, the disconnected channel itself is re-enqueued so
// pool size is unchanged and a later Get retries the replacement);
// one that misses fewer is re-enqueued as is, since the next successful
// ping resets its miss count. Busy (checked-out) channels are never
// touched. Errors from individual pings and redials are aggregated with
// errors.Join rather than discarded.
func (p *Pool) KeepAlive() error {
	p.mu.Lock()
	batch := p.idle
	p.idle = nil
	p.mu.Unlock()

	var errs []error
	surviving := make([]*Channel, 0, len(batch))
	for _, ch := range batch {
		if err := ch.ping(); err != nil {
			errs = append(errs, err)
			if int(atomic.AddInt32(&ch.missed, 1)) < p.serverAliveCountMax {
				surviving = append(surviving, ch)
				continue
			}
			p.log.WithFields(logrus.Fields{"channel": ch.id, "error": err}).
				Debug("sftpfs: channel exceeded serverAliveCountMax, redialing replacement")
			_ = ch.disconnect()
			replacement, derr := p.dialOne(context.Background(), ch.pooled)
			if derr != nil {
				errs = append(errs, derr)
				surviving = append(surviving, ch)
				continue
			}
			surviving = append(surviving, replacement)
			continue
		}
		atomic.StoreInt32(&ch.missed, 0)
		surviving = append(surviving, ch)
	}
	for _, ch := range surviving {
		p.enqueueRaw(ch)
	}
	return joinErrors(errs)
}

// Close drains the idle queue and disconnects every channel in it,
// aggregating errors. Channels currently checked out are not forced closed;
// each one disconnects on its final Release instead of rejoining the queue.
// Get/GetOrCreate fail immediately once Close has run, via the closed flag
// below.
func (p *Pool) Close() error {
	if !atomic.CompareAndSwapInt32(&p.closed, 0, 1) {
		return nil
	}
	p.mu.Lock()
	batch := p.idle
	p.idle = nil
	waiters := p.waiters
	p.waiters = nil
	p.mu.Unlock()

	for _, w := range waiters {
		select {
		case w <- struct{}{}:
		default:
		}
	}

	var errs []error
	for _, ch := range batch {
		if err := ch.disconnect(); err != nil {
			errs = append(errs, err)
		}
	}
	return joinErrors(errs)
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
