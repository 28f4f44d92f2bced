// Package bus implements the subject-addressed publish/subscribe and
// request/reply backbone described for the fabric's inter-process
// communication. Subjects are dot-delimited strings such as
// "jarvis.agent.<id>.dm"; SanitizeToken strips the characters the wire
// protocol reserves for addressing before any external id is interpolated
// into one.
package bus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jarvis-labs/fabric/internal/backoff"
)

// ErrTimeout is returned by Request when no reply arrives before the deadline.
var ErrTimeout = errors.New("bus: request timed out")

// ErrClosed is returned by operations performed after Close.
var ErrClosed = errors.New("bus: closed")

// Handler processes one message delivered to a subscription. Handlers MUST
// be idempotent: delivery is at-least-once.
type Handler func(ctx context.Context, subject string, data []byte, reply string)

// Subscription is a live registration returned by Subscribe/QueueSubscribe.
type Subscription struct {
	bus     *Bus
	subject string
	group   string
	id      string
}

// Unsubscribe removes the subscription. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.bus.unsubscribe(s)
}

type subscriber struct {
	id      string
	group   string // "" for non-queue-group subscribers
	handler Handler
}

// Bus is an in-process, subject-routed broker implementing pub/sub and
// request/reply. Delivery is at-least-once: every matching subscriber in a
// plain subscription receives every publish, and exactly one member of
// each queue group receives it: the earliest-registered one still
// subscribed (members are not rotated or picked at random). The interface is
// transport-agnostic; a networked implementation (NATS, Redis) could
// satisfy the same Interface below without changing callers.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]*subscriber // subject -> subscribers
	closed      bool
	backoff     backoff.BackoffPolicy
}

// Interface is the contract every bus implementation (in-process or
// networked) must satisfy.
type Interface interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Subscribe(subject string, h Handler) (*Subscription, error)
	QueueSubscribe(subject, group string, h Handler) (*Subscription, error)
	Request(ctx context.Context, subject string, data []byte, timeout time.Duration) ([]byte, error)
	Close() error
}

var _ Interface = (*Bus)(nil)

// New constructs an in-process Bus.
func New() *Bus {
	return &Bus{
		subscribers: make(map[string][]*subscriber),
		backoff:     backoff.DefaultPolicy(),
	}
}

// SanitizeToken strips '.', '*', '>', whitespace, and control characters
// from a token before it is interpolated into a subject.
func SanitizeToken(token string) string {
	var b strings.Builder
	for _, r := range token {
		switch {
		case r == '.' || r == '*' || r == '>':
			continue
		case r <= 0x20 || r == 0x7f:
			continue
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Subject joins sanitized tokens with '.'.
func Subject(parts ...string) string {
	sanitized := make([]string, len(parts))
	for i, p := range parts {
		sanitized[i] = SanitizeToken(p)
	}
	return strings.Join(sanitized, ".")
}

// Publish delivers data to every plain subscriber of subject and to one
// member of each queue group subscribed to subject.
func (b *Bus) Publish(ctx context.Context, subject string, data []byte) error {
	return b.publish(ctx, subject, data, "")
}

func (b *Bus) publish(ctx context.Context, subject string, data []byte, reply string) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	subs := append([]*subscriber(nil), b.subscribers[subject]...)
	b.mu.RUnlock()

	delivered := make(map[string]bool) // group -> already delivered this publish
	for _, s := range subs {
		if s.group != "" {
			if delivered[s.group] {
				continue
			}
			delivered[s.group] = true
		}
		go safeDeliver(ctx, s.handler, subject, data, reply)
	}
	return nil
}

func safeDeliver(ctx context.Context, h Handler, subject string, data []byte, reply string) {
	defer func() {
		_ = recover() // a panicking handler must not take down the bus
	}()
	h(ctx, subject, data, reply)
}

// Subscribe registers h for every publish on subject.
func (b *Bus) Subscribe(subject string, h Handler) (*Subscription, error) {
	return b.subscribe(subject, "", h)
}

// QueueSubscribe registers h as a member of group; exactly one member of
// the group receives each publish on subject.
func (b *Bus) QueueSubscribe(subject, group string, h Handler) (*Subscription, error) {
	return b.subscribe(subject, group, h)
}

func (b *Bus) subscribe(subject, group string, h Handler) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	sub := &subscriber{id: uuid.NewString(), group: group, handler: h}
	b.subscribers[subject] = append(b.subscribers[subject], sub)
	return &Subscription{bus: b, subject: subject, group: group, id: sub.id}, nil
}

func (b *Bus) unsubscribe(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subscribers[s.subject]
	for i, sub := range list {
		if sub.id == s.id {
			b.subscribers[s.subject] = append(list[:i], list[i+1:]...)
			break
		}
	}
}

// Request publishes data on subject and waits up to timeout for exactly one
// reply, delivered on a private inbox subject.
func (b *Bus) Request(ctx context.Context, subject string, data []byte, timeout time.Duration) ([]byte, error) {
	inbox := Subject("_inbox", uuid.NewString())
	replyCh := make(chan []byte, 1)

	sub, err := b.Subscribe(inbox, func(_ context.Context, _ string, data []byte, _ string) {
		select {
		case replyCh <- data:
		default:
		}
	})
	if err != nil {
		return nil, err
	}
	defer sub.Unsubscribe()

	if err := b.publish(ctx, subject, data, inbox); err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case reply := <-replyCh:
		return reply, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: subject %q after %s", ErrTimeout, subject, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Reply publishes data to the inbox subject a Request call is waiting on.
func (b *Bus) Reply(ctx context.Context, replySubject string, data []byte) error {
	if replySubject == "" {
		return nil
	}
	return b.publish(ctx, replySubject, data, "")
}

// Close marks the bus closed; further Publish/Subscribe calls fail.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subscribers = nil
	return nil
}

// ReconnectBackoff returns the delay before attempt n of a reconnect loop,
// grounded on the teacher's shared exponential-backoff-with-jitter helper.
func (b *Bus) ReconnectBackoff(attempt int) time.Duration {
	return backoff.ComputeBackoff(b.backoff, attempt)
}
