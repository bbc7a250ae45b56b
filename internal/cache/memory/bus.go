// Package memory provides in-process implementations of the cache and bus
// interfaces for single-node runs and tests.
package memory

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/domain"
)

// Bus implements domain.EventBus. Pub/Sub delivery is best effort: a slow
// subscriber drops messages rather than blocking publishers. Streams keep
// every entry and track per-group delivery and acknowledgement.
type Bus struct {
	mu      sync.Mutex
	subs    map[string]map[chan []byte]struct{}
	streams map[string]*stream
}

type stream struct {
	entries []domain.StreamMessage
	seq     int64
	groups  map[string]*group
	notify  chan struct{}
}

type group struct {
	next    int               // index of the first undelivered entry
	pending map[string]string // entry id -> consumer
}

var _ domain.EventBus = (*Bus)(nil)

// NewBus returns an empty Bus.
func NewBus() *Bus {
	return &Bus{
		subs:    make(map[string]map[chan []byte]struct{}),
		streams: make(map[string]*stream),
	}
}

func (b *Bus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[channel] {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel that closes when ctx is cancelled.
func (b *Bus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, 128)
	b.mu.Lock()
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[chan []byte]struct{})
	}
	b.subs[channel][ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs[channel], ch)
		b.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

func (b *Bus) stream(name string) *stream {
	s := b.streams[name]
	if s == nil {
		s = &stream{groups: make(map[string]*group), notify: make(chan struct{})}
		b.streams[name] = s
	}
	return s
}

func (b *Bus) StreamAppend(_ context.Context, name string, payload []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stream(name)
	s.seq++
	id := strconv.FormatInt(s.seq, 10) + "-0"
	s.entries = append(s.entries, domain.StreamMessage{ID: id, Payload: payload})
	close(s.notify)
	s.notify = make(chan struct{})
	return id, nil
}

func (b *Bus) EnsureGroup(_ context.Context, name, groupName string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stream(name)
	if s.groups[groupName] == nil {
		s.groups[groupName] = &group{pending: make(map[string]string)}
	}
	return nil
}

// StreamReadGroup redelivers this consumer's pending entries first, then
// waits up to block for new ones.
func (b *Bus) StreamReadGroup(ctx context.Context, name, groupName, consumer string, count int, block time.Duration) ([]domain.StreamMessage, error) {
	if count <= 0 {
		count = 1
	}
	var timeout <-chan time.Time
	if block > 0 {
		timer := time.NewTimer(block)
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		b.mu.Lock()
		s := b.stream(name)
		g := s.groups[groupName]
		if g == nil {
			b.mu.Unlock()
			return nil, fmt.Errorf("memory: read group %s/%s: no such group", name, groupName)
		}

		var out []domain.StreamMessage
		for _, e := range s.entries[:g.next] {
			if len(out) == count {
				break
			}
			if g.pending[e.ID] == consumer {
				out = append(out, e)
			}
		}
		if len(out) == 0 {
			for g.next < len(s.entries) && len(out) < count {
				e := s.entries[g.next]
				g.pending[e.ID] = consumer
				g.next++
				out = append(out, e)
			}
		}
		notify := s.notify
		b.mu.Unlock()

		if len(out) > 0 || block <= 0 {
			return out, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timeout:
			return nil, nil
		case <-notify:
		}
	}
}

func (b *Bus) StreamAck(_ context.Context, name, groupName string, ids ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	g := b.stream(name).groups[groupName]
	if g == nil {
		return fmt.Errorf("memory: ack %s/%s: no such group", name, groupName)
	}
	for _, id := range ids {
		delete(g.pending, id)
	}
	return nil
}

// Pending reports how many delivered entries the group has not acked.
func (b *Bus) Pending(name, groupName string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if g := b.stream(name).groups[groupName]; g != nil {
		return len(g.pending)
	}
	return 0
}
