package logstream

import (
	"context"
	"sync"

	"github.com/rockset/rocksdb-cloud/pkg/cerrors"
)

// Fake is an in-memory Client used by cloudenv's tests.
type Fake struct {
	mu      sync.Mutex
	streams map[string][]Record
	seq     int

	subs []*fakeSubscription
}

// NewFake creates an empty Fake log stream.
func NewFake() *Fake {
	return &Fake{streams: make(map[string][]Record)}
}

func (f *Fake) EnsureStream(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.streams[name]; !ok {
		f.streams[name] = nil
	}
	return nil
}

func (f *Fake) DeleteStream(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.streams, name)
	return nil
}

func (f *Fake) PutRecord(ctx context.Context, stream, partitionKey string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.streams[stream]; !ok {
		return cerrors.New(cerrors.KindNotFound, "stream not found").WithComponent("logstream").WithPath(stream)
	}
	f.seq++
	rec := Record{SequenceNumber: seqString(f.seq), Data: append([]byte(nil), data...)}
	f.streams[stream] = append(f.streams[stream], rec)

	for _, sub := range f.subs {
		if sub.stream == stream {
			sub.push(rec)
		}
	}
	return nil
}

// Partitions implements Client. The Fake models a single-partition stream,
// matching how Subscribe ignores partitionKey and hands back every record.
func (f *Fake) Partitions(ctx context.Context, stream string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.streams[stream]; !ok {
		return nil, cerrors.New(cerrors.KindNotFound, "stream not found").WithComponent("logstream").WithPath(stream)
	}
	return []string{"0"}, nil
}

func (f *Fake) Subscribe(ctx context.Context, stream, partitionKey string) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	backlog, ok := f.streams[stream]
	if !ok {
		return nil, cerrors.New(cerrors.KindNotFound, "stream not found").WithComponent("logstream").WithPath(stream)
	}

	sub := &fakeSubscription{
		owner:   f,
		stream:  stream,
		records: make(chan Record, 256),
	}
	for _, rec := range backlog {
		sub.records <- rec
	}
	f.subs = append(f.subs, sub)
	return sub, nil
}

func (f *Fake) Close() error { return nil }

func (f *Fake) removeSub(target *fakeSubscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, s := range f.subs {
		if s == target {
			f.subs = append(f.subs[:i], f.subs[i+1:]...)
			break
		}
	}
}

func seqString(n int) string {
	const digits = "0123456789"
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = digits[n%10]
		n /= 10
	}
	return string(buf[i:])
}

type fakeSubscription struct {
	owner   *Fake
	stream  string
	records chan Record
	closed  bool
}

// push is only ever called by Fake.PutRecord while holding f.mu, and Close
// removes s from f.subs under the same lock before closing s.records, so
// there is no send-on-closed-channel race between the two.
func (s *fakeSubscription) push(rec Record) {
	select {
	case s.records <- rec:
	default:
	}
}

func (s *fakeSubscription) Records() <-chan Record { return s.records }
func (s *fakeSubscription) Err() error              { return nil }

func (s *fakeSubscription) Close() error {
	s.owner.removeSub(s)
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.records)
	return nil
}
