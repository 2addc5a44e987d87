package headset

import (
	"context"
	"io"
	"slices"
	"sync"

	"go.uber.org/atomic"
)

// fakeLink is an in-memory RFCOMM channel.
type fakeLink struct {
	reads  chan []byte
	closed chan struct{}
	once   sync.Once

	// gate, when set, holds every Write until it is closed.
	gate    chan struct{}
	writing chan struct{}

	mu     sync.Mutex
	writes [][]byte
}

func newFakeLink() *fakeLink {
	return &fakeLink{
		reads:   make(chan []byte, 8),
		closed:  make(chan struct{}),
		writing: make(chan struct{}, 8),
	}
}

func (l *fakeLink) Read(p []byte) (int, error) {
	select {
	case b, ok := <-l.reads:
		if !ok {
			return 0, io.EOF
		}
		return copy(p, b), nil
	case <-l.closed:
		return 0, io.ErrClosedPipe
	}
}

func (l *fakeLink) Write(p []byte) (int, error) {
	select {
	case l.writing <- struct{}{}:
	default:
	}
	if l.gate != nil {
		select {
		case <-l.gate:
		case <-l.closed:
			return 0, io.ErrClosedPipe
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	select {
	case <-l.closed:
		return 0, io.ErrClosedPipe
	default:
	}
	l.writes = append(l.writes, slices.Clone(p))
	return len(p), nil
}

func (l *fakeLink) Close() error {
	l.once.Do(func() { close(l.closed) })
	return nil
}

// hangUp simulates the peer closing the channel.
func (l *fakeLink) hangUp() { close(l.reads) }

func (l *fakeLink) isClosed() bool {
	select {
	case <-l.closed:
		return true
	default:
		return false
	}
}

func (l *fakeLink) Writes() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.writes)
}

// fakeTransport is a scripted Transport that counts calls.
type fakeTransport struct {
	mu       sync.Mutex
	devices  []PairedDevice
	services map[string][]ServiceRecord
	enumErr  error
	queryErr error
	openErr  error
	// openHold, when set, delays every OpenChannel until it is closed.
	openHold chan struct{}
	// enumHold, when set, delays every PairedDevices until it is closed.
	enumHold chan struct{}
	links    []*fakeLink
	watchers map[string]func(io.ReadWriteCloser)

	enumCalls  atomic.Int32
	queryCalls atomic.Int32
	openCalls  atomic.Int32
}

func newFakeTransport(devices ...PairedDevice) *fakeTransport {
	return &fakeTransport{
		devices:  devices,
		services: make(map[string][]ServiceRecord),
		watchers: make(map[string]func(io.ReadWriteCloser)),
	}
}

func (f *fakeTransport) PairedDevices(ctx context.Context) ([]PairedDevice, error) {
	f.enumCalls.Inc()
	f.mu.Lock()
	hold := f.enumHold
	f.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enumErr != nil {
		return nil, f.enumErr
	}
	return slices.Clone(f.devices), nil
}

func (f *fakeTransport) QueryServices(_ context.Context, address string) ([]ServiceRecord, error) {
	f.queryCalls.Inc()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return slices.Clone(f.services[address]), nil
}

func (f *fakeTransport) OpenChannel(ctx context.Context, _ string, _ ChannelID) (io.ReadWriteCloser, error) {
	f.openCalls.Inc()
	f.mu.Lock()
	hold, openErr := f.openHold, f.openErr
	f.mu.Unlock()

	if hold != nil {
		<-hold
	}
	if openErr != nil {
		return nil, openErr
	}

	l := newFakeLink()
	f.mu.Lock()
	f.links = append(f.links, l)
	f.mu.Unlock()
	return l, nil
}

func (f *fakeTransport) WatchChannel(address string, _ ChannelID, fn func(io.ReadWriteCloser)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watchers[address] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.watchers, address)
	}
}

// remoteOpen simulates the device opening a channel on its own.
func (f *fakeTransport) remoteOpen(address string) (*fakeLink, bool) {
	f.mu.Lock()
	fn, ok := f.watchers[address]
	f.mu.Unlock()
	if !ok {
		return nil, false
	}
	l := newFakeLink()
	fn(l)
	return l, true
}

func (f *fakeTransport) link(i int) *fakeLink {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.links) {
		return nil
	}
	return f.links[i]
}

func (f *fakeTransport) linkCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.links)
}
