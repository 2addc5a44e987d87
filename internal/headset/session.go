package headset

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/mil-ad/bosectl/internal/command"
	"go.uber.org/atomic"
)

// State is the lifecycle state of a Session.
type State int32

const (
	StateClosed State = iota
	StateOpening
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	}
	return "closed"
}

const (
	defaultSendQueue = 16
	readBufferSize   = 1024
)

// Session owns one RFCOMM channel to one device.
//
// Closed -> Opening -> Open -> Closed. A session that failed to open or was
// closed stays closed; open a new one instead.
type Session struct {
	dialer  ChannelDialer
	events  *EventBus
	log     *slog.Logger
	address string
	channel ChannelID

	state atomic.Int32

	mu        sync.Mutex
	link      io.ReadWriteCloser
	extra     []io.ReadWriteCloser
	queue     chan []byte
	done      chan struct{}
	stopWatch func()
	used      bool

	wg sync.WaitGroup
}

// NewSession returns a closed session for the given device channel.
// sendQueue bounds the number of frames waiting to be written.
func NewSession(dialer ChannelDialer, events *EventBus, log *slog.Logger, address string, channel ChannelID, sendQueue int) *Session {
	if log == nil {
		log = slog.Default()
	}
	if sendQueue <= 0 {
		sendQueue = defaultSendQueue
	}
	return &Session{
		dialer:  dialer,
		events:  events,
		log:     log.With("address", address, "channel", channel),
		address: address,
		channel: channel,
		queue:   make(chan []byte, sendQueue),
	}
}

func (s *Session) Address() string    { return s.address }
func (s *Session) Channel() ChannelID { return s.channel }
func (s *Session) State() State       { return State(s.state.Load()) }

// Ready reports whether frames can be sent.
func (s *Session) Ready() bool { return s.State() == StateOpen }

// Open asks the transport to open the channel and waits for the result.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.used {
		s.mu.Unlock()
		return ErrSessionBusy
	}
	s.used = true
	s.mu.Unlock()

	s.setState(StateOpening, nil)

	type result struct {
		link io.ReadWriteCloser
		err  error
	}
	res := make(chan result, 1)
	go func() {
		link, err := s.dialer.OpenChannel(ctx, s.address, s.channel)
		res <- result{link, err}
	}()

	var r result
	select {
	case r = <-res:
	case <-ctx.Done():
		go func() {
			if late := <-res; late.link != nil {
				late.link.Close()
			}
		}()
		r.err = ctx.Err()
	}
	if r.err == nil && r.link == nil {
		r.err = errors.New("transport returned no channel")
	}
	if r.err != nil {
		s.setState(StateClosed, r.err)
		return &OpenError{Address: s.address, Channel: s.channel, Err: r.err}
	}

	s.mu.Lock()
	s.link = r.link
	s.done = make(chan struct{})
	s.setState(StateOpen, nil)
	s.wg.Add(2)
	go s.readLoop(r.link, true)
	go s.writeLoop(r.link, s.done)
	s.mu.Unlock()

	s.log.Info("channel open")

	stop := s.dialer.WatchChannel(s.address, s.channel, s.attach)
	s.mu.Lock()
	if s.link == nil {
		s.mu.Unlock()
		stop()
		return nil
	}
	s.stopWatch = stop
	s.mu.Unlock()
	return nil
}

// Send queues f for writing and returns without waiting for the write.
// Frames are written in the order Send is called; each completion is
// published as an EventWrite.
func (s *Session) Send(f command.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.link == nil || s.State() != StateOpen {
		return ErrChannelNotOpen
	}
	select {
	case s.queue <- f.Bytes():
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close closes the channel. Closing a closed session is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	link := s.link
	if link == nil {
		s.mu.Unlock()
		// The peer may have closed the channel; let its reader finish.
		s.wg.Wait()
		return nil
	}
	extra, stop := s.detachLocked()
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	err := link.Close()
	for _, l := range extra {
		l.Close()
	}
	s.wg.Wait()

	s.setState(StateClosed, nil)
	s.log.Info("channel closed")
	return err
}

// detachLocked forgets the open links and stops the writer.
func (s *Session) detachLocked() ([]io.ReadWriteCloser, func()) {
	extra, stop := s.extra, s.stopWatch
	s.link, s.extra, s.stopWatch = nil, nil, nil
	close(s.done)
	return extra, stop
}

// attach hooks a channel opened outside Open up to the receive path.
func (s *Session) attach(link io.ReadWriteCloser) {
	s.mu.Lock()
	if s.link == nil {
		s.mu.Unlock()
		link.Close()
		return
	}
	s.extra = append(s.extra, link)
	s.wg.Add(1)
	go s.readLoop(link, false)
	s.mu.Unlock()

	s.log.Info("channel opened by remote")
	s.publish(Event{Kind: EventChannelOpened})
}

func (s *Session) readLoop(link io.ReadWriteCloser, primary bool) {
	defer s.wg.Done()

	buf := make([]byte, readBufferSize)
	for {
		n, err := link.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			s.log.Debug("data received", "bytes", n)
			s.publish(Event{Kind: EventData, Data: data})
		}
		if err != nil {
			if primary {
				s.closedByPeer(link, err)
			}
			return
		}
	}
}

// closedByPeer handles the primary link ending without a local Close.
func (s *Session) closedByPeer(link io.ReadWriteCloser, err error) {
	s.mu.Lock()
	if s.link != link {
		s.mu.Unlock()
		return
	}
	extra, stop := s.detachLocked()
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	link.Close()
	for _, l := range extra {
		l.Close()
	}

	if errors.Is(err, io.EOF) {
		err = nil
	}
	s.setState(StateClosed, err)
	s.log.Info("channel closed by peer", "err", err)
}

func (s *Session) writeLoop(link io.Writer, done <-chan struct{}) {
	defer s.wg.Done()

	for {
		select {
		case <-done:
			return
		case b := <-s.queue:
			select {
			case <-done:
				return
			default:
			}
			_, err := link.Write(b)
			if err != nil {
				s.log.Warn("write failed", "err", err)
			}
			s.publish(Event{Kind: EventWrite, Data: b, Err: err})
		}
	}
}

func (s *Session) setState(st State, err error) {
	s.state.Store(int32(st))
	s.publish(Event{Kind: EventState, State: st, Err: err})
}

func (s *Session) publish(e Event) {
	if s.events == nil {
		return
	}
	e.Address, e.Channel = s.address, s.channel
	s.events.Publish(e)
}
