package headset

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mil-ad/bosectl/internal/command"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func newTestSession(t *testing.T, ft *fakeTransport, sendQueue int) (*Session, *EventBus) {
	t.Helper()
	bus := NewEventBus(16)
	t.Cleanup(bus.Close)

	s := NewSession(ft, bus, nil, qc35.Address, 8, sendQueue)
	t.Cleanup(func() { s.Close() })
	return s, bus
}

func nextEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(waitFor):
		t.Fatal("no event")
		return Event{}
	}
}

func TestSessionOpenSendClose(t *testing.T) {
	ft := newFakeTransport(qc35)
	s, _ := newTestSession(t, ft, 0)

	assert.Equal(t, StateClosed, s.State())
	require.NoError(t, s.Open(context.Background()))
	assert.True(t, s.Ready())
	assert.Equal(t, StateOpen, s.State())

	require.NoError(t, s.Send(command.Init().Frame()))
	require.NoError(t, s.Send(command.NoiseCancelling(command.NoiseHigh).Frame()))

	link := ft.link(0)
	assert.Eventually(t, func() bool { return len(link.Writes()) == 2 }, waitFor, tick)
	assert.Equal(t, [][]byte{{0x00, 0x03, 0x01, 0x00}, {0x01, 0x06, 0x02, 0x01, 0x01}}, link.Writes())

	require.NoError(t, s.Close())
	assert.Equal(t, StateClosed, s.State())
	assert.True(t, link.isClosed())
	assert.ErrorIs(t, s.Send(command.Init().Frame()), ErrChannelNotOpen)
	assert.NoError(t, s.Close(), "second close is a no-op")
}

func TestSessionSendBeforeOpen(t *testing.T) {
	ft := newFakeTransport(qc35)
	s, _ := newTestSession(t, ft, 0)

	assert.ErrorIs(t, s.Send(command.Init().Frame()), ErrChannelNotOpen)
	assert.Zero(t, ft.linkCount())
}

func TestSessionOpenFailure(t *testing.T) {
	ft := newFakeTransport(qc35)
	ft.openErr = errors.New("connection refused")
	s, _ := newTestSession(t, ft, 0)

	err := s.Open(context.Background())
	assert.ErrorIs(t, err, ErrChannelOpenFailed)
	assert.ErrorIs(t, err, ft.openErr)

	var oe *OpenError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, ChannelID(8), oe.Channel)
	assert.Equal(t, StateClosed, s.State())

	assert.ErrorIs(t, s.Open(context.Background()), ErrSessionBusy, "sessions are single use")
}

func TestSessionOpenCanceled(t *testing.T) {
	ft := newFakeTransport(qc35)
	ft.openHold = make(chan struct{})
	s, _ := newTestSession(t, ft, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Open(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, s.State())

	close(ft.openHold)
	assert.Eventually(t, func() bool {
		l := ft.link(0)
		return l != nil && l.isClosed()
	}, waitFor, tick, "a channel that opens after the caller gave up is closed")
}

func TestSessionStateEvents(t *testing.T) {
	ft := newFakeTransport(qc35)
	s, bus := newTestSession(t, ft, 0)
	events, unsub := bus.Subscribe(EventState)
	defer unsub()

	require.NoError(t, s.Open(context.Background()))
	assert.Equal(t, StateOpening, nextEvent(t, events).State)
	e := nextEvent(t, events)
	assert.Equal(t, StateOpen, e.State)
	assert.Equal(t, qc35.Address, e.Address)
	assert.Equal(t, ChannelID(8), e.Channel)
}

func TestSessionClosedByPeer(t *testing.T) {
	ft := newFakeTransport(qc35)
	s, bus := newTestSession(t, ft, 0)
	require.NoError(t, s.Open(context.Background()))

	events, unsub := bus.Subscribe(EventState)
	defer unsub()

	ft.link(0).hangUp()

	e := nextEvent(t, events)
	assert.Equal(t, StateClosed, e.State)
	assert.NoError(t, e.Err)
	assert.Equal(t, StateClosed, s.State())
	assert.ErrorIs(t, s.Send(command.Init().Frame()), ErrChannelNotOpen)
	assert.True(t, ft.link(0).isClosed())
}

func TestSessionPublishesReceivedBytes(t *testing.T) {
	ft := newFakeTransport(qc35)
	s, bus := newTestSession(t, ft, 0)
	require.NoError(t, s.Open(context.Background()))

	data, unsub := bus.Subscribe(EventData)
	defer unsub()

	ft.link(0).reads <- []byte{0x04, 0x05, 0x03, 0x01}

	e := nextEvent(t, data)
	assert.Equal(t, []byte{0x04, 0x05, 0x03, 0x01}, e.Data)
}

func TestSessionWriteEvents(t *testing.T) {
	ft := newFakeTransport(qc35)
	s, bus := newTestSession(t, ft, 0)
	require.NoError(t, s.Open(context.Background()))

	writes, unsub := bus.Subscribe(EventWrite)
	defer unsub()

	require.NoError(t, s.Send(command.QueryPairedDevices().Frame()))

	e := nextEvent(t, writes)
	assert.Equal(t, []byte{0x04, 0x04, 0x01, 0x00}, e.Data)
	assert.NoError(t, e.Err)
}

func TestSessionAttachesRemotelyOpenedChannels(t *testing.T) {
	ft := newFakeTransport(qc35)
	s, bus := newTestSession(t, ft, 0)
	events, unsub := bus.Subscribe(EventChannelOpened, EventData)
	defer unsub()

	require.NoError(t, s.Open(context.Background()))

	remote, ok := ft.remoteOpen(qc35.Address)
	require.True(t, ok, "session watches for remote opens")
	assert.Equal(t, EventChannelOpened, nextEvent(t, events).Kind)

	remote.reads <- []byte{0x01, 0x02}
	e := nextEvent(t, events)
	assert.Equal(t, EventData, e.Kind)
	assert.Equal(t, []byte{0x01, 0x02}, e.Data)

	require.NoError(t, s.Close())
	assert.True(t, remote.isClosed())
	_, ok = ft.remoteOpen(qc35.Address)
	assert.False(t, ok, "watch stops on close")
}

func TestSessionSendQueueFull(t *testing.T) {
	ft := newFakeTransport(qc35)
	s, _ := newTestSession(t, ft, 1)
	require.NoError(t, s.Open(context.Background()))

	link := ft.link(0)
	link.gate = make(chan struct{})
	defer close(link.gate)

	frame := command.Init().Frame()
	require.NoError(t, s.Send(frame))
	select {
	case <-link.writing:
	case <-time.After(waitFor):
		t.Fatal("writer never picked up the first frame")
	}

	require.NoError(t, s.Send(frame))
	assert.ErrorIs(t, s.Send(frame), ErrSendQueueFull)
}

func TestSessionDropsQueuedFramesOnClose(t *testing.T) {
	ft := newFakeTransport(qc35)
	s, bus := newTestSession(t, ft, 0)
	require.NoError(t, s.Open(context.Background()))

	writes, unsub := bus.Subscribe(EventWrite)
	defer unsub()

	link := ft.link(0)
	link.gate = make(chan struct{})

	require.NoError(t, s.Send(command.Init().Frame()))
	select {
	case <-link.writing:
	case <-time.After(waitFor):
		t.Fatal("writer never picked up the first frame")
	}
	queued := command.NoiseCancelling(command.NoiseOff).Frame()
	require.NoError(t, s.Send(queued))

	require.NoError(t, s.Close())

	for {
		select {
		case e := <-writes:
			assert.NotEqual(t, queued.Bytes(), e.Data, "queued frame written after close")
			continue
		default:
		}
		break
	}
	assert.Empty(t, link.Writes())
}

func TestSessionCloseAfterPeerClose(t *testing.T) {
	ft := newFakeTransport(qc35)
	s, _ := newTestSession(t, ft, 0)
	require.NoError(t, s.Open(context.Background()))

	ft.link(0).hangUp()
	require.NoError(t, s.Close())
	assert.Equal(t, StateClosed, s.State())
}
