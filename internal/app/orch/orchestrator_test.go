package orch

import (
	"context"
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drazan/huddle/internal/app"
	"github.com/drazan/huddle/internal/app/datachan"
	"github.com/drazan/huddle/internal/app/sfu"
	"github.com/drazan/huddle/internal/core"
	"github.com/drazan/huddle/internal/media/voice"
)

type fakeMedia struct {
	mu      sync.Mutex
	closed  bool
	onState func(core.ConnState)
	onTrack func(context.Context, *webrtc.TrackRemote, *webrtc.RTPReceiver)
	onDC    func(*webrtc.DataChannel)
}

func (f *fakeMedia) Start(context.Context) error { return nil }

func (f *fakeMedia) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeMedia) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeMedia) ApplyOffer(webrtc.SessionDescription) error        { return nil }
func (f *fakeMedia) CreateAnswer() (*webrtc.SessionDescription, error) { return nil, nil }
func (f *fakeMedia) CreateOffer() (*webrtc.SessionDescription, error)  { return nil, nil }
func (f *fakeMedia) ApplyAnswer(webrtc.SessionDescription) error       { return nil }

func (f *fakeMedia) AttachTrack(*webrtc.TrackLocalStaticRTP) (*webrtc.RTPSender, error) {
	return nil, nil
}
func (f *fakeMedia) DetachTrack(*webrtc.RTPSender) error { return nil }

func (f *fakeMedia) OnTrack(fn func(context.Context, *webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	f.onTrack = fn
}
func (f *fakeMedia) OnDataChannel(fn func(*webrtc.DataChannel)) { f.onDC = fn }
func (f *fakeMedia) OnStateChange(fn func(core.ConnState))      { f.onState = fn }

var _ core.MediaConnection = (*fakeMedia)(nil)

type fakeReneg struct {
	mu        sync.Mutex
	triggered []core.SessionID
}

func (f *fakeReneg) Trigger(sid core.SessionID) {
	f.mu.Lock()
	f.triggered = append(f.triggered, sid)
	f.mu.Unlock()
}

type noopEndpoint struct{}

func (noopEndpoint) Send([]byte) error { return nil }

func newTestOrchestrator() *Orchestrator {
	return &Orchestrator{
		Registry:     app.NewRegistry(),
		Pubs:         sfu.NewPublications(),
		Reneg:        &fakeReneg{},
		DataChannels: datachan.NewRouter(),
		Voices:       voice.NewEngine(),
	}
}

func TestOnConnStateNonTerminal(t *testing.T) {
	o := newTestOrchestrator()
	sid := app.NewSessionID()
	sess := o.Register(sid, "alice", "client-1", &fakeMedia{})

	o.OnConnState(sid, core.StateConnected)
	assert.Equal(t, core.StateConnected, sess.State())
	assert.Equal(t, 1, o.Registry.Len())
}

func TestOnConnStateTerminalReleasesEverything(t *testing.T) {
	o := newTestOrchestrator()
	sid := app.NewSessionID()
	media := &fakeMedia{}
	o.Register(sid, "alice", "client-1", media)
	o.DataChannels.Register("alice", noopEndpoint{})
	o.Voices.ForUser("alice")

	o.OnConnState(sid, core.StateFailed)

	assert.Equal(t, 0, o.Registry.Len())
	assert.True(t, media.isClosed())
	assert.Equal(t, 0, o.DataChannels.Len())
	assert.Equal(t, 0, o.Voices.Len())
}

func TestOnConnStateUnknownSession(t *testing.T) {
	o := newTestOrchestrator()
	o.OnConnState("missing", core.StateFailed) // must not panic
}

func TestBindMediaHandlersRoutesStateChanges(t *testing.T) {
	o := newTestOrchestrator()
	sid := app.NewSessionID()
	media := &fakeMedia{}

	o.BindMediaHandlers(media, sid, "alice")
	require.NotNil(t, media.onState)
	require.NotNil(t, media.onTrack)
	require.NotNil(t, media.onDC)

	o.Register(sid, "alice", "client-1", media)
	media.onState(core.StateClosed)

	assert.Equal(t, 0, o.Registry.Len())
	assert.True(t, media.isClosed())
}

func TestShutdownClosesAllSessions(t *testing.T) {
	o := newTestOrchestrator()
	a := &fakeMedia{}
	b := &fakeMedia{}
	o.Register(app.NewSessionID(), "alice", "", a)
	o.Register(app.NewSessionID(), "bob", "", b)

	o.Shutdown()

	assert.Equal(t, 0, o.Registry.Len())
	assert.True(t, a.isClosed())
	assert.True(t, b.isClosed())
}

func TestPreAttachWithoutPublications(t *testing.T) {
	o := newTestOrchestrator()
	o.PreAttach(app.NewSessionID(), &fakeMedia{}) // nothing published, nothing to do
	assert.Empty(t, o.Pubs.List())
}
