package session

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/channelgrid/stomp-broker/internal/auth"
	"github.com/channelgrid/stomp-broker/internal/frame"
)

type fakeRegistry struct {
	replies    map[int][][]byte
	subscribed map[string]map[string]struct{} // channel -> subscription ids of conn 1 keyed "conn/sub"
	broadcasts []string
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		replies:    make(map[int][][]byte),
		subscribed: make(map[string]map[string]struct{}),
	}
}

func (r *fakeRegistry) Unicast(connID int, payload []byte) bool {
	r.replies[connID] = append(r.replies[connID], payload)
	return true
}

func (r *fakeRegistry) Subscribe(channel string, connID int, subID string) {
	ids, ok := r.subscribed[channel]
	if !ok {
		ids = make(map[string]struct{})
		r.subscribed[channel] = ids
	}
	ids[fmt.Sprintf("%d/%s", connID, subID)] = struct{}{}
}

func (r *fakeRegistry) Unsubscribe(channel string, connID int, subID string) {
	delete(r.subscribed[channel], fmt.Sprintf("%d/%s", connID, subID))
}

func (r *fakeRegistry) IsSubscribed(channel string, connID int) bool {
	prefix := fmt.Sprintf("%d/", connID)
	for key := range r.subscribed[channel] {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

func (r *fakeRegistry) Broadcast(channel string, body string) {
	r.broadcasts = append(r.broadcasts, channel+"|"+body)
}

func (r *fakeRegistry) lastReply(t *testing.T, connID int) *frame.Frame {
	t.Helper()
	payloads := r.replies[connID]
	require.NotEmpty(t, payloads, "expected a reply for connection %d", connID)
	f, err := frame.Decode(payloads[len(payloads)-1])
	require.NoError(t, err)
	return f
}

type fakeAuthority struct {
	outcome  auth.Outcome
	identity map[int]string
	logouts  []int
	uploads  []string
}

func newFakeAuthority(outcome auth.Outcome) *fakeAuthority {
	return &fakeAuthority{outcome: outcome, identity: make(map[int]string)}
}

func (a *fakeAuthority) Login(connID int, username, password string) auth.Outcome {
	if a.outcome.Success() {
		a.identity[connID] = username
	}
	return a.outcome
}

func (a *fakeAuthority) Logout(connID int) {
	a.logouts = append(a.logouts, connID)
	delete(a.identity, connID)
}

func (a *fakeAuthority) Identity(connID int) (string, bool) {
	username, ok := a.identity[connID]
	return username, ok
}

func (a *fakeAuthority) LogFileUpload(username, filename, channel string) {
	a.uploads = append(a.uploads, username+"/"+filename+"/"+channel)
}

func connectFrame(version string) *frame.Frame {
	f := frame.NewFrame(frame.CONNECT)
	f.Headers.Set("accept-version", version)
	f.Headers.Set("host", "broker")
	f.Headers.Set("login", "meni")
	f.Headers.Set("passcode", "films")
	return f
}

func connectedSession(t *testing.T, registry *fakeRegistry, authority *fakeAuthority) *Session {
	t.Helper()
	s := New(1, registry, authority, Policy{})
	s.Handle(connectFrame("1.2"))
	require.Equal(t, frame.CONNECTED, registry.lastReply(t, 1).Command)
	require.False(t, s.ShouldTerminate())
	return s
}

func TestConnectSuccess(t *testing.T) {
	registry := newFakeRegistry()
	s := connectedSession(t, registry, newFakeAuthority(auth.LoggedInSuccessfully))

	reply := registry.lastReply(t, 1)
	assert.Equal(t, SupportedVersion, reply.Header("version"))
	assert.False(t, s.ShouldTerminate())
}

func TestConnectUnsupportedVersion(t *testing.T) {
	registry := newFakeRegistry()
	s := New(1, registry, newFakeAuthority(auth.LoggedInSuccessfully), Policy{})

	s.Handle(connectFrame("1.1"))

	assert.Equal(t, frame.ERROR, registry.lastReply(t, 1).Command)
	assert.True(t, s.ShouldTerminate())

	// no further frames are processed once terminated
	s.Handle(connectFrame("1.2"))
	assert.Len(t, registry.replies[1], 1)
}

func TestConnectVersionList(t *testing.T) {
	registry := newFakeRegistry()
	s := New(1, registry, newFakeAuthority(auth.LoggedInSuccessfully), Policy{})
	s.Handle(connectFrame("1.0,1.1,1.2"))
	assert.Equal(t, frame.CONNECTED, registry.lastReply(t, 1).Command)
}

func TestConnectMissingCredentials(t *testing.T) {
	registry := newFakeRegistry()
	s := New(1, registry, newFakeAuthority(auth.LoggedInSuccessfully), Policy{})

	f := frame.NewFrame(frame.CONNECT)
	f.Headers.Set("accept-version", "1.2")
	s.Handle(f)

	assert.Equal(t, frame.ERROR, registry.lastReply(t, 1).Command)
	assert.True(t, s.ShouldTerminate())
}

func TestConnectFailureOutcomes(t *testing.T) {
	tests := []struct {
		outcome   auth.Outcome
		terminate bool
	}{
		{auth.WrongPassword, true},
		{auth.AlreadyLoggedIn, true},
		{auth.StoreUnavailable, true},
		{auth.ClientAlreadyConnected, false},
	}

	for _, tt := range tests {
		t.Run(tt.outcome.String(), func(t *testing.T) {
			registry := newFakeRegistry()
			s := New(1, registry, newFakeAuthority(tt.outcome), Policy{})
			s.Handle(connectFrame("1.2"))

			assert.Equal(t, frame.ERROR, registry.lastReply(t, 1).Command)
			assert.Equal(t, tt.terminate, s.ShouldTerminate())
		})
	}
}

func TestSendRequiresAuthentication(t *testing.T) {
	registry := newFakeRegistry()
	s := New(1, registry, newFakeAuthority(auth.LoggedInSuccessfully), Policy{})

	f := frame.NewFrame(frame.SEND)
	f.Headers.Set("destination", "chat")
	s.Handle(f)

	assert.Equal(t, frame.ERROR, registry.lastReply(t, 1).Command)
	assert.True(t, s.ShouldTerminate())
	assert.Empty(t, registry.broadcasts)
}

func TestSendMissingDestination(t *testing.T) {
	registry := newFakeRegistry()
	s := connectedSession(t, registry, newFakeAuthority(auth.LoggedInSuccessfully))

	s.Handle(frame.NewFrame(frame.SEND))

	assert.Equal(t, frame.ERROR, registry.lastReply(t, 1).Command)
	assert.True(t, s.ShouldTerminate())
}

func TestSendBroadcastsWithReceipt(t *testing.T) {
	registry := newFakeRegistry()
	s := connectedSession(t, registry, newFakeAuthority(auth.LoggedInSuccessfully))

	f := frame.NewFrame(frame.SEND)
	f.Headers.Set("destination", "chat")
	f.Headers.Set("receipt", "77")
	f.Body = "hi"
	s.Handle(f)

	assert.Equal(t, []string{"chat|hi"}, registry.broadcasts)
	reply := registry.lastReply(t, 1)
	assert.Equal(t, frame.RECEIPT, reply.Command)
	assert.Equal(t, "77", reply.Header("receipt-id"))
	assert.False(t, s.ShouldTerminate())
}

func TestSendWithoutSubscriptionAllowedByDefault(t *testing.T) {
	registry := newFakeRegistry()
	s := connectedSession(t, registry, newFakeAuthority(auth.LoggedInSuccessfully))

	f := frame.NewFrame(frame.SEND)
	f.Headers.Set("destination", "chat")
	f.Body = "hi"
	s.Handle(f)

	assert.Equal(t, []string{"chat|hi"}, registry.broadcasts)
	assert.False(t, s.ShouldTerminate())
}

func TestSendRequireSubscribePolicy(t *testing.T) {
	registry := newFakeRegistry()
	authority := newFakeAuthority(auth.LoggedInSuccessfully)
	s := New(1, registry, authority, Policy{RequireSubscribeToSend: true})
	s.Handle(connectFrame("1.2"))

	f := frame.NewFrame(frame.SEND)
	f.Headers.Set("destination", "chat")
	s.Handle(f)

	assert.Equal(t, frame.ERROR, registry.lastReply(t, 1).Command)
	assert.Empty(t, registry.broadcasts)
}

func TestSendFileReportAudited(t *testing.T) {
	registry := newFakeRegistry()
	authority := newFakeAuthority(auth.LoggedInSuccessfully)
	s := connectedSession(t, registry, authority)

	f := frame.NewFrame(frame.SEND)
	f.Headers.Set("destination", "germany_japan")
	f.Headers.Set("file name", "events1.json")
	f.Body = "team a: germany"
	s.Handle(f)

	assert.Equal(t, []string{"meni/events1.json/germany_japan"}, authority.uploads)
	assert.Equal(t, []string{"germany_japan|team a: germany"}, registry.broadcasts)
}

func TestSubscribeRegistersBothTables(t *testing.T) {
	registry := newFakeRegistry()
	s := connectedSession(t, registry, newFakeAuthority(auth.LoggedInSuccessfully))

	f := frame.NewFrame(frame.SUBSCRIBE)
	f.Headers.Set("destination", "chat")
	f.Headers.Set("id", "1")
	f.Headers.Set("receipt", "5")
	s.Handle(f)

	assert.Contains(t, registry.subscribed["chat"], "1/1")
	reply := registry.lastReply(t, 1)
	assert.Equal(t, frame.RECEIPT, reply.Command)
	assert.Equal(t, "5", reply.Header("receipt-id"))
}

func TestSubscribeMissingHeaders(t *testing.T) {
	registry := newFakeRegistry()
	s := connectedSession(t, registry, newFakeAuthority(auth.LoggedInSuccessfully))

	f := frame.NewFrame(frame.SUBSCRIBE)
	f.Headers.Set("destination", "chat")
	s.Handle(f)

	assert.Equal(t, frame.ERROR, registry.lastReply(t, 1).Command)
	assert.True(t, s.ShouldTerminate())
}

func TestSubscriptionIDRebindsToNewChannel(t *testing.T) {
	registry := newFakeRegistry()
	s := connectedSession(t, registry, newFakeAuthority(auth.LoggedInSuccessfully))

	first := frame.NewFrame(frame.SUBSCRIBE)
	first.Headers.Set("destination", "chat")
	first.Headers.Set("id", "1")
	s.Handle(first)

	second := frame.NewFrame(frame.SUBSCRIBE)
	second.Headers.Set("destination", "news")
	second.Headers.Set("id", "1")
	s.Handle(second)

	assert.NotContains(t, registry.subscribed["chat"], "1/1")
	assert.Contains(t, registry.subscribed["news"], "1/1")
}

func TestUnsubscribeRemovesSubscription(t *testing.T) {
	registry := newFakeRegistry()
	s := connectedSession(t, registry, newFakeAuthority(auth.LoggedInSuccessfully))

	subscribe := frame.NewFrame(frame.SUBSCRIBE)
	subscribe.Headers.Set("destination", "chat")
	subscribe.Headers.Set("id", "1")
	s.Handle(subscribe)

	unsubscribe := frame.NewFrame(frame.UNSUBSCRIBE)
	unsubscribe.Headers.Set("id", "1")
	s.Handle(unsubscribe)

	assert.NotContains(t, registry.subscribed["chat"], "1/1")
	assert.False(t, s.ShouldTerminate())
}

func TestUnsubscribeUnknownIDIsBenign(t *testing.T) {
	registry := newFakeRegistry()
	s := connectedSession(t, registry, newFakeAuthority(auth.LoggedInSuccessfully))

	f := frame.NewFrame(frame.UNSUBSCRIBE)
	f.Headers.Set("id", "99")
	f.Headers.Set("receipt", "8")
	s.Handle(f)

	reply := registry.lastReply(t, 1)
	assert.Equal(t, frame.RECEIPT, reply.Command)
	assert.False(t, s.ShouldTerminate())
}

func TestDisconnectWithReceipt(t *testing.T) {
	registry := newFakeRegistry()
	authority := newFakeAuthority(auth.LoggedInSuccessfully)
	s := connectedSession(t, registry, authority)

	f := frame.NewFrame(frame.DISCONNECT)
	f.Headers.Set("receipt", "42")
	s.Handle(f)

	reply := registry.lastReply(t, 1)
	assert.Equal(t, frame.RECEIPT, reply.Command)
	assert.Equal(t, "42", reply.Header("receipt-id"))
	assert.True(t, s.ShouldTerminate())
	assert.Equal(t, []int{1}, authority.logouts)
}

func TestDisconnectWithoutReceiptIsError(t *testing.T) {
	registry := newFakeRegistry()
	authority := newFakeAuthority(auth.LoggedInSuccessfully)
	s := connectedSession(t, registry, authority)

	s.Handle(frame.NewFrame(frame.DISCONNECT))

	assert.Equal(t, frame.ERROR, registry.lastReply(t, 1).Command)
	assert.True(t, s.ShouldTerminate())
	assert.Empty(t, authority.logouts)
}

func TestUnknownCommandIgnored(t *testing.T) {
	registry := newFakeRegistry()
	s := connectedSession(t, registry, newFakeAuthority(auth.LoggedInSuccessfully))
	replies := len(registry.replies[1])

	f := frame.NewFrame(frame.Command("NACK"))
	f.Headers.Set("id", "3")
	s.Handle(f)

	assert.Len(t, registry.replies[1], replies)
	assert.False(t, s.ShouldTerminate())
}
