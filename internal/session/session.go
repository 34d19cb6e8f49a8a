// Package session implements the per-connection protocol state machine.
// One Session is created per accepted connection and interprets each
// decoded frame, driving the session authority and the connection
// registry.
package session

import (
	"strings"

	"github.com/channelgrid/stomp-broker/internal/auth"
	"github.com/channelgrid/stomp-broker/internal/frame"
	"github.com/channelgrid/stomp-broker/internal/logger"
)

// SupportedVersion is the only protocol version the broker speaks
const SupportedVersion = "1.2"

// Registry is the slice of the connection registry a session drives
type Registry interface {
	Unicast(connID int, payload []byte) bool
	Subscribe(channel string, connID int, subID string)
	Unsubscribe(channel string, connID int, subID string)
	IsSubscribed(channel string, connID int) bool
	Broadcast(channel string, body string)
}

// Authenticator is the slice of the session authority a session drives
type Authenticator interface {
	Login(connID int, username, password string) auth.Outcome
	Logout(connID int)
	Identity(connID int) (string, bool)
	LogFileUpload(username, filename, channel string)
}

// Policy holds the configurable protocol decisions
type Policy struct {
	// RequireSubscribeToSend rejects SEND frames whose publisher holds no
	// subscription to the destination. Off by default, publishing without
	// subscribing is conventional for pub/sub.
	RequireSubscribeToSend bool
}

type Session struct {
	connID    int
	registry  Registry
	authority Authenticator
	policy    Policy

	authenticated bool
	subscriptions map[string]string // subscription id -> channel
	terminated    bool
}

func New(connID int, registry Registry, authority Authenticator, policy Policy) *Session {
	return &Session{
		connID:        connID,
		registry:      registry,
		authority:     authority,
		policy:        policy,
		subscriptions: make(map[string]string),
	}
}

// ShouldTerminate reports whether the transport must close the
// connection after flushing any pending reply.
func (s *Session) ShouldTerminate() bool {
	return s.terminated
}

// Handle processes one decoded frame
func (s *Session) Handle(f *frame.Frame) {
	if s.terminated {
		return
	}

	switch f.Command {
	case frame.CONNECT:
		s.handleConnect(f)
	case frame.SEND:
		s.handleSend(f)
	case frame.SUBSCRIBE:
		s.handleSubscribe(f)
	case frame.UNSUBSCRIBE:
		s.handleUnsubscribe(f)
	case frame.DISCONNECT:
		s.handleDisconnect(f)
	default:
		// permissive by design, unknown commands get no reply and the
		// connection stays open
		logger.DebugF("[%d] Ignoring unsupported %s frame", s.connID, f.Command)
	}
}

func (s *Session) handleConnect(f *frame.Frame) {
	if !acceptsVersion(f.Header("accept-version")) {
		s.fail("unsupported protocol version, the broker speaks " + SupportedVersion)
		return
	}

	login, hasLogin := f.Headers.Get("login")
	passcode, hasPasscode := f.Headers.Get("passcode")
	if !hasLogin || !hasPasscode {
		s.fail("CONNECT frame is missing the login or passcode header")
		return
	}

	outcome := s.authority.Login(s.connID, login, passcode)
	switch outcome {
	case auth.AddedNewUser, auth.LoggedInSuccessfully:
		s.authenticated = true
		connected := frame.NewFrame(frame.CONNECTED)
		connected.Headers.Set("version", SupportedVersion)
		s.reply(connected)
	case auth.ClientAlreadyConnected:
		// this socket already holds an identity, report it without
		// tearing the connection down
		s.sendError("client is already connected on this connection")
	case auth.WrongPassword:
		s.fail("wrong password for user " + login)
	case auth.AlreadyLoggedIn:
		s.fail("user " + login + " is already logged in elsewhere")
	case auth.StoreUnavailable:
		s.fail("login temporarily unavailable, try again later")
	}
}

func (s *Session) handleSend(f *frame.Frame) {
	if !s.requireAuthenticated("SEND") {
		return
	}
	destination, ok := f.Headers.Get("destination")
	if !ok {
		s.fail("SEND frame is missing the destination header")
		return
	}
	if s.policy.RequireSubscribeToSend && !s.registry.IsSubscribed(destination, s.connID) {
		s.fail("cannot send to " + destination + " without subscribing first")
		return
	}

	s.registry.Broadcast(destination, f.Body)

	// a file report carries its filename, record the upload for the
	// audit trail without touching the publish result
	if filename, ok := f.Headers.Get("file name"); ok {
		if username, bound := s.authority.Identity(s.connID); bound {
			s.authority.LogFileUpload(username, filename, destination)
		}
	}

	s.echoReceipt(f)
}

func (s *Session) handleSubscribe(f *frame.Frame) {
	if !s.requireAuthenticated("SUBSCRIBE") {
		return
	}
	destination, hasDestination := f.Headers.Get("destination")
	subID, hasID := f.Headers.Get("id")
	if !hasDestination || !hasID {
		s.fail("SUBSCRIBE frame is missing the destination or id header")
		return
	}

	// a subscription id maps to exactly one channel at a time
	if previous, ok := s.subscriptions[subID]; ok && previous != destination {
		s.registry.Unsubscribe(previous, s.connID, subID)
	}
	s.subscriptions[subID] = destination
	s.registry.Subscribe(destination, s.connID, subID)
	s.echoReceipt(f)
}

func (s *Session) handleUnsubscribe(f *frame.Frame) {
	if !s.requireAuthenticated("UNSUBSCRIBE") {
		return
	}
	subID, ok := f.Headers.Get("id")
	if !ok {
		s.fail("UNSUBSCRIBE frame is missing the id header")
		return
	}

	// an unknown subscription id is a no-op, not an error
	if channel, ok := s.subscriptions[subID]; ok {
		delete(s.subscriptions, subID)
		s.registry.Unsubscribe(channel, s.connID, subID)
	}
	s.echoReceipt(f)
}

func (s *Session) handleDisconnect(f *frame.Frame) {
	receipt, ok := f.Headers.Get("receipt")
	if !ok {
		s.fail("DISCONNECT frame is missing the receipt header")
		return
	}
	s.sendReceipt(receipt)
	s.authority.Logout(s.connID)
	s.terminated = true
}

// requireAuthenticated fails the session when the client has not
// completed a successful CONNECT yet.
func (s *Session) requireAuthenticated(command string) bool {
	if s.authenticated {
		return true
	}
	s.fail(command + " requires a logged in session")
	return false
}

// fail sends an error frame and raises the terminal flag
func (s *Session) fail(reason string) {
	s.sendError(reason)
	s.terminated = true
}

func (s *Session) sendError(reason string) {
	logger.InfoF("[%d] Protocol error: %s", s.connID, reason)
	errorFrame := frame.NewFrame(frame.ERROR)
	errorFrame.Headers.Set("message", reason)
	s.reply(errorFrame)
}

func (s *Session) sendReceipt(receipt string) {
	receiptFrame := frame.NewFrame(frame.RECEIPT)
	receiptFrame.Headers.Set("receipt-id", receipt)
	s.reply(receiptFrame)
}

// echoReceipt acknowledges the frame when the client asked for it
func (s *Session) echoReceipt(f *frame.Frame) {
	if receipt, ok := f.Headers.Get("receipt"); ok {
		s.sendReceipt(receipt)
	}
}

func (s *Session) reply(f *frame.Frame) {
	if !s.registry.Unicast(s.connID, frame.Encode(f)) {
		logger.DebugF("[%d] Connection gone before reply could be sent", s.connID)
	}
}

// acceptsVersion reports whether the comma-separated accept-version
// header names the supported protocol version.
func acceptsVersion(header string) bool {
	for _, version := range strings.Split(header, ",") {
		if strings.TrimSpace(version) == SupportedVersion {
			return true
		}
	}
	return false
}
