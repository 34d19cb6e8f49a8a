package server

import (
	"bufio"
	"bytes"
	"net"
	"sync/atomic"

	"github.com/channelgrid/stomp-broker/internal/frame"
	"github.com/channelgrid/stomp-broker/internal/logger"
	"github.com/channelgrid/stomp-broker/internal/session"
)

// frameDelimiter separates frames on the wire
const frameDelimiter = '\x00'

var nextConnID atomic.Int64

type ConnectionHandler struct {
	server  *Server
	conn    net.Conn
	connID  int
	session *session.Session
	reader  *bufio.Reader
}

func newConnectionHandler(s *Server, conn net.Conn) *ConnectionHandler {
	connID := int(nextConnID.Add(1))
	return &ConnectionHandler{
		server: s,
		conn:   conn,
		connID: connID,
		reader: bufio.NewReader(conn),
	}
}

// readFrame assembles the next raw frame from the byte stream. Bare
// newlines between frames are tolerated and skipped.
func (c *ConnectionHandler) readFrame() ([]byte, error) {
	for {
		data, err := c.reader.ReadBytes(frameDelimiter)
		if err != nil {
			return nil, err
		}
		data = bytes.TrimSuffix(data, []byte{frameDelimiter})
		data = bytes.TrimLeft(data, "\n")
		if len(data) > 0 {
			return data, nil
		}
	}
}

func (c *ConnectionHandler) handlePacket() {
	for {
		data, err := c.readFrame()
		if err != nil {
			handleReadError(c.connID, err)
			return
		}

		received, err := frame.Decode(data)
		if err != nil {
			logger.ErrorF("[%d] Fail to decode frame, details: %v", c.connID, err)
			sendMalformedFrameError(c.server.registry, c.connID, err)
			return
		}

		logger.DebugF("[%d] Receive %s frame", c.connID, received.Command)
		c.session.Handle(received)

		if c.session.ShouldTerminate() {
			logger.DebugF("[%d] Session raised terminal flag", c.connID)
			return
		}
	}
}

func (c *ConnectionHandler) handleConnection() {
	transport := &connTransport{conn: c.conn, connID: c.connID}
	c.server.registry.Register(c.connID, transport)
	c.session = session.New(c.connID, c.server.registry, c.server.authority, c.server.policy)

	defer func() {
		// the session may already have logged out and an unclean drop may
		// not have, both calls are idempotent
		c.server.authority.Logout(c.connID)
		c.server.registry.Disconnect(c.connID)
		logger.DebugF("[%d] Connection closed", c.connID)
	}()

	c.handlePacket()
}
