package server

import (
	"errors"
	"io"
	"net"
	"os"

	"github.com/channelgrid/stomp-broker/internal/connection"
	"github.com/channelgrid/stomp-broker/internal/frame"
	"github.com/channelgrid/stomp-broker/internal/logger"
)

// connTransport adapts one net.Conn to the registry's Transport,
// appending the wire delimiter after every frame.
type connTransport struct {
	conn   net.Conn
	connID int
}

func (t *connTransport) Send(data []byte) error {
	payload := append(data, frameDelimiter)
	total := 0
	for total < len(payload) {
		n, err := t.conn.Write(payload[total:])
		if err != nil {
			logger.ErrorF("[%d] Fail to send data, details: %v", t.connID, err)
			return err
		}
		total += n
	}
	logger.DebugF("[%d] Send %d bytes to client", t.connID, total)
	return nil
}

func (t *connTransport) Close() error {
	err := t.conn.Close()
	if err != nil && !isNetClosedError(err) {
		return err
	}
	return nil
}

// sendMalformedFrameError reports an undecodable frame to the client
// before the connection is dropped.
func sendMalformedFrameError(registry *connection.Manager, connID int, cause error) {
	errorFrame := frame.NewFrame(frame.ERROR)
	errorFrame.Headers.Set("message", "malformed frame: "+cause.Error())
	registry.Unicast(connID, frame.Encode(errorFrame))
}

func isNetClosedError(err error) bool {
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	var opErr *net.OpError
	ok := errors.As(err, &opErr)
	return ok && opErr.Timeout()
}

func handleReadError(connID int, err error) {
	switch {
	case errors.Is(err, io.EOF):
		logger.InfoF("[%d] Client close connection", connID)
	case os.IsTimeout(err):
		logger.WarnF("[%d] Reading timeout", connID)
	case errors.Is(err, net.ErrClosed):
		logger.DebugF("[%d] Connection already closed", connID)
	default:
		logger.ErrorF("[%d] Error occured while reading frame, details: %v", connID, err)
	}
}
