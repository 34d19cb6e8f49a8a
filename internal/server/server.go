package server

import (
	"net"
	"strconv"

	"github.com/channelgrid/stomp-broker/internal/connection"
	"github.com/channelgrid/stomp-broker/internal/logger"
	"github.com/channelgrid/stomp-broker/internal/session"
)

var sem = make(chan struct{}, 10000)

// Server accepts client connections and runs one session per
// connection on its own goroutine.
type Server struct {
	registry  *connection.Manager
	authority session.Authenticator
	policy    session.Policy
}

func NewServer(registry *connection.Manager, authority session.Authenticator, policy session.Policy) *Server {
	return &Server{
		registry:  registry,
		authority: authority,
		policy:    policy,
	}
}

func (s *Server) Start(port int) {
	ln, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		logger.FatalF("Broker start error: %v", err)
		return
	}
	logger.InfoF("Broker listen on " + ln.Addr().String())
	defer func() {
		err := ln.Close()
		if err != nil {
			logger.ErrorF("Server close error: %v", err)
		}
	}()

	s.serve(ln)
}

func (s *Server) serve(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			logger.ErrorF("Accept connection error: %v", err)
			continue
		}

		logger.DebugF("Accepted new connection from %s", conn.RemoteAddr().String())

		sem <- struct{}{}
		go func(c net.Conn) {
			newConnectionHandler(s, c).handleConnection()
			<-sem
		}(conn)
	}
}
