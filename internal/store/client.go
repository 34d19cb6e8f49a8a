// Package store implements the client side of the request/response
// protocol spoken with the external SQL store. Each query opens a fresh
// connection, writes the statement terminated by a NUL sentinel and
// reads the reply up to the same sentinel.
package store

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/channelgrid/stomp-broker/internal/config"
	"github.com/channelgrid/stomp-broker/internal/logger"
	"github.com/channelgrid/stomp-broker/internal/utils"
)

const sentinel = '\x00'

var (
	// ErrUnavailable marks transport failures reaching the store. Callers
	// must keep it distinct from a query that ran and found nothing.
	ErrUnavailable = errors.New("store unreachable")
	// ErrQueryFailed marks an ERROR reply from the store
	ErrQueryFailed = errors.New("store query failed")
)

// Querier is the narrow surface the rest of the broker depends on, so a
// fake store can stand in during tests.
type Querier interface {
	Query(sql string) (*Result, error)
}

type Client struct {
	addr           string
	connectTimeout time.Duration
	readTimeout    time.Duration
	writeTimeout   time.Duration
}

func NewClient() (*Client, error) {
	cfg, err := config.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("error occured while configuring store client: %v", err)
	}
	return &Client{
		addr:           net.JoinHostPort(cfg.Store.Host, strconv.FormatUint(cfg.Store.Port, 10)),
		connectTimeout: utils.ParseStringTime(cfg.Store.ConnectTimeout),
		readTimeout:    utils.ParseStringTime(cfg.Store.ReadTimeout),
		writeTimeout:   utils.ParseStringTime(cfg.Store.WriteTimeout),
	}, nil
}

// Query runs one SQL statement against the store and parses the reply.
func (c *Client) Query(sql string) (*Result, error) {
	logger.DebugF("Executing SQL: %s", sql)

	conn, err := net.DialTimeout("tcp", c.addr, c.connectTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() {
		_ = conn.Close()
	}()

	if c.writeTimeout != 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if err := writeAll(conn, append([]byte(sql), sentinel)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if c.readTimeout != 0 {
		_ = conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	}
	reply, err := bufio.NewReader(conn).ReadString(sentinel)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	reply = strings.TrimSuffix(reply, string(sentinel))

	startTime := time.Now()
	result, err := parseResponse(reply)
	logger.DebugF("store query cost: %v", time.Since(startTime))
	return result, err
}

func writeAll(conn net.Conn, data []byte) error {
	total := 0
	for total < len(data) {
		n, err := conn.Write(data[total:])
		if err != nil {
			return err
		}
		total += n
	}
	return nil
}

// Escape doubles embedded quote characters so values are safe to
// interpolate into a statement.
func Escape(value string) string {
	return strings.ReplaceAll(value, "'", "''")
}
