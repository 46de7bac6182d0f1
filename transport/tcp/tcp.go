// Package tcp provides the TCP implementation of the wireline transport
// connector interfaces, including socket tuning (TCP_NODELAY, buffer sizes,
// keep-alive and linger) driven by the connection configuration.
package tcp

import (
	"fmt"
	"net"
	"time"

	"github.com/wireline-io/wireline/common"
	"github.com/wireline-io/wireline/transport"
)

// connector implements both the dialing and listening connector interfaces
// for TCP sockets
type connector struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IConnector / IListenerConnector)
// --------------------------------------------------------------------------

func (c *connector) GetName() string {
	return "tcp"
}

func (c *connector) Connect(endpoint string) (net.Conn, error) {
	return net.Dial("tcp", endpoint)
}

func (c *connector) Listen(endpoint string) (net.Listener, error) {
	listener, err := net.Listen("tcp", endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create tcp listener: %v", err)
	}
	return listener, nil
}

// UpgradeConnection applies performance settings to a TCP connection using
// the TCP and socket sections of the connection configuration
func (c *connector) UpgradeConnection(conn net.Conn, conf common.ConnConf) error {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return nil // Not a TCP connection, nothing to upgrade
	}

	// Disable Nagle's algorithm (TCPNoDelay) if configured
	if err := tcpConn.SetNoDelay(conf.TCP.TCPNoDelay); err != nil {
		return err
	}

	// Set socket write buffer size if configured
	if conf.Socket.WriteBufferSize > 0 {
		if err := tcpConn.SetWriteBuffer(conf.Socket.WriteBufferSize); err != nil {
			return err
		}
	}

	// Set socket read buffer size if configured
	if conf.Socket.ReadBufferSize > 0 {
		if err := tcpConn.SetReadBuffer(conf.Socket.ReadBufferSize); err != nil {
			return err
		}
	}

	// Enable TCP keep-alive if configured
	if conf.TCP.TCPKeepAliveSec > 0 {
		if err := tcpConn.SetKeepAlive(true); err != nil {
			return err
		}
		keepAlivePeriod := time.Duration(conf.TCP.TCPKeepAliveSec) * time.Second
		if err := tcpConn.SetKeepAlivePeriod(keepAlivePeriod); err != nil {
			return err
		}
	}

	// Set TCP linger option if configured
	if conf.TCP.TCPLingerSec >= 0 {
		if err := tcpConn.SetLinger(conf.TCP.TCPLingerSec); err != nil {
			return err
		}
	}

	return nil
}

// --------------------------------------------------------------------------
// Factory Methods
// --------------------------------------------------------------------------

// NewConnector creates a new TCP dialing connector
func NewConnector() transport.IConnector {
	return &connector{}
}

// NewListenerConnector creates a new TCP listening connector
func NewListenerConnector() transport.IListenerConnector {
	return &connector{}
}
