// Package unix provides the Unix domain socket implementation of the
// wireline transport connector interfaces.
package unix

import (
	"fmt"
	"net"
	"os"

	"github.com/wireline-io/wireline/common"
	"github.com/wireline-io/wireline/transport"
)

// connector implements both the dialing and listening connector interfaces
// for Unix domain sockets
type connector struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IConnector / IListenerConnector)
// --------------------------------------------------------------------------

func (c *connector) GetName() string {
	return "unix"
}

func (c *connector) Connect(endpoint string) (net.Conn, error) {
	return net.Dial("unix", endpoint)
}

func (c *connector) Listen(endpoint string) (net.Listener, error) {
	// Remove existing socket file if it exists
	if err := os.RemoveAll(endpoint); err != nil {
		return nil, fmt.Errorf("failed to remove existing socket: %v", err)
	}

	listener, err := net.Listen("unix", endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create unix socket: %v", err)
	}
	return listener, nil
}

// UpgradeConnection applies socket buffer settings to a Unix connection
func (c *connector) UpgradeConnection(conn net.Conn, conf common.ConnConf) error {
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		return nil // Not a Unix socket, nothing to upgrade
	}

	if conf.Socket.WriteBufferSize > 0 {
		if err := unixConn.SetWriteBuffer(conf.Socket.WriteBufferSize); err != nil {
			return err
		}
	}
	if conf.Socket.ReadBufferSize > 0 {
		if err := unixConn.SetReadBuffer(conf.Socket.ReadBufferSize); err != nil {
			return err
		}
	}

	return nil
}

// --------------------------------------------------------------------------
// Factory Methods
// --------------------------------------------------------------------------

// NewConnector creates a new Unix socket dialing connector
func NewConnector() transport.IConnector {
	return &connector{}
}

// NewListenerConnector creates a new Unix socket listening connector
func NewListenerConnector() transport.IListenerConnector {
	return &connector{}
}
