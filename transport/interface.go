package transport

import (
	"net"

	"github.com/wireline-io/wireline/common"
)

// --------------------------------------------------------------------------
// Client side
// --------------------------------------------------------------------------

// IConnector defines the interface for transport-specific connection
// operations on the dialing side.
type IConnector interface {
	// Connect establishes a single raw connection to the endpoint
	Connect(endpoint string) (net.Conn, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific socket settings to an
	// established connection
	UpgradeConnection(conn net.Conn, conf common.ConnConf) error
}

// --------------------------------------------------------------------------
// Server side
// --------------------------------------------------------------------------

// IListenerConnector defines the interface for transport-specific server
// operations on the accepting side.
type IListenerConnector interface {
	// Listen creates a listener on the endpoint and returns it
	Listen(endpoint string) (net.Listener, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific socket settings to an
	// accepted connection
	UpgradeConnection(conn net.Conn, conf common.ConnConf) error
}
