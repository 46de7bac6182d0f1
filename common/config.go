package common

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Defaults
// --------------------------------------------------------------------------

const (
	// DefaultMaxFrameSize bounds a single decoded frame payload. A peer
	// declaring a larger frame is treated as malformed and disconnected.
	DefaultMaxFrameSize = 16 * 1024 * 1024 // 16 MiB

	// DefaultBacklogCapacity is the per-connection inbound message backlog.
	DefaultBacklogCapacity = 256

	DefaultMaxPoolSize          = 4
	DefaultDialRetryBudget      = 3
	DefaultAcquireTimeout       = 10 * time.Second
	DefaultHeartbeatInterval    = 5 * time.Second
	DefaultHeartbeatTimeout     = 2 * time.Second
	DefaultBackoffBase          = 500 * time.Millisecond
	DefaultBackoffMax           = 30 * time.Second
	DefaultSettleDuration       = 10 * time.Second
	DefaultMaxReconnectAttempts = 10
	DefaultFailureThreshold     = 5
	DefaultSuccessThreshold     = 2
	DefaultCircuitResetTimeout  = 15 * time.Second
)

// --------------------------------------------------------------------------
// Socket level configuration
// --------------------------------------------------------------------------

// SocketConf holds settings applied to every established connection.
type SocketConf struct {
	WriteBufferSize int
	ReadBufferSize  int
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
}

// TCPConf holds TCP-specific socket options.
type TCPConf struct {
	TCPNoDelay      bool
	TCPKeepAliveSec int
	TCPLingerSec    int
}

// --------------------------------------------------------------------------
// Transport layer configuration
// --------------------------------------------------------------------------

// FrameConf bounds the wire codec.
type FrameConf struct {
	// MaxFrameSize is the largest accepted payload in bytes. Zero selects
	// DefaultMaxFrameSize.
	MaxFrameSize int
}

// MaxSize returns the effective frame size limit.
func (c FrameConf) MaxSize() int {
	if c.MaxFrameSize <= 0 {
		return DefaultMaxFrameSize
	}
	return c.MaxFrameSize
}

// ConnConf configures a single connection handle.
type ConnConf struct {
	Frame FrameConf
	// BacklogCapacity is the size of the inbound backpressure channel.
	// Zero selects DefaultBacklogCapacity.
	BacklogCapacity int
	Socket          SocketConf
	TCP             TCPConf
}

// Backlog returns the effective inbound backlog capacity.
func (c ConnConf) Backlog() int {
	if c.BacklogCapacity <= 0 {
		return DefaultBacklogCapacity
	}
	return c.BacklogCapacity
}

// PoolConf configures a connection pool over one endpoint.
type PoolConf struct {
	// MaxSize is the maximum number of live connections. Zero selects
	// DefaultMaxPoolSize.
	MaxSize int
	// DialRetryBudget bounds consecutive dial failures during pool growth
	// before Acquire gives up.
	DialRetryBudget int
	// AcquireTimeout bounds how long Acquire may wait for a free slot.
	// Zero selects DefaultAcquireTimeout; the wait is never unbounded.
	AcquireTimeout time.Duration
	// ProbeTimeout bounds a single health-check ping.
	ProbeTimeout time.Duration
	Conn         ConnConf
}

// SupervisorConf configures the resilience supervisor.
type SupervisorConf struct {
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	BackoffBase          time.Duration
	BackoffMax           time.Duration
	SettleDuration       time.Duration
	MaxReconnectAttempts int

	CircuitFailureThreshold int
	CircuitSuccessThreshold int
	CircuitResetTimeout     time.Duration

	Conn ConnConf
}

// WithDefaults returns a copy with zero fields replaced by defaults.
func (c SupervisorConf) WithDefaults() SupervisorConf {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = DefaultBackoffMax
	}
	if c.SettleDuration <= 0 {
		c.SettleDuration = DefaultSettleDuration
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.CircuitFailureThreshold <= 0 {
		c.CircuitFailureThreshold = DefaultFailureThreshold
	}
	if c.CircuitSuccessThreshold <= 0 {
		c.CircuitSuccessThreshold = DefaultSuccessThreshold
	}
	if c.CircuitResetTimeout <= 0 {
		c.CircuitResetTimeout = DefaultCircuitResetTimeout
	}
	return c
}

// --------------------------------------------------------------------------
// Top level client / server configuration
// --------------------------------------------------------------------------

// ClientConfig holds everything a client application needs to open a
// supervised, pooled endpoint.
type ClientConfig struct {
	Endpoint   string
	Pool       PoolConf
	Supervisor SupervisorConf

	// LogLevel is one of debug, info, warn, error.
	LogLevel string
}

// ServerConfig holds everything the accept side needs.
type ServerConfig struct {
	Endpoint          string
	Conn              ConnConf
	MaxWorkersPerConn int
	// AcceptRateLimit bounds accepted connections per AcceptRateWindow.
	// Zero disables admission gating.
	AcceptRateLimit  int
	AcceptRateWindow time.Duration

	LogLevel string
}

// String returns a formatted string representation of the configuration.
func (c *ClientConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}
	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-24s: %s\n", name, value))
	}

	sup := c.Supervisor.WithDefaults()

	addSection("Endpoint")
	addField("Address", c.Endpoint)

	addSection("Pool")
	addField("Max Size", strconv.Itoa(c.Pool.MaxSize))
	addField("Dial Retry Budget", strconv.Itoa(c.Pool.DialRetryBudget))
	addField("Acquire Timeout", c.Pool.AcquireTimeout.String())
	addField("Probe Timeout", c.Pool.ProbeTimeout.String())

	addSection("Resilience")
	addField("Heartbeat Interval", sup.HeartbeatInterval.String())
	addField("Heartbeat Timeout", sup.HeartbeatTimeout.String())
	addField("Backoff Base", sup.BackoffBase.String())
	addField("Backoff Max", sup.BackoffMax.String())
	addField("Settle Duration", sup.SettleDuration.String())
	addField("Max Reconnect Attempts", strconv.Itoa(sup.MaxReconnectAttempts))
	addField("Circuit Failure Thresh", strconv.Itoa(sup.CircuitFailureThreshold))
	addField("Circuit Success Thresh", strconv.Itoa(sup.CircuitSuccessThreshold))
	addField("Circuit Reset Timeout", sup.CircuitResetTimeout.String())

	addSection("Connection")
	addField("Max Frame Size", strconv.Itoa(sup.Conn.Frame.MaxSize()))
	addField("Backlog Capacity", strconv.Itoa(sup.Conn.Backlog()))

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}

// String returns a formatted string representation of the configuration.
func (c *ServerConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}
	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-24s: %s\n", name, value))
	}

	addSection("Server")
	addField("Endpoint", c.Endpoint)
	addField("Workers Per Connection", strconv.Itoa(c.MaxWorkersPerConn))
	if c.AcceptRateLimit > 0 {
		addField("Accept Rate Limit", fmt.Sprintf("%d per %s", c.AcceptRateLimit, c.AcceptRateWindow))
	} else {
		addField("Accept Rate Limit", "disabled")
	}

	addSection("Connection")
	addField("Max Frame Size", strconv.Itoa(c.Conn.Frame.MaxSize()))
	addField("Backlog Capacity", strconv.Itoa(c.Conn.Backlog()))

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}
