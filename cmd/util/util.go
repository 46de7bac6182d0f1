package util

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/wireline-io/wireline/common"
	"github.com/wireline-io/wireline/conn"
	"github.com/wireline-io/wireline/transport"
	"github.com/wireline-io/wireline/transport/tcp"
	"github.com/wireline-io/wireline/transport/unix"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SetupClientFlags adds common client connection flags to a command
func SetupClientFlags(cmd *cobra.Command) {
	key := "endpoint"
	cmd.PersistentFlags().String(key, "localhost:7400", WrapString("The address of the wireline server (host:port for tcp, socket path for unix)"))

	key = "pool-size"
	cmd.PersistentFlags().Int(key, common.DefaultMaxPoolSize, WrapString("Maximum number of simultaneous connections in the pool"))

	key = "pool-acquire-timeout"
	cmd.PersistentFlags().Duration(key, 10*time.Second, WrapString("How long to wait for a free pooled connection before giving up"))

	key = "pool-dial-retries"
	cmd.PersistentFlags().Int(key, common.DefaultDialRetryBudget, WrapString("How many consecutive dial failures are tolerated while the pool grows"))

	key = "heartbeat-interval"
	cmd.PersistentFlags().Duration(key, common.DefaultHeartbeatInterval, WrapString("How often to probe an idle connection for liveness"))

	key = "heartbeat-timeout"
	cmd.PersistentFlags().Duration(key, common.DefaultHeartbeatTimeout, WrapString("How long to wait for a heartbeat answer before declaring the connection dead"))

	key = "backoff-base"
	cmd.PersistentFlags().Duration(key, common.DefaultBackoffBase, WrapString("Initial reconnection delay; doubles per attempt with jitter"))

	key = "backoff-max"
	cmd.PersistentFlags().Duration(key, common.DefaultBackoffMax, WrapString("Upper bound for the reconnection delay"))

	key = "max-reconnect-attempts"
	cmd.PersistentFlags().Int(key, common.DefaultMaxReconnectAttempts, WrapString("How many consecutive reconnection attempts before giving up permanently"))

	key = "circuit-failure-threshold"
	cmd.PersistentFlags().Int(key, common.DefaultFailureThreshold, WrapString("Consecutive operation failures that open the circuit breaker"))

	key = "circuit-reset-timeout"
	cmd.PersistentFlags().Duration(key, common.DefaultCircuitResetTimeout, WrapString("How long the circuit stays open before a trial operation is allowed"))

	key = "backlog"
	cmd.PersistentFlags().Int(key, common.DefaultBacklogCapacity, WrapString("Per-connection inbound message backlog before backpressure stalls the reader"))

	key = "max-frame-size"
	cmd.PersistentFlags().Int(key, common.DefaultMaxFrameSize, WrapString("Largest accepted frame payload in bytes"))

	key = "write-buffer"
	cmd.PersistentFlags().Int(key, 512, WrapString("The size of the socket write buffer (in KB)"))

	key = "read-buffer"
	cmd.PersistentFlags().Int(key, 512, WrapString("The size of the socket read buffer (in KB)"))

	key = "tcp-nodelay"
	cmd.PersistentFlags().Bool(key, true, WrapString("Whether to enable TCP_NODELAY (only for tcp)"))

	key = "tcp-keepalive"
	cmd.PersistentFlags().Int(key, 0, WrapString("The keepalive interval (in seconds, only for tcp)"))

	key = "tcp-linger"
	cmd.PersistentFlags().Int(key, 0, WrapString("The linger time (in seconds, only for tcp)"))

	key = "log-level"
	cmd.PersistentFlags().String(key, "info", WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// InitConfig initializes configuration from environment variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("wireline")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// GetConnConf reads connection-level configuration from viper
func GetConnConf() common.ConnConf {
	return common.ConnConf{
		Frame: common.FrameConf{
			MaxFrameSize: viper.GetInt("max-frame-size"),
		},
		BacklogCapacity: viper.GetInt("backlog"),
		Socket: common.SocketConf{
			WriteBufferSize: viper.GetInt("write-buffer") * 1024,
			ReadBufferSize:  viper.GetInt("read-buffer") * 1024,
		},
		TCP: common.TCPConf{
			TCPNoDelay:      viper.GetBool("tcp-nodelay"),
			TCPKeepAliveSec: viper.GetInt("tcp-keepalive"),
			TCPLingerSec:    viper.GetInt("tcp-linger"),
		},
	}
}

// GetClientConfig reads client configuration from viper
func GetClientConfig() *common.ClientConfig {
	connConf := GetConnConf()

	return &common.ClientConfig{
		Endpoint: viper.GetString("endpoint"),
		Pool: common.PoolConf{
			MaxSize:         viper.GetInt("pool-size"),
			DialRetryBudget: viper.GetInt("pool-dial-retries"),
			AcquireTimeout:  viper.GetDuration("pool-acquire-timeout"),
			ProbeTimeout:    viper.GetDuration("heartbeat-timeout"),
			Conn:            connConf,
		},
		Supervisor: common.SupervisorConf{
			HeartbeatInterval:       viper.GetDuration("heartbeat-interval"),
			HeartbeatTimeout:        viper.GetDuration("heartbeat-timeout"),
			BackoffBase:             viper.GetDuration("backoff-base"),
			BackoffMax:              viper.GetDuration("backoff-max"),
			MaxReconnectAttempts:    viper.GetInt("max-reconnect-attempts"),
			CircuitFailureThreshold: viper.GetInt("circuit-failure-threshold"),
			CircuitResetTimeout:     viper.GetDuration("circuit-reset-timeout"),
			Conn:                    connConf,
		},
		LogLevel: viper.GetString("log-level"),
	}
}

// transportName reads the selected transport, defaulting to tcp.
func transportName() string {
	if name := viper.GetString("transport"); name != "" {
		return name
	}
	return "tcp"
}

// GetConnector creates a dialing transport based on configuration
func GetConnector() (transport.IConnector, error) {
	switch name := transportName(); name {
	case "tcp":
		return tcp.NewConnector(), nil
	case "unix":
		return unix.NewConnector(), nil
	default:
		return nil, fmt.Errorf("invalid transport %s", name)
	}
}

// GetListenerConnector creates a listening transport based on configuration
func GetListenerConnector() (transport.IListenerConnector, error) {
	switch name := transportName(); name {
	case "tcp":
		return tcp.NewListenerConnector(), nil
	case "unix":
		return unix.NewListenerConnector(), nil
	default:
		return nil, fmt.Errorf("invalid transport %s", name)
	}
}

// NewDialFunc builds the dial function used by the pool and the supervisor:
// raw connect, socket upgrade, framed handle on top.
func NewDialFunc(connector transport.IConnector, endpoint string, conf common.ConnConf) func() (*conn.Handle, error) {
	return func() (*conn.Handle, error) {
		raw, err := connector.Connect(endpoint)
		if err != nil {
			return nil, err
		}
		if err := connector.UpgradeConnection(raw, conf); err != nil {
			_ = raw.Close()
			return nil, err
		}
		return conn.New(raw, conf), nil
	}
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}
