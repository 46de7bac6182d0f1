package serve

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	cmdUtil "github.com/wireline-io/wireline/cmd/util"
	"github.com/wireline-io/wireline/common"
	"github.com/wireline-io/wireline/server"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start the wireline echo server",
		Long:    `Start the wireline server with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is WIRELINE_<flag> (e.g. WIRELINE_ENDPOINT=0.0.0.0:7400)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(cmdUtil.InitConfig)

	// add flags
	key := "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:7400", cmdUtil.WrapString("The address on which the server will listen (host:port for tcp, socket path for unix)"))

	key = "workers-per-conn"
	ServeCmd.PersistentFlags().Int(key, 8, cmdUtil.WrapString("Maximum number of concurrent request workers per connection"))

	key = "accept-rate-limit"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("Maximum number of accepted connections per accept-rate-window. Zero disables admission gating"))

	key = "accept-rate-window"
	ServeCmd.PersistentFlags().Duration(key, time.Second, cmdUtil.WrapString("Sliding window over which accept-rate-limit applies"))

	key = "backlog"
	ServeCmd.PersistentFlags().Int(key, common.DefaultBacklogCapacity, cmdUtil.WrapString("Per-connection inbound message backlog before backpressure stalls the reader"))

	key = "max-frame-size"
	ServeCmd.PersistentFlags().Int(key, common.DefaultMaxFrameSize, cmdUtil.WrapString("Largest accepted frame payload in bytes"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// processConfig reads the configuration from the command line flags and
// environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	serveCmdConfig.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.MaxWorkersPerConn = viper.GetInt("workers-per-conn")
	serveCmdConfig.AcceptRateLimit = viper.GetInt("accept-rate-limit")
	serveCmdConfig.AcceptRateWindow = viper.GetDuration("accept-rate-window")
	serveCmdConfig.LogLevel = viper.GetString("log-level")
	serveCmdConfig.Conn = common.ConnConf{
		Frame: common.FrameConf{
			MaxFrameSize: viper.GetInt("max-frame-size"),
		},
		BacklogCapacity: viper.GetInt("backlog"),
	}

	return nil
}

func run(_ *cobra.Command, _ []string) error {
	common.InitLoggers(serveCmdConfig.LogLevel)

	fmt.Println(serveCmdConfig.String())

	connector, err := cmdUtil.GetListenerConnector()
	if err != nil {
		return err
	}

	s := server.New(connector, *serveCmdConfig)
	s.RegisterHandler(func(payload []byte) []byte {
		return payload
	})

	// Shut down cleanly on SIGINT/SIGTERM.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		fmt.Printf("received %s, shutting down\n", sig)
		_ = s.Close()
	}()

	if err := s.Serve(); !errors.Is(err, server.ErrServerClosed) {
		return err
	}
	return nil
}
