package client

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	cmdUtil "github.com/wireline-io/wireline/cmd/util"
	"github.com/wireline-io/wireline/common"
	"github.com/wireline-io/wireline/conn"
	"github.com/wireline-io/wireline/supervisor"
)

var (
	// ClientCommands groups all commands that talk to a running server
	ClientCommands = &cobra.Command{
		Use:   "client",
		Short: "Interact with a wireline server",
		Long:  `Commands for sending messages to a wireline server, checking its liveness and benchmarking it. The configuration can be set via command line flags or environment variables with the WIRELINE_ prefix.`,
	}

	sendCmd = &cobra.Command{
		Use:   "send [payload]",
		Short: "Send one message and print the response",
		Args:  cobra.ExactArgs(1),
		RunE:  runSend,
	}

	pingCmd = &cobra.Command{
		Use:   "ping",
		Short: "Measure the round trip time to the server",
		RunE:  runPing,
	}
)

func init() {
	cobra.OnInitialize(cmdUtil.InitConfig)

	cmdUtil.SetupClientFlags(ClientCommands)

	pingCmd.Flags().Int("count", 4, cmdUtil.WrapString("Number of pings to send"))

	ClientCommands.AddCommand(sendCmd)
	ClientCommands.AddCommand(pingCmd)
	ClientCommands.AddCommand(perfCmd)
}

// newSupervisor builds a supervised connection from the CLI configuration.
func newSupervisor(conf *common.ClientConfig) (*supervisor.Supervisor, error) {
	connector, err := cmdUtil.GetConnector()
	if err != nil {
		return nil, err
	}
	dial := cmdUtil.NewDialFunc(connector, conf.Endpoint, conf.Supervisor.Conn)
	return supervisor.New(dial, conf.Supervisor), nil
}

// newHandle dials a single unsupervised connection, for one-shot commands.
func newHandle(conf *common.ClientConfig) (*conn.Handle, error) {
	connector, err := cmdUtil.GetConnector()
	if err != nil {
		return nil, err
	}
	return cmdUtil.NewDialFunc(connector, conf.Endpoint, conf.Supervisor.Conn)()
}

func runSend(cmd *cobra.Command, args []string) error {
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}
	conf := cmdUtil.GetClientConfig()
	common.InitLoggers(conf.LogLevel)

	s, err := newSupervisor(conf)
	if err != nil {
		return err
	}
	defer s.Close()

	// The supervisor connects in the background; retry until it is up or
	// permanently failed.
	deadline := time.Now().Add(10 * time.Second)
	for {
		err = s.Send([]byte(args[0]))
		if err == nil {
			break
		}
		if time.Now().After(deadline) || s.State() == supervisor.StateFailed {
			return fmt.Errorf("send failed: %w", err)
		}
		time.Sleep(50 * time.Millisecond)
	}

	resp, err := s.Receive()
	if err != nil {
		return fmt.Errorf("receive failed: %w", err)
	}
	fmt.Printf("%s\n", resp)
	return nil
}

func runPing(cmd *cobra.Command, args []string) error {
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}
	conf := cmdUtil.GetClientConfig()
	common.InitLoggers(conf.LogLevel)

	h, err := newHandle(conf)
	if err != nil {
		return fmt.Errorf("connect failed: %w", err)
	}
	defer h.Close()

	count, _ := cmd.Flags().GetInt("count")
	timeout := conf.Supervisor.WithDefaults().HeartbeatTimeout

	for i := 0; i < count; i++ {
		start := time.Now()
		if err := h.Ping(timeout); err != nil {
			fmt.Printf("ping %d: %v\n", i+1, err)
			continue
		}
		fmt.Printf("ping %d: %s\n", i+1, time.Since(start))
	}
	return nil
}
