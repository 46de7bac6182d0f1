// Package cmd implements the command-line interface for wireline. It
// provides a hierarchical command structure for running the echo server and
// exercising it as a client.
//
// The package is organized into several subpackages:
//
//   - serve: Commands for starting and configuring the wireline server
//   - client: Commands for sending messages, pinging and benchmarking
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See wireline -help for a list of all commands.
package cmd
