// Package main provides the echoip client: it asks an echoip server which
// IPv4 address this host appears to have.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/mjochimsen/echoip/internal/client"
	"github.com/mjochimsen/echoip/internal/logging"
	"github.com/mjochimsen/echoip/internal/protocol"
	"github.com/mjochimsen/echoip/internal/stuncheck"
)

var (
	// Version is set at build time
	Version = "dev"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		port    uint16
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "echoip ADDRESS",
		Short: "Discover this host's public IPv4 address",
		Long: `echoip sends one empty UDP datagram to an echoip server at ADDRESS and
prints the IPv4 address the server saw it come from.

The server must answer within 5 seconds. There are no retries.`,
		Version:       Version,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := protocol.ParseIPv4(args[0])
			if err != nil {
				return err
			}

			result, err := client.Lookup(cmd.Context(), protocol.Endpoint(addr, port))
			if err != nil {
				return err
			}

			if verbose {
				logger := logging.NewLoggerWithWriter("debug", "text", cmd.ErrOrStderr())
				logger.Info("lookup complete",
					"server", result.Server.String(),
					logging.KeyLocalAddr, result.Local.String(),
					"rtt_ms", humanize.FtoaWithDigits(float64(result.RTT.Microseconds())/1000, 3))
			}

			fmt.Fprintln(cmd.OutOrStdout(), result.Address)
			return nil
		},
	}

	cmd.Flags().Uint16VarP(&port, "port", "p", protocol.DefaultPort, "Server UDP port")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log round-trip details to stderr")

	cmd.AddCommand(stunCmd())

	return cmd
}

func stunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stun HOST[:PORT]",
		Short: "Ask a STUN server for the mapped address",
		Long: `Send a STUN binding request and print the mapped address from the
response. Use it to cross-check what an echoip server reports.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mapped, err := stuncheck.Lookup(cmd.Context(), stunServerAddress(args[0]))
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), mapped)
			return nil
		},
	}
}

// stunServerAddress appends the standard STUN port when server has none.
func stunServerAddress(server string) string {
	if _, _, err := net.SplitHostPort(server); err == nil {
		return server
	}
	return net.JoinHostPort(server, strconv.Itoa(stuncheck.DefaultPort))
}
