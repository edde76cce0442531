package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/clinic-notify/internal/config"
	"github.com/rmacdonaldsmith/clinic-notify/internal/logging"
	"github.com/rmacdonaldsmith/clinic-notify/pkg/notifyclient"
)

var (
	// Global flags
	endpoint  string
	serverURL string
	token     string
	timeout   time.Duration
	verbose   bool

	// Global logger, set up before every command
	logger *zap.Logger
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "notify-cli",
		Short: "Doctor notification command line interface",
		Long: `notify-cli listens to and publishes doctor appointment notifications,
inspects tokens and queries a running notifyd.`,
		SilenceUsage:      true,
		PersistentPreRunE: initialize,
	}

	defaultEndpoint := notifyclient.DefaultEndpoint
	if v := os.Getenv(config.EnvEndpoint); v != "" {
		defaultEndpoint = v
	}

	rootCmd.PersistentFlags().StringVar(&endpoint, "endpoint", defaultEndpoint, "Broker endpoint (http(s)://, ws(s)://, tcp://)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8081", "notifyd status API URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv(config.EnvToken), "Bearer token")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log pipeline activity to stderr")

	rootCmd.AddCommand(newListenCommand())
	rootCmd.AddCommand(newPublishCommand())
	rootCmd.AddCommand(newDecodeCommand())
	rootCmd.AddCommand(newTokenCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newInboxCommand())

	return rootCmd
}

// initialize builds the logger shared by every command
func initialize(cmd *cobra.Command, args []string) error {
	if !verbose {
		logger = zap.NewNop()
		return nil
	}

	l, err := logging.New(logging.Config{Level: "debug", Development: true})
	if err != nil {
		return err
	}
	logger = l
	return nil
}
