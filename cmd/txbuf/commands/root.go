package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/srediag/txbuf/internal/logging"
	"github.com/srediag/txbuf/pkg/buffers"
)

var (
	// Global flags
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "txbuf",
	Short: "Exercise and inspect color-partitioned transmission buffers",
	Long: `txbuf - tools around the transmission buffer that stages outgoing
messages for many subscriber queues sharing few connections.

Buffer settings come from a YAML file (--config) over the defaults:

  name: bus
  segment_count: 16384
  segment_size: 1024
  direct: false
  overflow: reject      # or discard
  audit_depth: 1024

Examples:
  # Overflow calibration on a 100 x 2 byte ring
  txbuf calibrate

  # Stress with metrics and health endpoints
  txbuf stress --producers 8 --colors 10 --listen :9090

  # Show how interleaved writes land in the segments
  txbuf dump --log-level debug`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if logLevel == "" {
			return nil
		}
		lv, err := logging.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		logging.SetLevel(lv)
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "buffer config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "trace, debug, info, warn, error or none")
}

// loadConfig returns the --config file decoded over the defaults, or the
// defaults when no file was given.
func loadConfig(cmd *cobra.Command) (*buffers.Config, error) {
	config := buffers.DefaultConfig()
	if configPath != "" {
		var err error
		if config, err = buffers.LoadConfig(configPath); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
	}
	config.LogOutput = cmd.ErrOrStderr()
	return config, nil
}
