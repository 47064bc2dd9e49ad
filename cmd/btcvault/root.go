package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Bidon15/btcvault/internal/config"
)

var (
	configFile string

	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "btcvault",
	Short: "Fixed-capacity Bitcoin key store",
	Long: `btcvault keeps Bitcoin private keys encrypted in a fixed number of slots,
addressed by their P2PKH address, and signs digests with the selected key.

Configuration is read from btcvault.yaml (., ./config, /etc/btcvault) and
BTCVAULT_* environment variables, e.g. BTCVAULT_KEYSTORE_CAPACITY=32.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configFile)
		if err != nil {
			return err
		}
		logger, err = newLogger(cfg.Log, cmd.ErrOrStderr())
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default: search for btcvault.yaml)")

	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(addressCmd)
	rootCmd.AddCommand(versionCmd)
}

// newLogger builds the process logger. Logs go to w so stdout stays
// reserved for command output.
func newLogger(c config.LogConfig, w io.Writer) (*slog.Logger, error) {
	level, err := c.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(c.Format) {
	case "json", "":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unsupported log format %q", c.Format)
	}
}
