package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/pkgmng/pkgmng/pkg/config"
	"github.com/pkgmng/pkgmng/pkg/logging"
)

var (
	flagLogFile string

	// Cfg holds the resolved tuning configuration, available to all
	// subcommands after PersistentPreRunE completes.
	Cfg *config.Config

	// Log is the line logger all subcommands report through.
	Log logging.Logger
)

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "pkgmng",
		Short: "Source package fetcher and cache",
		Long:  "pkgmng materializes third-party source packages for a build system, cloning git repositories or extracting archives and reusing cached copies when the requested identity is unchanged.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			Cfg = cfg

			log := logging.New(cmd.OutOrStdout())
			logFile := flagLogFile
			if logFile == "" {
				logFile = cfg.LogFile
			}
			if logFile != "" {
				log.WithDiagnostics(logging.NewDiagnostics(logFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups))
			}
			Log = log
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flagLogFile, "log-file", "", "mirror diagnostics into a rotating JSON log file")

	root.AddCommand(newFetchCmd())
	root.AddCommand(newClearCmd())

	return root
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		if Log != nil {
			Log.Error(err.Error())
		}
		os.Exit(1)
	}
}
