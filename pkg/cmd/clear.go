package cmd

import (
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
)

func newClearCmd() *cobra.Command {
	var (
		cacheDir string
		pkgName  string
		yes      bool
	)

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear the package cache",
		Long:  "Removes a single package's cached subtree, or the whole cache root when no package is named.",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr := newManager(cacheDir)

			if pkgName != "" {
				if err := mgr.ClearPackage(pkgName); err != nil {
					return err
				}
				Log.Info("CLEARED")
				return nil
			}

			if !yes {
				var confirmed bool
				err := huh.NewForm(
					huh.NewGroup(
						huh.NewConfirm().
							Title(fmt.Sprintf("Remove the entire cache at %s?", cacheDir)).
							Value(&confirmed),
					),
				).Run()
				if err != nil {
					return fmt.Errorf("confirmation prompt failed: %w", err)
				}
				if !confirmed {
					Log.Info("Clear cancelled")
					return nil
				}
			}

			if err := mgr.ClearAll(); err != nil {
				return err
			}
			Log.Info("CLEARED")
			return nil
		},
	}

	clearCmd.Flags().StringVar(&cacheDir, "cache-dir", "", "cache root directory")
	clearCmd.Flags().StringVar(&pkgName, "package", "", "clear only this package")
	clearCmd.Flags().BoolVar(&yes, "yes", false, "skip the confirmation prompt")
	_ = clearCmd.MarkFlagRequired("cache-dir")

	return clearCmd
}
