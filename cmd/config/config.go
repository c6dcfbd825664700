package config

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/piframe/piframe/cmd/util"
	"github.com/piframe/piframe/pkg/config"
	"github.com/piframe/piframe/pkg/errors"
)

// Mocked for unit testing.
var stdout io.Writer = os.Stdout

// New creates a new `config` command.
func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective piframe configuration.",
		Long: "Print the effective piframe configuration: the config file\n" +
			"merged over the built-in defaults.",
		Run: func(cmd *cobra.Command, _ []string) {
			cfg, err := util.ParseConfig(cmd)
			if err != nil {
				util.HandleFatalError(err)
			}
			fmt.Fprint(stdout, cfg.String())
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default config file to edit.",
		Run: func(cmd *cobra.Command, _ []string) {
			path, err := cmd.Flags().GetString("config")
			if err != nil {
				util.HandleFatalError(err)
			}

			if err := initConfig(path); err != nil {
				util.HandleFatalError(err)
			}
		},
	})
	return cmd
}

func initConfig(path string) error {
	exists, err := config.Exists(path)
	if err != nil {
		return err
	}
	if exists {
		return errors.NewFriendlyError(
			"A config file already exists at %q. Edit it directly, or "+
				"remove it first to start over.", path)
	}

	if err := config.Write(config.Default(), path); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Wrote default config to %s\n", path)
	return nil
}
