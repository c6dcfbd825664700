package cmd

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	configCmd "github.com/piframe/piframe/cmd/config"
	"github.com/piframe/piframe/cmd/monitor"
	"github.com/piframe/piframe/cmd/show"
	syncCmd "github.com/piframe/piframe/cmd/sync"
	"github.com/piframe/piframe/cmd/util"
	"github.com/piframe/piframe/cmd/version"
	"github.com/piframe/piframe/pkg/config"
)

// verboseLogKey is the environment variable used to enable verbose logging.
// When it's set to `true`, Debug events are logged, rather than just Info and
// above.
const verboseLogKey = "PIFRAME_LOG_VERBOSE"

// Execute runs the main CLI process.
func Execute() {
	if os.Getenv(verboseLogKey) == "true" {
		log.SetLevel(log.DebugLevel)
	}

	rootCmd := &cobra.Command{
		Use:          "piframe",
		Short:        "Turn a Raspberry Pi into a photo frame fed by a shared folder.",
		SilenceUsage: true,

		// The call to rootCmd.Execute prints the error, so we silence errors
		// here to avoid double printing.
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("config", config.DefaultPath,
		"Path to the piframe config file.")
	rootCmd.AddCommand(
		configCmd.New(),
		monitor.New(),
		show.New(),
		syncCmd.New(),
		version.New(),
	)

	if err := rootCmd.Execute(); err != nil {
		util.HandleFatalError(err)
	}
}
