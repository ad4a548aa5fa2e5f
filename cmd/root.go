package cmd

import (
	logger "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // required by cobra CLI pattern
var verbose bool

//nolint:gochecknoglobals // required by cobra CLI pattern
var rootCmd = &cobra.Command{
	Use:   "ctt",
	Short: "Transport component descriptors and their OCI resources between registries",
	Long: `A CLI tool that copies OCM component descriptors and the OCI images they
reference from a source context repository to a target context repository,
applying configurable processing rules on the way.

It also carries the CI glue flows around the descriptor:
- diffing the current descriptor against the latest release and
  triggering the release job on dependency changes
- pinning the cc-utils dependency version
- generating the component descriptor from the base definition`,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		if verbose {
			logger.SetLevel(logger.DebugLevel)
		}
	},
}

func Execute() error {
	return rootCmd.Execute()
}

//nolint:gochecknoinits // required by cobra CLI pattern
func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
}
