package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gardener/cnudie-transport-tool/config"
)

//nolint:gochecknoglobals // required by cobra CLI pattern
var releaseDiffCmd = &cobra.Command{
	Use:   "release-diff",
	Short: "Trigger the release job when dependency versions changed",
	Long: `Compares the current component descriptor with the latest released one
and triggers the configured Concourse release job when component
dependency versions changed.

Configuration is taken from the environment:
COMPONENT_NAME, COMPONENT_DESCRIPTOR_PATH, CTX_REPO_URL,
PIPELINE_NAME, RELEASE_JOB_NAME, CONCOURSE_URL, CONCOURSE_TEAM,
CONCOURSE_TOKEN.`,
	RunE: runReleaseDiff,
}

//nolint:gochecknoinits // required by cobra CLI pattern
func init() {
	rootCmd.AddCommand(releaseDiffCmd)
}

func runReleaseDiff(cmd *cobra.Command, _ []string) error {
	cfg, err := config.ReleaseDiffFromEnv()
	if err != nil {
		return fmt.Errorf("invalid release-diff configuration: %w", err)
	}

	service, err := buildReleaseDiffService(cfg)
	if err != nil {
		return err
	}

	return service.Run(cmd.Context(), cfg)
}
