package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gardener/cnudie-transport-tool/config"
)

//nolint:gochecknoglobals // required by cobra CLI pattern
var setDependencyVersionCmd = &cobra.Command{
	Use:   "set-dependency-version",
	Short: "Pin the cc-utils dependency version",
	Long: `Writes the received dependency version into the CC_UTILS_VERSION file
under SOURCE_PATH. Only the github.com/gardener/cc-utils dependency of
this tool's own component is supported.

Configuration is taken from the environment:
SOURCE_PATH, COMPONENT_NAME, DEPENDENCY_NAME, DEPENDENCY_VERSION.`,
	RunE: runSetDependencyVersion,
}

//nolint:gochecknoglobals // required by cobra CLI pattern
var generateDescriptorCmd = &cobra.Command{
	Use:   "generate-descriptor",
	Short: "Generate the component descriptor from the base definition",
	Long: `Runs the add-dependencies command with the pinned cc-utils version and
copies the base definition to the component descriptor output path.

Configuration is taken from the environment:
SOURCE_PATH, ADD_DEPENDENCIES_CMD, BASE_DEFINITION_PATH,
COMPONENT_DESCRIPTOR_PATH.`,
	RunE: runGenerateDescriptor,
}

//nolint:gochecknoinits // required by cobra CLI pattern
func init() {
	rootCmd.AddCommand(setDependencyVersionCmd)
	rootCmd.AddCommand(generateDescriptorCmd)
}

func runSetDependencyVersion(_ *cobra.Command, _ []string) error {
	cfg, err := config.DependencyVersionFromEnv()
	if err != nil {
		return fmt.Errorf("invalid set-dependency-version configuration: %w", err)
	}

	service, err := buildDependencyService()
	if err != nil {
		return err
	}

	return service.SetDependencyVersion(cfg)
}

func runGenerateDescriptor(cmd *cobra.Command, _ []string) error {
	cfg, err := config.GenerateDescriptorFromEnv()
	if err != nil {
		return fmt.Errorf("invalid generate-descriptor configuration: %w", err)
	}

	service, err := buildDependencyService()
	if err != nil {
		return err
	}

	return service.GenerateDescriptor(cmd.Context(), cfg)
}
