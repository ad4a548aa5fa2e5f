package application

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	logger "github.com/sirupsen/logrus"

	"github.com/gardener/cnudie-transport-tool/config"
	"github.com/gardener/cnudie-transport-tool/infrastructure/command"
)

// DependencyService implements the CI glue steps around the component
// descriptor: pinning the cc-utils dependency version and generating the
// descriptor from the base definition.
type DependencyService struct {
	runner command.Runner
}

// NewDependencyService creates the service.
func NewDependencyService(runner command.Runner) *DependencyService {
	return &DependencyService{runner: runner}
}

// SetDependencyVersion writes the received dependency version verbatim into
// the version file under the source path. Only the cc-utils dependency of
// this tool's own component is supported; everything else is rejected
// before any file is written.
func (s *DependencyService) SetDependencyVersion(cfg *config.DependencyVersionConfig) error {
	if cfg.ComponentName != config.OwnComponentName {
		return fmt.Errorf(
			"unsupported component %q (expected %q)",
			cfg.ComponentName, config.OwnComponentName,
		)
	}
	if cfg.DependencyName != config.CCUtilsComponentName {
		return fmt.Errorf(
			"setting version of dependency %q is not implemented (only %q)",
			cfg.DependencyName, config.CCUtilsComponentName,
		)
	}

	versionFile := filepath.Join(cfg.SourcePath, config.CCUtilsVersionFile)
	if err := os.WriteFile(versionFile, []byte(cfg.DependencyVersion), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", versionFile, err)
	}

	logger.Infof("Pinned %s to %s", cfg.DependencyName, cfg.DependencyVersion)
	return nil
}

// componentDependency is the JSON shape passed to the add-dependencies
// command.
type componentDependency struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// GenerateDescriptor runs the add-dependencies command with the pinned
// cc-utils version and copies the base definition to the descriptor output
// path.
func (s *DependencyService) GenerateDescriptor(ctx context.Context, cfg *config.GenerateDescriptorConfig) error {
	versionFile := filepath.Join(cfg.SourcePath, config.CCUtilsVersionFile)
	versionData, err := os.ReadFile(versionFile)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", versionFile, err)
	}
	version := strings.TrimSpace(string(versionData))
	if version == "" {
		return fmt.Errorf("%s is empty", versionFile)
	}

	dependencyJSON, err := json.Marshal(componentDependency{
		Name:    config.CCUtilsComponentName,
		Version: version,
	})
	if err != nil {
		return fmt.Errorf("failed to serialize dependency declaration: %w", err)
	}

	argv := strings.Fields(cfg.AddDependenciesCmd)
	if len(argv) == 0 {
		return fmt.Errorf("add-dependencies command is empty")
	}

	result, err := s.runner.Run(ctx, command.Spec{
		Name: argv[0],
		Args: append(argv[1:], "--component-dependencies", string(dependencyJSON)),
	})
	if err != nil {
		return fmt.Errorf("add-dependencies command failed: %w", err)
	}
	if out := strings.TrimSpace(result.Stdout); out != "" {
		logger.Debug(out)
	}

	if err := copyFile(cfg.BaseDefinitionPath, cfg.DescriptorOutPath); err != nil {
		return err
	}

	logger.Infof(
		"Generated component descriptor at %s (cc-utils %s)",
		cfg.DescriptorOutPath, version,
	)
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %q: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %q: %w", dst, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("failed to copy %q to %q: %w", src, dst, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to write %q: %w", dst, err)
	}
	return nil
}
