package application

import (
	"context"
	"errors"
	"fmt"
	"os"

	logger "github.com/sirupsen/logrus"

	"github.com/gardener/cnudie-transport-tool/config"
	"github.com/gardener/cnudie-transport-tool/domain"
)

// ReleaseDiffService compares the current component descriptor with the
// latest released one and triggers the release job when dependency
// versions changed.
type ReleaseDiffService struct {
	registry domain.DescriptorRegistry
	trigger  domain.ReleaseTrigger
}

// NewReleaseDiffService creates the service.
func NewReleaseDiffService(
	registry domain.DescriptorRegistry,
	trigger domain.ReleaseTrigger,
) *ReleaseDiffService {
	return &ReleaseDiffService{
		registry: registry,
		trigger:  trigger,
	}
}

// Run executes the diff-and-trigger flow:
// load current -> fetch latest released -> diff -> report + trigger.
// A component without any prior release is an empty baseline: nothing to
// compare, no release is triggered.
func (s *ReleaseDiffService) Run(ctx context.Context, cfg *config.ReleaseDiffConfig) error {
	data, err := os.ReadFile(cfg.DescriptorPath)
	if err != nil {
		return fmt.Errorf("failed to read component descriptor %q: %w", cfg.DescriptorPath, err)
	}
	current, err := domain.ParseDescriptor(data)
	if err != nil {
		return err
	}

	logger.Infof(
		"Loaded component descriptor %s:%s",
		current.Component.Name, current.Component.Version,
	)

	latest, err := s.registry.LatestVersion(ctx, cfg.ComponentName)
	if errors.Is(err, domain.ErrNoReleasedVersion) {
		logger.Warnf(
			"Component %s has no released version yet - nothing to compare",
			cfg.ComponentName,
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to determine latest release of %s: %w", cfg.ComponentName, err)
	}

	logger.Infof("Latest released version: %s", latest)

	released, err := s.registry.FetchDescriptor(ctx, cfg.ComponentName, latest)
	if err != nil {
		return fmt.Errorf("failed to fetch released descriptor %s:%s: %w", cfg.ComponentName, latest, err)
	}

	diff := domain.Diff(released, current, cfg.ComponentName)

	for _, id := range diff.OnlyInLeft {
		logger.Infof("Dependency removed: %s %s", id.Name, id.Version)
	}
	for _, id := range diff.OnlyInRight {
		logger.Infof("Dependency added: %s %s", id.Name, id.Version)
	}

	if len(diff.VersionChanged) == 0 {
		logger.Info("No dependency version changes - not triggering a release")
		return nil
	}

	for _, pair := range diff.VersionChanged {
		logger.Infof(
			"Version changed: %s %s -> %s",
			pair.Left.Name, pair.Left.Version, pair.Right.Version,
		)
	}

	logger.Infof(
		"Triggering release job %s/%s (%d dependency change(s))",
		cfg.PipelineName, cfg.ReleaseJobName, len(diff.VersionChanged),
	)

	if err := s.trigger.TriggerJob(ctx, cfg.PipelineName, cfg.ReleaseJobName); err != nil {
		return fmt.Errorf("failed to trigger release job: %w", err)
	}

	return nil
}
