package cmd

import (
	"fmt"

	"go.uber.org/dig"

	"github.com/gardener/cnudie-transport-tool/application"
	"github.com/gardener/cnudie-transport-tool/config"
	"github.com/gardener/cnudie-transport-tool/domain"
	"github.com/gardener/cnudie-transport-tool/infrastructure/command"
	"github.com/gardener/cnudie-transport-tool/infrastructure/concourse"
	"github.com/gardener/cnudie-transport-tool/infrastructure/registry"
)

// buildReleaseDiffService wires the release-diff dependencies
// (context-repository client, Concourse client) into the service.
func buildReleaseDiffService(cfg *config.ReleaseDiffConfig) (*application.ReleaseDiffService, error) {
	container := dig.New()

	providers := []any{
		func() *config.ReleaseDiffConfig { return cfg },
		func(c *config.ReleaseDiffConfig) domain.DescriptorRegistry {
			return registry.New(c.CtxRepoURL)
		},
		func(c *config.ReleaseDiffConfig) domain.ReleaseTrigger {
			return concourse.NewFromConfig(c.Concourse)
		},
		application.NewReleaseDiffService,
	}
	for _, provider := range providers {
		if err := container.Provide(provider); err != nil {
			return nil, fmt.Errorf("failed to wire release-diff service: %w", err)
		}
	}

	var service *application.ReleaseDiffService
	if err := container.Invoke(func(s *application.ReleaseDiffService) {
		service = s
	}); err != nil {
		return nil, fmt.Errorf("failed to wire release-diff service: %w", err)
	}
	return service, nil
}

// buildDependencyService wires the CI glue service.
func buildDependencyService() (*application.DependencyService, error) {
	container := dig.New()

	providers := []any{
		func() command.Runner { return command.NewExecRunner() },
		application.NewDependencyService,
	}
	for _, provider := range providers {
		if err := container.Provide(provider); err != nil {
			return nil, fmt.Errorf("failed to wire dependency service: %w", err)
		}
	}

	var service *application.DependencyService
	if err := container.Invoke(func(s *application.DependencyService) {
		service = s
	}); err != nil {
		return nil, fmt.Errorf("failed to wire dependency service: %w", err)
	}
	return service, nil
}
