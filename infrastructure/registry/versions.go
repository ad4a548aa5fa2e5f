package registry

import (
	"context"
	"fmt"

	"github.com/gardener/cnudie-transport-tool/domain"
)

// ListVersions returns all tags of a component's descriptor repository.
func (c *Client) ListVersions(ctx context.Context, name string) ([]string, error) {
	repoPath := domain.DescriptorRepositoryPath(c.baseURL, name)
	repo, _, err := c.repository(repoPath)
	if err != nil {
		return nil, err
	}

	var tags []string
	if err := repo.Tags(ctx, "", func(page []string) error {
		tags = append(tags, page...)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("failed to list versions of %s: %w", name, err)
	}

	return tags, nil
}

// LatestVersion returns the greatest released version of a component, or
// domain.ErrNoReleasedVersion when none exists.
func (c *Client) LatestVersion(ctx context.Context, name string) (string, error) {
	tags, err := c.ListVersions(ctx, name)
	if err != nil {
		return "", err
	}

	version, err := greatestVersion(tags)
	if err != nil {
		return "", fmt.Errorf("component %s: %w", name, err)
	}
	return version, nil
}
