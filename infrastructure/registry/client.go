// Package registry talks to OCI context repositories: it retrieves and
// publishes component descriptors and copies OCI artifacts between
// registries. All registry communication goes through ORAS.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	logger "github.com/sirupsen/logrus"
	"oras.land/oras-go/v2/content"
	"oras.land/oras-go/v2/errdef"
	orasregistry "oras.land/oras-go/v2/registry"
	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"

	"github.com/gardener/cnudie-transport-tool/domain"
)

// defaultTimeout bounds every registry HTTP request. Transfers of large
// layers need headroom.
const defaultTimeout = 5 * time.Minute

// Client accesses one context repository and, for artifact copies,
// arbitrary source/target registries.
type Client struct {
	baseURL   string
	plainHTTP bool
	timeout   time.Duration

	staticRegistry string
	staticUsername string
	staticPassword string
}

// Option customizes a Client.
type Option func(*Client)

// WithPlainHTTP switches registry communication to HTTP (local test
// registries).
func WithPlainHTTP(plain bool) Option {
	return func(c *Client) { c.plainHTTP = plain }
}

// WithStaticCredentials uses the given credentials for one registry host
// instead of the default credential chain.
func WithStaticCredentials(registry, username, password string) Option {
	return func(c *Client) {
		c.staticRegistry = registry
		c.staticUsername = username
		c.staticPassword = password
	}
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) { c.timeout = timeout }
}

// New creates a client for the given context repository base URL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the context repository base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// repository builds an authenticated ORAS repository for a reference.
func (c *Client) repository(ref string) (*remote.Repository, orasregistry.Reference, error) {
	parsed, err := orasregistry.ParseReference(ref)
	if err != nil {
		return nil, orasregistry.Reference{}, fmt.Errorf("invalid reference %q: %w", ref, err)
	}

	repo, err := remote.NewRepository(parsed.Registry + "/" + parsed.Repository)
	if err != nil {
		return nil, orasregistry.Reference{}, fmt.Errorf("failed to create repository for %q: %w", ref, err)
	}
	repo.PlainHTTP = c.plainHTTP

	authClient := &auth.Client{
		Client: &http.Client{Timeout: c.timeout},
		Cache:  auth.NewCache(),
	}
	if c.staticUsername != "" {
		registry := c.staticRegistry
		if registry == "" {
			registry = parsed.Registry
		}
		authClient.Credential = auth.StaticCredential(registry, auth.Credential{
			Username: c.staticUsername,
			Password: c.staticPassword,
		})
	}
	repo.Client = authClient

	return repo, parsed, nil
}

// DescriptorRef returns the OCI reference of a component descriptor in this
// client's context repository.
func (c *Client) DescriptorRef(name, version string) string {
	return domain.DescriptorRepositoryPath(c.baseURL, name) + ":" + version
}

// FetchDescriptor downloads and parses the component descriptor of
// name:version from the context repository.
func (c *Client) FetchDescriptor(ctx context.Context, name, version string) (*domain.ComponentDescriptor, error) {
	ref := c.DescriptorRef(name, version)
	repo, parsed, err := c.repository(ref)
	if err != nil {
		return nil, err
	}

	manifestDesc, err := repo.Resolve(ctx, parsed.Reference)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve component descriptor %s: %w", ref, err)
	}

	manifestData, err := content.FetchAll(ctx, repo, manifestDesc)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch manifest of %s: %w", ref, err)
	}

	var manifest ocispec.Manifest
	if err := json.Unmarshal(manifestData, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest of %s: %w", ref, err)
	}

	var layer *ocispec.Descriptor
	for i := range manifest.Layers {
		if manifest.Layers[i].MediaType == domain.DescriptorLayerMediaType {
			layer = &manifest.Layers[i]
			break
		}
	}
	if layer == nil {
		return nil, fmt.Errorf("%s has no component-descriptor layer", ref)
	}

	layerData, err := content.FetchAll(ctx, repo.Blobs(), *layer)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch component-descriptor layer of %s: %w", ref, err)
	}

	descriptorYAML, err := extractDescriptorArchive(layerData)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ref, err)
	}

	return domain.ParseDescriptor(descriptorYAML)
}

// UploadDescriptor publishes a component descriptor to the context
// repository as an OCI artifact.
func (c *Client) UploadDescriptor(ctx context.Context, cd *domain.ComponentDescriptor, mode domain.UploadMode) error {
	ref := c.DescriptorRef(cd.Component.Name, cd.Component.Version)
	repo, parsed, err := c.repository(ref)
	if err != nil {
		return err
	}

	if mode != domain.UploadModeOverwrite {
		_, resolveErr := repo.Resolve(ctx, parsed.Reference)
		switch {
		case resolveErr == nil && mode == domain.UploadModeFail:
			return fmt.Errorf("component descriptor %s already exists", ref)
		case resolveErr == nil:
			logger.Infof("%s exists - skipping upload", ref)
			return nil
		case !errors.Is(resolveErr, errdef.ErrNotFound):
			return fmt.Errorf("failed to check for existing descriptor %s: %w", ref, resolveErr)
		}
	}

	descriptorYAML, err := cd.Encode()
	if err != nil {
		return err
	}
	layerData, err := buildDescriptorArchive(descriptorYAML)
	if err != nil {
		return err
	}

	layerDesc := content.NewDescriptorFromBytes(domain.DescriptorLayerMediaType, layerData)
	if pushErr := pushBlob(ctx, repo, layerDesc, layerData); pushErr != nil {
		return fmt.Errorf("failed to push descriptor layer of %s: %w", ref, pushErr)
	}

	configData, err := json.Marshal(map[string]any{
		"componentDescriptorLayer": map[string]any{
			"digest":    layerDesc.Digest.String(),
			"mediaType": layerDesc.MediaType,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to serialize descriptor config: %w", err)
	}
	configDesc := content.NewDescriptorFromBytes(domain.DescriptorConfigMediaType, configData)
	if pushErr := pushBlob(ctx, repo, configDesc, configData); pushErr != nil {
		return fmt.Errorf("failed to push descriptor config of %s: %w", ref, pushErr)
	}

	manifest := ocispec.Manifest{
		Versioned: manifestVersioned,
		MediaType: ocispec.MediaTypeImageManifest,
		Config:    configDesc,
		Layers:    []ocispec.Descriptor{layerDesc},
	}
	manifestData, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("failed to serialize manifest of %s: %w", ref, err)
	}
	manifestDesc := content.NewDescriptorFromBytes(ocispec.MediaTypeImageManifest, manifestData)

	if pushErr := repo.PushReference(ctx, manifestDesc, bytes.NewReader(manifestData), parsed.Reference); pushErr != nil {
		return fmt.Errorf("failed to push component descriptor %s: %w", ref, pushErr)
	}

	logger.Infof("published component descriptor %s", ref)
	return nil
}

// pushBlob uploads a blob unless the registry already has it.
func pushBlob(ctx context.Context, repo *remote.Repository, desc ocispec.Descriptor, data []byte) error {
	exists, err := repo.Blobs().Exists(ctx, desc)
	if err == nil && exists {
		return nil
	}
	return repo.Blobs().Push(ctx, desc, bytes.NewReader(data))
}
