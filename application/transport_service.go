package application

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/opencontainers/go-digest"
	logger "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/gardener/cnudie-transport-tool/domain"
	"github.com/gardener/cnudie-transport-tool/infrastructure/processing"
)

// maxUploadWorkers bounds the artifact copy and descriptor publish fan-out.
const maxUploadWorkers = 16

// Signer generates a signature for a digest-pinned image reference.
type Signer interface {
	Sign(ctx context.Context, imageRef string) (string, error)
}

// BOMApplier records the transported artifacts in a bill of materials.
type BOMApplier interface {
	Apply(ctx context.Context, entries []domain.BOMEntry) error
}

// TransportOptions holds the per-run switches of the transport flow.
type TransportOptions struct {
	DryRun                 bool
	UploadModeCD           domain.UploadMode
	UploadModeImages       domain.UploadMode
	ReplaceTagsWithDigests bool
	SkipValidation         bool
	IncludedPlatforms      []string
}

// TransportService copies the OCI resources of a component descriptor
// graph into a target context repository, patches the descriptors
// accordingly and republishes them.
type TransportService struct {
	source    domain.DescriptorRegistry
	target    domain.DescriptorRegistry
	copier    domain.ArtifactCopier
	pipelines []*processing.Pipeline
	signer    Signer     // optional
	bom       BOMApplier // optional
}

// NewTransportService creates the service. signer and bom may be nil.
func NewTransportService(
	source domain.DescriptorRegistry,
	target domain.DescriptorRegistry,
	copier domain.ArtifactCopier,
	pipelines []*processing.Pipeline,
	signer Signer,
	bom BOMApplier,
) *TransportService {
	return &TransportService{
		source:    source,
		target:    target,
		copier:    copier,
		pipelines: pipelines,
		signer:    signer,
		bom:       bom,
	}
}

// Run transports the descriptor graph rooted at root and returns the
// patched root descriptor.
func (s *TransportService) Run(
	ctx context.Context,
	root *domain.ComponentDescriptor,
	opts TransportOptions,
) (*domain.ComponentDescriptor, error) {
	if s.source.BaseURL() == s.target.BaseURL() {
		return nil, fmt.Errorf(
			"source and target context repository must differ (both %q)",
			s.source.BaseURL(),
		)
	}
	if opts.UploadModeImages == domain.UploadModeFail {
		return nil, fmt.Errorf("upload-mode-images=fail is not supported")
	}

	keep, err := domain.NewPlatformMatcher(opts.IncludedPlatforms)
	if err != nil {
		return nil, err
	}

	if opts.DryRun {
		logger.Warn("dry-run: not downloading or uploading any images")
	} else {
		logger.Infof("using upload mode %s for component descriptors", opts.UploadModeCD)
		logger.Infof("using upload mode %s for images", opts.UploadModeImages)
	}

	descriptors, err := s.resolveGraph(ctx, root)
	if err != nil {
		return nil, err
	}
	logger.Infof("resolved %d component(s)", len(descriptors))

	jobs, err := s.createJobs(descriptors)
	if err != nil {
		return nil, err
	}

	var bomEntries []domain.BOMEntry
	if !opts.DryRun {
		entries, uploadErr := s.uploadArtifacts(ctx, jobs, opts, keep)
		if uploadErr != nil {
			return nil, uploadErr
		}
		bomEntries = entries
	}

	s.patchDescriptors(descriptors, jobs)

	for _, cd := range descriptors {
		bomEntries = append(bomEntries, domain.BOMEntry{
			Ref:  domain.DescriptorRepositoryPath(s.target.BaseURL(), cd.Component.Name) + ":" + cd.Component.Version,
			Type: domain.BOMEntryTypeDocker,
			Name: cd.Component.Name,
		})
	}

	if err := s.publishDescriptors(ctx, descriptors, opts); err != nil {
		return nil, err
	}

	if s.bom != nil && !opts.DryRun {
		if err := s.bom.Apply(ctx, bomEntries); err != nil {
			return nil, err
		}
	}

	for _, cd := range descriptors {
		if cd.Component.Name == root.Component.Name && cd.Component.Version == root.Component.Version {
			return cd, nil
		}
	}
	return nil, fmt.Errorf(
		"root component %s:%s missing after processing - this is a bug",
		root.Component.Name, root.Component.Version,
	)
}

// resolveGraph fetches the transitive component references of the root
// descriptor from the source context repository. The result is sorted by
// component identity.
func (s *TransportService) resolveGraph(
	ctx context.Context,
	root *domain.ComponentDescriptor,
) ([]*domain.ComponentDescriptor, error) {
	resolved := map[domain.ComponentID]*domain.ComponentDescriptor{
		root.Component.ID(): root,
	}
	queue := []*domain.ComponentDescriptor{root}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, ref := range current.Component.ComponentReferences {
			id := domain.ComponentID{Name: ref.ComponentName, Version: ref.Version}
			if _, seen := resolved[id]; seen {
				continue
			}

			cd, err := s.source.FetchDescriptor(ctx, ref.ComponentName, ref.Version)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve component reference %s: %w", id, err)
			}
			resolved[id] = cd
			queue = append(queue, cd)
		}
	}

	descriptors := make([]*domain.ComponentDescriptor, 0, len(resolved))
	for _, cd := range resolved {
		descriptors = append(descriptors, cd)
	}
	sort.Slice(descriptors, func(i, j int) bool {
		return descriptors[i].Component.ID().String() < descriptors[j].Component.ID().String()
	})
	return descriptors, nil
}

// createJobs matches every OCI resource against the pipelines. The first
// matching pipeline wins; resources nothing matches are reported and left
// untouched. A failing pipeline aborts the whole run.
func (s *TransportService) createJobs(descriptors []*domain.ComponentDescriptor) ([]*domain.ProcessingJob, error) {
	var jobs []*domain.ProcessingJob
	for _, cd := range descriptors {
		component := cd.Component
		for _, resource := range component.Resources {
			if _, ok := resource.OCIImageReference(); !ok {
				continue
			}

			job, err := s.processResource(component, resource)
			if err != nil {
				return nil, err
			}
			if job != nil {
				jobs = append(jobs, job)
			}
		}
	}
	return jobs, nil
}

func (s *TransportService) processResource(
	component domain.Component,
	resource domain.Resource,
) (*domain.ProcessingJob, error) {
	for _, pipeline := range s.pipelines {
		job, err := pipeline.Process(component, resource)
		if err != nil {
			return nil, fmt.Errorf("failed to process %s: %w", component.Name, err)
		}
		if job != nil {
			return job, nil
		}
	}

	ref, _ := resource.OCIImageReference()
	logger.Warnf("no matching processor: %s:%s", component.Name, ref)
	return nil, nil
}

// uploadArtifacts copies every job's artifact with bounded concurrency and
// returns the BOM entries of the uploaded images.
func (s *TransportService) uploadArtifacts(
	ctx context.Context,
	jobs []*domain.ProcessingJob,
	opts TransportOptions,
	keep domain.PlatformMatcher,
) ([]domain.BOMEntry, error) {
	var (
		mu         sync.Mutex
		bomEntries []domain.BOMEntry
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(maxUploadWorkers)

	for _, job := range jobs {
		group.Go(func() error {
			contentDigest, err := s.copier.CopyArtifact(groupCtx, job.UploadRequest, opts.UploadModeImages, keep)
			if err != nil {
				return err
			}
			if _, err := digest.Parse(contentDigest); err != nil {
				return fmt.Errorf("invalid content digest %q for %s: %w", contentDigest, job.UploadRequest.TargetRef, err)
			}

			digestRef := replaceTagWithDigest(job.UploadRequest.TargetRef, contentDigest)

			if opts.ReplaceTagsWithDigests || job.PinByDigest {
				job.UploadRequest.TargetRef = digestRef
				patched := job.Resource.WithImageReference(digestRef)
				if job.ProcessedResource != nil {
					patched = job.ProcessedResource.WithImageReference(digestRef)
				}
				job.ProcessedResource = &patched
			}

			if s.signer != nil {
				sigRef, signErr := s.signer.Sign(groupCtx, digestRef)
				if signErr != nil {
					return signErr
				}
				logger.Infof("signed %s (%s)", digestRef, sigRef)
			}

			mu.Lock()
			bomEntries = append(bomEntries, domain.BOMEntry{
				Ref:  job.UploadRequest.TargetRef,
				Type: domain.BOMEntryTypeDocker,
				Name: job.Component.Name + "/" + job.Resource.Name,
			})
			mu.Unlock()

			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}
	return bomEntries, nil
}

// patchDescriptors merges processed resources back into their component
// descriptors and records the source and target repository contexts.
func (s *TransportService) patchDescriptors(
	descriptors []*domain.ComponentDescriptor,
	jobs []*domain.ProcessingJob,
) {
	patched := make(map[domain.ComponentID]map[string]domain.Resource)
	for _, job := range jobs {
		if job.ProcessedResource == nil {
			continue
		}
		id := job.Component.ID()
		if patched[id] == nil {
			patched[id] = make(map[string]domain.Resource)
		}
		patched[id][job.Resource.Identity()] = *job.ProcessedResource
	}

	for _, cd := range descriptors {
		component := &cd.Component
		if overrides := patched[component.ID()]; overrides != nil {
			resources := make([]domain.Resource, 0, len(component.Resources))
			for _, resource := range component.Resources {
				if replacement, ok := overrides[resource.Identity()]; ok {
					resources = append(resources, replacement)
				} else {
					resources = append(resources, resource)
				}
			}
			component.Resources = resources
		}

		component.AppendRepositoryContext(s.source.BaseURL())
		component.AppendRepositoryContext(s.target.BaseURL())
	}
}

// publishDescriptors validates and uploads every patched descriptor to the
// target context repository.
func (s *TransportService) publishDescriptors(
	ctx context.Context,
	descriptors []*domain.ComponentDescriptor,
	opts TransportOptions,
) error {
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(maxUploadWorkers)

	for _, cd := range descriptors {
		group.Go(func() error {
			if !opts.SkipValidation {
				if err := cd.Validate(); err != nil {
					return fmt.Errorf(
						"schema validation for component descriptor %s:%s failed: %w",
						cd.Component.Name, cd.Component.Version, err,
					)
				}
			}

			if opts.DryRun {
				logger.Infof(
					"dry-run - would publish component descriptor %s:%s",
					cd.Component.Name, cd.Component.Version,
				)
				return nil
			}

			return s.target.UploadDescriptor(groupCtx, cd, opts.UploadModeCD)
		})
	}

	return group.Wait()
}

// replaceTagWithDigest pins an image reference by content digest.
func replaceTagWithDigest(imageRef, contentDigest string) string {
	if idx := strings.LastIndex(imageRef, "@"); idx >= 0 {
		return imageRef[:idx] + "@" + contentDigest
	}
	if idx := strings.LastIndex(imageRef, ":"); idx > strings.LastIndex(imageRef, "/") {
		return imageRef[:idx] + "@" + contentDigest
	}
	return imageRef + "@" + contentDigest
}
