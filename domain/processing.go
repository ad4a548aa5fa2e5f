package domain

import (
	"context"
	"errors"
	"fmt"
)

// ProcessingRulesLabel marks resources with the processing rule that was
// applied while transporting them.
const ProcessingRulesLabel = "cloud.gardener.cnudie/sdo/lssd"

// ErrNoReleasedVersion signals that a component has never been released to
// its context repository. Callers decide how to handle this case.
var ErrNoReleasedVersion = errors.New("component has no released version")

// UploadMode controls the behavior when an upload target already exists.
type UploadMode string

const (
	UploadModeSkip      UploadMode = "skip"
	UploadModeOverwrite UploadMode = "overwrite"
	UploadModeFail      UploadMode = "fail"
)

// ParseUploadMode validates an upload mode string.
func ParseUploadMode(s string) (UploadMode, error) {
	switch UploadMode(s) {
	case UploadModeSkip, UploadModeOverwrite, UploadModeFail:
		return UploadMode(s), nil
	default:
		return "", fmt.Errorf("invalid upload mode %q (skip, overwrite, fail)", s)
	}
}

// UploadRequest describes a single OCI artifact copy.
type UploadRequest struct {
	SourceRef   string
	TargetRef   string
	RemoveFiles []string
}

// ProcessingJob is a unit of work produced by a processing pipeline: one
// resource of one component, plus what should happen to it.
type ProcessingJob struct {
	Component     Component
	Resource      Resource
	UploadRequest UploadRequest
	// ProcessedResource replaces Resource in the published descriptor
	// once the pipeline ran. Nil means the resource is unchanged.
	ProcessedResource *Resource
	// PinByDigest requests that the published reference carries the
	// target content digest instead of its tag.
	PinByDigest bool
}

// Filter decides whether a pipeline applies to a component's resource.
type Filter interface {
	Matches(component Component, resource Resource) bool
}

// Processor mutates a processing job before upload (e.g. marks files for
// removal).
type Processor interface {
	Process(job ProcessingJob) (ProcessingJob, error)
}

// Uploader derives the upload target for a job. When targetAsSource is set
// the previous uploader's target is the new source (uploader chaining).
type Uploader interface {
	Process(job ProcessingJob, targetAsSource bool) (ProcessingJob, error)
}

// DescriptorRegistry is the narrow interface the orchestrating services
// depend on for descriptor retrieval and publishing.
type DescriptorRegistry interface {
	// FetchDescriptor downloads and parses name:version.
	FetchDescriptor(ctx context.Context, name, version string) (*ComponentDescriptor, error)
	// LatestVersion returns the greatest released version of a component,
	// or ErrNoReleasedVersion.
	LatestVersion(ctx context.Context, name string) (string, error)
	// UploadDescriptor publishes a descriptor to the registry.
	UploadDescriptor(ctx context.Context, cd *ComponentDescriptor, mode UploadMode) error
	// BaseURL returns the context repository base URL.
	BaseURL() string
}

// ArtifactCopier copies a single OCI artifact between registries and
// returns the target content digest.
type ArtifactCopier interface {
	CopyArtifact(ctx context.Context, req UploadRequest, mode UploadMode, keep PlatformMatcher) (string, error)
}

// ReleaseTrigger starts a downstream CI job.
type ReleaseTrigger interface {
	TriggerJob(ctx context.Context, pipeline, job string) error
}

// BOMEntryType classifies bill-of-materials entries.
type BOMEntryType string

// BOMEntryTypeDocker marks container image entries.
const BOMEntryTypeDocker BOMEntryType = "docker"

// BOMEntry records one transported artifact for the bill of materials.
type BOMEntry struct {
	Ref  string       `yaml:"ref"`
	Type BOMEntryType `yaml:"type"`
	Name string       `yaml:"name"`
}
