package processing

import (
	"fmt"
	"strings"

	"github.com/gardener/cnudie-transport-tool/config"
	"github.com/gardener/cnudie-transport-tool/domain"
)

// Uploader type names accepted in the processing configuration.
const (
	uploaderTypePrefix    = "PrefixUploader"
	uploaderTypeTagSuffix = "TagSuffixUploader"
	uploaderTypeDigest    = "DigestUploader"
)

// prefixUploader re-roots an image reference under a target prefix: the
// source registry host is stripped and the repository path is appended to
// the prefix.
type prefixUploader struct {
	prefix string
}

func (u *prefixUploader) Process(job domain.ProcessingJob, targetAsSource bool) (domain.ProcessingJob, error) {
	source, err := uploadSource(job, targetAsSource)
	if err != nil {
		return job, err
	}

	_, remainder, splitErr := splitRegistryHost(source)
	if splitErr != nil {
		return job, splitErr
	}
	target := strings.TrimSuffix(u.prefix, "/") + "/" + remainder

	return withTarget(job, source, target), nil
}

// tagSuffixUploader appends a suffix to the tag of the target reference.
// Digest references cannot be re-tagged.
type tagSuffixUploader struct {
	suffix string
}

func (u *tagSuffixUploader) Process(job domain.ProcessingJob, targetAsSource bool) (domain.ProcessingJob, error) {
	source, err := uploadSource(job, targetAsSource)
	if err != nil {
		return job, err
	}

	repo, tag, tagErr := splitTag(source)
	if tagErr != nil {
		return job, tagErr
	}
	target := repo + ":" + tag + "-" + u.suffix

	return withTarget(job, source, target), nil
}

// digestUploader keeps the reference mapping unchanged and marks the job
// so the published reference is pinned by the target content digest once
// the copy ran.
type digestUploader struct{}

func (u *digestUploader) Process(job domain.ProcessingJob, targetAsSource bool) (domain.ProcessingJob, error) {
	source, err := uploadSource(job, targetAsSource)
	if err != nil {
		return job, err
	}

	job = withTarget(job, source, source)
	job.PinByDigest = true

	return job, nil
}

// uploadSource determines the source reference for an uploader step: the
// resource's own reference, or the previous uploader's target when chaining.
func uploadSource(job domain.ProcessingJob, targetAsSource bool) (string, error) {
	if targetAsSource {
		if job.UploadRequest.TargetRef == "" {
			return "", fmt.Errorf(
				"uploader chaining for %s: no previous upload target", job.Resource.Name,
			)
		}
		return job.UploadRequest.TargetRef, nil
	}

	ref, ok := job.Resource.OCIImageReference()
	if !ok {
		return "", fmt.Errorf("resource %s has no OCI image reference", job.Resource.Name)
	}
	return ref, nil
}

// withTarget updates the upload request and the processed resource access.
func withTarget(job domain.ProcessingJob, source, target string) domain.ProcessingJob {
	if job.UploadRequest.SourceRef == "" {
		job.UploadRequest.SourceRef = source
	}
	job.UploadRequest.TargetRef = target

	patched := job.Resource.WithImageReference(target)
	if job.ProcessedResource != nil {
		patched = job.ProcessedResource.WithImageReference(target)
	}
	job.ProcessedResource = &patched

	return job
}

// splitRegistryHost splits an image reference into its registry host and the
// remaining repository path (including tag or digest).
func splitRegistryHost(ref string) (host, remainder string, err error) {
	idx := strings.Index(ref, "/")
	if idx <= 0 || idx == len(ref)-1 {
		return "", "", fmt.Errorf("invalid image reference %q", ref)
	}
	return ref[:idx], ref[idx+1:], nil
}

// splitTag splits an image reference into repository and tag. Digest
// references are rejected.
func splitTag(ref string) (repo, tag string, err error) {
	if strings.Contains(ref, "@") {
		return "", "", fmt.Errorf("cannot re-tag digest reference %q", ref)
	}
	lastColon := strings.LastIndex(ref, ":")
	lastSlash := strings.LastIndex(ref, "/")
	if lastColon < 0 || lastColon < lastSlash {
		return "", "", fmt.Errorf("image reference %q has no tag", ref)
	}
	return ref[:lastColon], ref[lastColon+1:], nil
}

type prefixUploaderKwargs struct {
	Prefix string `yaml:"prefix"`
}

type tagSuffixUploaderKwargs struct {
	Suffix string `yaml:"suffix"`
}

// buildUploader instantiates an uploader from its configuration.
func buildUploader(cfg config.TypedConfig) (domain.Uploader, error) {
	switch cfg.Type {
	case uploaderTypePrefix:
		var kwargs prefixUploaderKwargs
		if err := config.DecodeKwargs(cfg.Kwargs, &kwargs); err != nil {
			return nil, fmt.Errorf("%s: %w", cfg.Type, err)
		}
		if kwargs.Prefix == "" {
			return nil, fmt.Errorf("%s: prefix is required", cfg.Type)
		}
		return &prefixUploader{prefix: kwargs.Prefix}, nil

	case uploaderTypeTagSuffix:
		var kwargs tagSuffixUploaderKwargs
		if err := config.DecodeKwargs(cfg.Kwargs, &kwargs); err != nil {
			return nil, fmt.Errorf("%s: %w", cfg.Type, err)
		}
		if kwargs.Suffix == "" {
			return nil, fmt.Errorf("%s: suffix is required", cfg.Type)
		}
		return &tagSuffixUploader{suffix: kwargs.Suffix}, nil

	case uploaderTypeDigest:
		return &digestUploader{}, nil

	default:
		return nil, fmt.Errorf("no such uploader: %q", cfg.Type)
	}
}
