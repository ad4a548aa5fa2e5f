// Package testdoubles provides hand-crafted spies and stubs for the
// domain interfaces.
package testdoubles

import (
	"context"
	"fmt"
	"sync"

	"github.com/gardener/cnudie-transport-tool/domain"
	"github.com/gardener/cnudie-transport-tool/infrastructure/command"
)

// ---------------------------------------------------------------------------
// SpyDescriptorRegistry
// ---------------------------------------------------------------------------

// SpyDescriptorRegistry implements domain.DescriptorRegistry as a configurable
// spy. Configure the response fields for the methods your test exercises,
// then inspect the call-tracking fields to verify behavior.
type SpyDescriptorRegistry struct {
	mu sync.Mutex

	// --- identity ---
	Base string

	// --- FetchDescriptor ---
	Descriptors map[string]*domain.ComponentDescriptor // "name:version" -> descriptor
	FetchErr    error
	// spy: "name:version" keys that were requested
	FetchedRefs []string

	// --- LatestVersion ---
	Latest    map[string]string // name -> version
	LatestErr error
	// spy: names that were requested
	LatestNames []string

	// --- UploadDescriptor ---
	UploadErr error
	// spy: descriptors received, and the modes they were uploaded with
	Uploaded    []*domain.ComponentDescriptor
	UploadModes []domain.UploadMode
}

var _ domain.DescriptorRegistry = (*SpyDescriptorRegistry)(nil)

func (r *SpyDescriptorRegistry) BaseURL() string { return r.Base }

func (r *SpyDescriptorRegistry) FetchDescriptor(
	_ context.Context,
	name, version string,
) (*domain.ComponentDescriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := name + ":" + version
	r.FetchedRefs = append(r.FetchedRefs, key)
	if r.FetchErr != nil {
		return nil, r.FetchErr
	}
	if cd, ok := r.Descriptors[key]; ok {
		return cd, nil
	}
	return nil, fmt.Errorf("descriptor not found: %s", key)
}

func (r *SpyDescriptorRegistry) LatestVersion(
	_ context.Context,
	name string,
) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.LatestNames = append(r.LatestNames, name)
	if r.LatestErr != nil {
		return "", r.LatestErr
	}
	if version, ok := r.Latest[name]; ok {
		return version, nil
	}
	return "", domain.ErrNoReleasedVersion
}

func (r *SpyDescriptorRegistry) UploadDescriptor(
	_ context.Context,
	cd *domain.ComponentDescriptor,
	mode domain.UploadMode,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Uploaded = append(r.Uploaded, cd)
	r.UploadModes = append(r.UploadModes, mode)
	return r.UploadErr
}

// ---------------------------------------------------------------------------
// SpyReleaseTrigger
// ---------------------------------------------------------------------------

// SpyReleaseTrigger implements domain.ReleaseTrigger as a configurable spy.
type SpyReleaseTrigger struct {
	TriggerErr error
	// spy: calls received
	Calls []TriggerCall
}

// TriggerCall records a single invocation of TriggerJob.
type TriggerCall struct {
	Pipeline string
	Job      string
}

var _ domain.ReleaseTrigger = (*SpyReleaseTrigger)(nil)

func (t *SpyReleaseTrigger) TriggerJob(
	_ context.Context,
	pipeline, job string,
) error {
	t.Calls = append(t.Calls, TriggerCall{Pipeline: pipeline, Job: job})
	return t.TriggerErr
}

// ---------------------------------------------------------------------------
// SpyArtifactCopier
// ---------------------------------------------------------------------------

// SpyArtifactCopier implements domain.ArtifactCopier as a configurable spy.
type SpyArtifactCopier struct {
	mu sync.Mutex

	// Digests maps source refs to the digest the copy reports. Unlisted
	// refs fall back to DefaultDigest.
	Digests       map[string]string
	DefaultDigest string
	CopyErr       error
	// spy: requests received
	Requests []domain.UploadRequest
	Modes    []domain.UploadMode
}

var _ domain.ArtifactCopier = (*SpyArtifactCopier)(nil)

func (c *SpyArtifactCopier) CopyArtifact(
	_ context.Context,
	req domain.UploadRequest,
	mode domain.UploadMode,
	_ domain.PlatformMatcher,
) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Requests = append(c.Requests, req)
	c.Modes = append(c.Modes, mode)
	if c.CopyErr != nil {
		return "", c.CopyErr
	}
	if digest, ok := c.Digests[req.SourceRef]; ok {
		return digest, nil
	}
	if c.DefaultDigest != "" {
		return c.DefaultDigest, nil
	}
	return "sha256:0000000000000000000000000000000000000000000000000000000000000000", nil
}

// ---------------------------------------------------------------------------
// SpySigner
// ---------------------------------------------------------------------------

// SpySigner records the image references it was asked to sign.
type SpySigner struct {
	mu sync.Mutex

	SignErr error
	// spy: refs received
	SignedRefs []string
}

func (s *SpySigner) Sign(_ context.Context, imageRef string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.SignedRefs = append(s.SignedRefs, imageRef)
	if s.SignErr != nil {
		return "", s.SignErr
	}
	return imageRef + ".sig", nil
}

// ---------------------------------------------------------------------------
// SpyBOMApplier
// ---------------------------------------------------------------------------

// SpyBOMApplier records the bill-of-materials entries it received.
type SpyBOMApplier struct {
	ApplyErr error
	// spy: entry batches received
	Applied [][]domain.BOMEntry
}

func (a *SpyBOMApplier) Apply(_ context.Context, entries []domain.BOMEntry) error {
	a.Applied = append(a.Applied, entries)
	return a.ApplyErr
}

// ---------------------------------------------------------------------------
// StubRunner
// ---------------------------------------------------------------------------

// StubRunner is a stub implementation of command.Runner.
type StubRunner struct {
	Result command.Result
	RunErr error
	// spy: specs received
	Specs []command.Spec
}

var _ command.Runner = (*StubRunner)(nil)

func (r *StubRunner) Run(_ context.Context, spec command.Spec) (command.Result, error) {
	r.Specs = append(r.Specs, spec)
	return r.Result, r.RunErr
}
