package processing_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gardener/cnudie-transport-tool/config"
	"github.com/gardener/cnudie-transport-tool/domain"
	"github.com/gardener/cnudie-transport-tool/infrastructure/processing"
)

// --- helpers ---

// loadPipelines writes a processing config (plus optional sibling files) to a
// temp dir and instantiates its pipelines.
func loadPipelines(t *testing.T, cfgYAML string, files map[string]string) []*processing.Pipeline {
	t.Helper()

	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
	}
	path := filepath.Join(dir, "processing.cfg")
	require.NoError(t, os.WriteFile(path, []byte(cfgYAML), 0o600))

	cfg, err := config.LoadProcessingConfig(path)
	require.NoError(t, err)
	pipelines, err := processing.BuildPipelines(cfg)
	require.NoError(t, err)
	return pipelines
}

func ociResource(name, ref string) domain.Resource {
	return domain.Resource{
		Name:    name,
		Version: "1.0.0",
		Type:    "ociImage",
		Access: domain.Access{
			Type:           domain.AccessOCIRegistry,
			ImageReference: ref,
		},
	}
}

func gardenerComponent() domain.Component {
	return domain.Component{Name: "github.com/gardener/gardener", Version: "1.0.0"}
}

// --- tests ---

func TestPipeline_Matches(t *testing.T) {
	t.Parallel()

	t.Run("should match everything with MatchAllFilter", func(t *testing.T) {
		t.Parallel()

		// given
		pipelines := loadPipelines(t, `
image_processing_cfg:
- name: all
  filter:
    type: MatchAllFilter
  upload:
    type: PrefixUploader
    kwargs:
      prefix: registry.internal/copies
`, nil)

		// then
		assert.True(t, pipelines[0].Matches(gardenerComponent(), ociResource("img", "eu.gcr.io/x/img:1")))
	})

	t.Run("should filter on component names", func(t *testing.T) {
		t.Parallel()

		// given
		pipelines := loadPipelines(t, `
image_processing_cfg:
- name: gardener-only
  filter:
    type: ComponentFilter
    kwargs:
      include_component_names:
      - github.com/gardener/gardener
  upload:
    type: PrefixUploader
    kwargs:
      prefix: registry.internal/copies
`, nil)
		resource := ociResource("img", "eu.gcr.io/x/img:1")

		// then
		assert.True(t, pipelines[0].Matches(gardenerComponent(), resource))
		assert.False(t, pipelines[0].Matches(
			domain.Component{Name: "github.com/gardener/etcd-druid"}, resource))
	})

	t.Run("should filter on image reference patterns", func(t *testing.T) {
		t.Parallel()

		// given
		pipelines := loadPipelines(t, `
image_processing_cfg:
- name: gcr-only
  filter:
    type: ImageFilter
    kwargs:
      include_image_refs:
      - '^eu\.gcr\.io/.*'
      exclude_image_refs:
      - '.*/excluded/.*'
  upload:
    type: PrefixUploader
    kwargs:
      prefix: registry.internal/copies
`, nil)
		component := gardenerComponent()

		// then
		assert.True(t, pipelines[0].Matches(component, ociResource("a", "eu.gcr.io/proj/img:1")))
		assert.False(t, pipelines[0].Matches(component, ociResource("b", "docker.io/proj/img:1")))
		assert.False(t, pipelines[0].Matches(component, ociResource("c", "eu.gcr.io/excluded/img:1")))
	})

	t.Run("should never match resources without an OCI reference in ImageFilter", func(t *testing.T) {
		t.Parallel()

		// given
		pipelines := loadPipelines(t, `
image_processing_cfg:
- name: gcr-only
  filter:
    type: ImageFilter
  upload:
    type: PrefixUploader
    kwargs:
      prefix: registry.internal/copies
`, nil)
		blob := domain.Resource{
			Name:   "chart",
			Type:   "helmChart",
			Access: domain.Access{Type: domain.AccessLocalBlob},
		}

		// then
		assert.False(t, pipelines[0].Matches(gardenerComponent(), blob))
	})

	t.Run("should filter on resource types", func(t *testing.T) {
		t.Parallel()

		// given
		pipelines := loadPipelines(t, `
image_processing_cfg:
- name: images-only
  filter:
    type: ResourceTypeFilter
    kwargs:
      include_resource_types:
      - ociImage
  upload:
    type: PrefixUploader
    kwargs:
      prefix: registry.internal/copies
`, nil)
		component := gardenerComponent()

		// then
		assert.True(t, pipelines[0].Matches(component, ociResource("img", "eu.gcr.io/x/img:1")))
		chart := ociResource("chart", "eu.gcr.io/x/chart:1")
		chart.Type = "helmChart"
		assert.False(t, pipelines[0].Matches(component, chart))
	})

	t.Run("should require all filters of a rule to match", func(t *testing.T) {
		t.Parallel()

		// given
		pipelines := loadPipelines(t, `
image_processing_cfg:
- name: both
  filter:
  - type: ComponentFilter
    kwargs:
      include_component_names:
      - github.com/gardener/gardener
  - type: ImageFilter
    kwargs:
      include_image_refs:
      - '^eu\.gcr\.io/.*'
  upload:
    type: PrefixUploader
    kwargs:
      prefix: registry.internal/copies
`, nil)

		// then
		assert.True(t, pipelines[0].Matches(gardenerComponent(), ociResource("a", "eu.gcr.io/x/img:1")))
		assert.False(t, pipelines[0].Matches(gardenerComponent(), ociResource("b", "docker.io/x/img:1")))
	})
}

func TestPipeline_Process(t *testing.T) {
	t.Parallel()

	t.Run("should return nil for non-matching resources", func(t *testing.T) {
		t.Parallel()

		// given
		pipelines := loadPipelines(t, `
image_processing_cfg:
- name: gardener-only
  filter:
    type: ComponentFilter
    kwargs:
      include_component_names:
      - github.com/gardener/gardener
  upload:
    type: PrefixUploader
    kwargs:
      prefix: registry.internal/copies
`, nil)

		// when
		job, err := pipelines[0].Process(
			domain.Component{Name: "github.com/gardener/other"},
			ociResource("img", "eu.gcr.io/x/img:1"),
		)

		// then
		require.NoError(t, err)
		assert.Nil(t, job)
	})

	t.Run("should derive the upload request via the prefix uploader", func(t *testing.T) {
		t.Parallel()

		// given
		pipelines := loadPipelines(t, `
image_processing_cfg:
- name: copy
  filter:
    type: MatchAllFilter
  upload:
    type: PrefixUploader
    kwargs:
      prefix: registry.internal/copies
`, nil)

		// when
		job, err := pipelines[0].Process(gardenerComponent(), ociResource("img", "eu.gcr.io/proj/img:1.0.0"))

		// then
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, "eu.gcr.io/proj/img:1.0.0", job.UploadRequest.SourceRef)
		assert.Equal(t, "registry.internal/copies/proj/img:1.0.0", job.UploadRequest.TargetRef)
		require.NotNil(t, job.ProcessedResource)
		assert.Equal(t, "registry.internal/copies/proj/img:1.0.0", job.ProcessedResource.Access.ImageReference)
	})

	t.Run("should append the tag suffix", func(t *testing.T) {
		t.Parallel()

		// given
		pipelines := loadPipelines(t, `
image_processing_cfg:
- name: retag
  filter:
    type: MatchAllFilter
  upload:
    type: TagSuffixUploader
    kwargs:
      suffix: mirrored
`, nil)

		// when
		job, err := pipelines[0].Process(gardenerComponent(), ociResource("img", "eu.gcr.io/proj/img:1.0.0"))

		// then
		require.NoError(t, err)
		assert.Equal(t, "eu.gcr.io/proj/img:1.0.0-mirrored", job.UploadRequest.TargetRef)
	})

	t.Run("should fail re-tagging a digest reference", func(t *testing.T) {
		t.Parallel()

		// given
		pipelines := loadPipelines(t, `
image_processing_cfg:
- name: retag
  filter:
    type: MatchAllFilter
  upload:
    type: TagSuffixUploader
    kwargs:
      suffix: mirrored
`, nil)

		// when
		_, err := pipelines[0].Process(gardenerComponent(),
			ociResource("img", "eu.gcr.io/proj/img@sha256:abc"))

		// then
		assert.ErrorContains(t, err, "cannot re-tag digest reference")
	})

	t.Run("should chain uploaders with the previous target as source", func(t *testing.T) {
		t.Parallel()

		// given
		pipelines := loadPipelines(t, `
image_processing_cfg:
- name: chained
  filter:
    type: MatchAllFilter
  upload:
  - type: TagSuffixUploader
    kwargs:
      suffix: mirrored
  - type: PrefixUploader
    kwargs:
      prefix: registry.internal/copies
`, nil)

		// when
		job, err := pipelines[0].Process(gardenerComponent(), ociResource("img", "eu.gcr.io/proj/img:1.0.0"))

		// then
		require.NoError(t, err)
		assert.Equal(t, "eu.gcr.io/proj/img:1.0.0", job.UploadRequest.SourceRef)
		assert.Equal(t, "registry.internal/copies/proj/img:1.0.0-mirrored", job.UploadRequest.TargetRef)
	})

	t.Run("should mark the job for digest pinning via the digest uploader", func(t *testing.T) {
		t.Parallel()

		// given
		pipelines := loadPipelines(t, `
image_processing_cfg:
- name: pinned
  filter:
    type: MatchAllFilter
  upload:
  - type: PrefixUploader
    kwargs:
      prefix: registry.internal/copies
  - type: DigestUploader
`, nil)

		// when
		job, err := pipelines[0].Process(gardenerComponent(), ociResource("img", "eu.gcr.io/proj/img:1.0.0"))

		// then
		require.NoError(t, err)
		assert.Equal(t, "eu.gcr.io/proj/img:1.0.0", job.UploadRequest.SourceRef)
		assert.Equal(t, "registry.internal/copies/proj/img:1.0.0", job.UploadRequest.TargetRef)
		assert.True(t, job.PinByDigest)
	})

	t.Run("should collect remove-files from the file filter", func(t *testing.T) {
		t.Parallel()

		// given
		pipelines := loadPipelines(t, `
processors:
  strip:
    type: FileFilter
    kwargs:
      filter_files: remove.list
image_processing_cfg:
- name: strip-and-copy
  filter:
    type: MatchAllFilter
  processor: strip
  upload:
    type: PrefixUploader
    kwargs:
      prefix: registry.internal/copies
`, map[string]string{
			"remove.list": "# comment line\nusr/local/bin/mitmproxy\n\netc/ssl/mitm.pem\n",
		})

		// when
		job, err := pipelines[0].Process(gardenerComponent(), ociResource("img", "eu.gcr.io/proj/img:1.0.0"))

		// then
		require.NoError(t, err)
		assert.Equal(t,
			[]string{"usr/local/bin/mitmproxy", "etc/ssl/mitm.pem"},
			job.UploadRequest.RemoveFiles,
		)
	})

	t.Run("should label the processed resource with the rule name", func(t *testing.T) {
		t.Parallel()

		// given
		pipelines := loadPipelines(t, `
image_processing_cfg:
- name: copy
  filter:
    type: MatchAllFilter
  upload:
    type: PrefixUploader
    kwargs:
      prefix: registry.internal/copies
`, nil)

		// when
		job, err := pipelines[0].Process(gardenerComponent(), ociResource("img", "eu.gcr.io/proj/img:1.0.0"))

		// then
		require.NoError(t, err)
		require.Len(t, job.ProcessedResource.Labels, 1)

		label := job.ProcessedResource.Labels[0]
		assert.Equal(t, domain.ProcessingRulesLabel, label.Name)
		assert.Equal(t,
			map[string]any{"processingRules": []string{"copy"}},
			label.Value,
		)
	})
}

func TestBuildPipelines(t *testing.T) {
	t.Parallel()

	t.Run("should reject unknown filter types", func(t *testing.T) {
		t.Parallel()

		// given
		dir := t.TempDir()
		path := filepath.Join(dir, "processing.cfg")
		require.NoError(t, os.WriteFile(path, []byte(`
image_processing_cfg:
- name: broken
  filter:
    type: NoSuchFilter
  upload:
    type: PrefixUploader
    kwargs:
      prefix: x
`), 0o600))
		cfg, err := config.LoadProcessingConfig(path)
		require.NoError(t, err)

		// when
		_, err = processing.BuildPipelines(cfg)

		// then
		assert.ErrorContains(t, err, `no such filter type: "NoSuchFilter"`)
	})

	t.Run("should reject a prefix uploader without prefix", func(t *testing.T) {
		t.Parallel()

		// given
		dir := t.TempDir()
		path := filepath.Join(dir, "processing.cfg")
		require.NoError(t, os.WriteFile(path, []byte(`
image_processing_cfg:
- name: broken
  filter:
    type: MatchAllFilter
  upload:
    type: PrefixUploader
`), 0o600))
		cfg, err := config.LoadProcessingConfig(path)
		require.NoError(t, err)

		// when
		_, err = processing.BuildPipelines(cfg)

		// then
		assert.ErrorContains(t, err, "prefix is required")
	})

	t.Run("should reject a file filter whose filter file is missing", func(t *testing.T) {
		t.Parallel()

		// given
		dir := t.TempDir()
		path := filepath.Join(dir, "processing.cfg")
		require.NoError(t, os.WriteFile(path, []byte(`
image_processing_cfg:
- name: broken
  filter:
    type: MatchAllFilter
  processor:
    type: FileFilter
    kwargs:
      filter_files: absent.list
  upload:
    type: PrefixUploader
    kwargs:
      prefix: x
`), 0o600))
		cfg, err := config.LoadProcessingConfig(path)
		require.NoError(t, err)

		// when
		_, err = processing.BuildPipelines(cfg)

		// then
		assert.ErrorContains(t, err, "failed to read filter file")
	})
}
