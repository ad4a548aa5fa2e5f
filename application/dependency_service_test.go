package application_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gardener/cnudie-transport-tool/application"
	"github.com/gardener/cnudie-transport-tool/config"
	testdoubles "github.com/gardener/cnudie-transport-tool/test"
)

func TestDependencyService_SetDependencyVersion(t *testing.T) {
	t.Parallel()

	t.Run("should write the version verbatim", func(t *testing.T) {
		t.Parallel()

		// given
		sourcePath := t.TempDir()
		service := application.NewDependencyService(&testdoubles.StubRunner{})

		// when
		err := service.SetDependencyVersion(&config.DependencyVersionConfig{
			SourcePath:        sourcePath,
			ComponentName:     config.OwnComponentName,
			DependencyName:    config.CCUtilsComponentName,
			DependencyVersion: "1.2345.0\n",
		})

		// then
		require.NoError(t, err)
		data, err := os.ReadFile(filepath.Join(sourcePath, config.CCUtilsVersionFile))
		require.NoError(t, err)
		assert.Equal(t, "1.2345.0\n", string(data))
	})

	t.Run("should reject a foreign component", func(t *testing.T) {
		t.Parallel()

		// given
		sourcePath := t.TempDir()
		service := application.NewDependencyService(&testdoubles.StubRunner{})

		// when
		err := service.SetDependencyVersion(&config.DependencyVersionConfig{
			SourcePath:        sourcePath,
			ComponentName:     "github.com/gardener/other-component",
			DependencyName:    config.CCUtilsComponentName,
			DependencyVersion: "1.0.0",
		})

		// then
		assert.ErrorContains(t, err, "unsupported component")
		assert.NoFileExists(t, filepath.Join(sourcePath, config.CCUtilsVersionFile))
	})

	t.Run("should reject an unimplemented dependency without writing", func(t *testing.T) {
		t.Parallel()

		// given
		sourcePath := t.TempDir()
		service := application.NewDependencyService(&testdoubles.StubRunner{})

		// when
		err := service.SetDependencyVersion(&config.DependencyVersionConfig{
			SourcePath:        sourcePath,
			ComponentName:     config.OwnComponentName,
			DependencyName:    "github.com/gardener/other-dependency",
			DependencyVersion: "1.0.0",
		})

		// then
		assert.ErrorContains(t, err, "not implemented")
		assert.NoFileExists(t, filepath.Join(sourcePath, config.CCUtilsVersionFile))
	})
}

func TestDependencyService_GenerateDescriptor(t *testing.T) {
	t.Parallel()

	setup := func(t *testing.T, version string) *config.GenerateDescriptorConfig {
		t.Helper()
		sourcePath := t.TempDir()
		outDir := t.TempDir()
		require.NoError(t, os.WriteFile(
			filepath.Join(sourcePath, config.CCUtilsVersionFile), []byte(version), 0o600))

		basePath := filepath.Join(outDir, "base-descriptor.yaml")
		require.NoError(t, os.WriteFile(basePath, []byte("base: definition\n"), 0o600))

		return &config.GenerateDescriptorConfig{
			SourcePath:         sourcePath,
			AddDependenciesCmd: "/cc/utils/cli.py productutil add_dependencies",
			BaseDefinitionPath: basePath,
			DescriptorOutPath:  filepath.Join(outDir, "component-descriptor.yaml"),
		}
	}

	t.Run("should run the add-dependencies command with the pinned version", func(t *testing.T) {
		t.Parallel()

		// given
		cfg := setup(t, "1.2345.0\n")
		stubRunner := &testdoubles.StubRunner{}
		service := application.NewDependencyService(stubRunner)

		// when
		err := service.GenerateDescriptor(context.Background(), cfg)

		// then
		require.NoError(t, err)
		require.Len(t, stubRunner.Specs, 1)

		spec := stubRunner.Specs[0]
		assert.Equal(t, "/cc/utils/cli.py", spec.Name)
		require.Len(t, spec.Args, 4)
		assert.Equal(t, "productutil", spec.Args[0])
		assert.Equal(t, "add_dependencies", spec.Args[1])
		assert.Equal(t, "--component-dependencies", spec.Args[2])
		assert.JSONEq(t,
			`{"name":"github.com/gardener/cc-utils","version":"1.2345.0"}`,
			spec.Args[3],
		)
	})

	t.Run("should copy the base definition to the output path", func(t *testing.T) {
		t.Parallel()

		// given
		cfg := setup(t, "1.2345.0")
		service := application.NewDependencyService(&testdoubles.StubRunner{})

		// when
		err := service.GenerateDescriptor(context.Background(), cfg)

		// then
		require.NoError(t, err)
		data, err := os.ReadFile(cfg.DescriptorOutPath)
		require.NoError(t, err)
		assert.Equal(t, "base: definition\n", string(data))
	})

	t.Run("should fail when the version file is missing", func(t *testing.T) {
		t.Parallel()

		// given
		cfg := setup(t, "1.0.0")
		require.NoError(t, os.Remove(filepath.Join(cfg.SourcePath, config.CCUtilsVersionFile)))
		service := application.NewDependencyService(&testdoubles.StubRunner{})

		// when
		err := service.GenerateDescriptor(context.Background(), cfg)

		// then
		require.Error(t, err)
	})

	t.Run("should fail when the version file is empty", func(t *testing.T) {
		t.Parallel()

		// given
		cfg := setup(t, "  \n")
		service := application.NewDependencyService(&testdoubles.StubRunner{})

		// when
		err := service.GenerateDescriptor(context.Background(), cfg)

		// then
		assert.ErrorContains(t, err, "is empty")
	})

	t.Run("should propagate command failures and skip the copy", func(t *testing.T) {
		t.Parallel()

		// given
		cfg := setup(t, "1.0.0")
		stubRunner := &testdoubles.StubRunner{RunErr: assert.AnError}
		service := application.NewDependencyService(stubRunner)

		// when
		err := service.GenerateDescriptor(context.Background(), cfg)

		// then
		assert.ErrorContains(t, err, "add-dependencies command failed")
		assert.NoFileExists(t, cfg.DescriptorOutPath)
	})
}
