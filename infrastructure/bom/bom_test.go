package bom_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/gardener/cnudie-transport-tool/domain"
	"github.com/gardener/cnudie-transport-tool/infrastructure/bom"
)

func TestMarshalEntries(t *testing.T) {
	t.Parallel()

	t.Run("should serialize entries under the resources key", func(t *testing.T) {
		t.Parallel()

		// given
		entries := []domain.BOMEntry{
			{Ref: "registry.internal/copies/img:1.0.0", Type: domain.BOMEntryTypeDocker, Name: "img"},
		}

		// when
		data, err := bom.MarshalEntries(entries)

		// then
		require.NoError(t, err)

		var decoded struct {
			Resources []domain.BOMEntry `yaml:"resources"`
		}
		require.NoError(t, yaml.Unmarshal(data, &decoded))
		assert.Equal(t, entries, decoded.Resources)
	})

	t.Run("should dedupe by ref and sort", func(t *testing.T) {
		t.Parallel()

		// given
		entries := []domain.BOMEntry{
			{Ref: "z.io/img:1", Type: domain.BOMEntryTypeDocker, Name: "z"},
			{Ref: "a.io/img:1", Type: domain.BOMEntryTypeDocker, Name: "a"},
			{Ref: "z.io/img:1", Type: domain.BOMEntryTypeDocker, Name: "z-duplicate"},
		}

		// when
		data, err := bom.MarshalEntries(entries)

		// then
		require.NoError(t, err)

		var decoded struct {
			Resources []domain.BOMEntry `yaml:"resources"`
		}
		require.NoError(t, yaml.Unmarshal(data, &decoded))
		require.Len(t, decoded.Resources, 2)
		assert.Equal(t, "a.io/img:1", decoded.Resources[0].Ref)
		assert.Equal(t, "z.io/img:1", decoded.Resources[1].Ref)
		assert.Equal(t, "z", decoded.Resources[1].Name)
	})

	t.Run("should produce identical output for identical input", func(t *testing.T) {
		t.Parallel()

		// given
		entries := []domain.BOMEntry{
			{Ref: "b.io/img:1", Type: domain.BOMEntryTypeDocker, Name: "b"},
			{Ref: "a.io/img:1", Type: domain.BOMEntryTypeDocker, Name: "a"},
		}

		// when
		first, err := bom.MarshalEntries(entries)
		require.NoError(t, err)
		second, err := bom.MarshalEntries(entries)

		// then
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})
}
