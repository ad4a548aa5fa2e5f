package registry

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/Masterminds/semver/v3"
	specs "github.com/opencontainers/image-spec/specs-go"

	"github.com/gardener/cnudie-transport-tool/domain"
)

var manifestVersioned = specs.Versioned{SchemaVersion: 2}

// buildDescriptorArchive wraps a serialized descriptor into the tar layout
// expected for descriptor OCI layers.
func buildDescriptorArchive(descriptorYAML []byte) ([]byte, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	header := &tar.Header{
		Name: domain.DescriptorFileName,
		Mode: 0o644,
		Size: int64(len(descriptorYAML)),
	}
	if err := tw.WriteHeader(header); err != nil {
		return nil, fmt.Errorf("failed to write descriptor archive header: %w", err)
	}
	if _, err := tw.Write(descriptorYAML); err != nil {
		return nil, fmt.Errorf("failed to write descriptor archive: %w", err)
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize descriptor archive: %w", err)
	}

	return buf.Bytes(), nil
}

// extractDescriptorArchive returns the serialized descriptor from a
// descriptor layer archive.
func extractDescriptorArchive(layerData []byte) ([]byte, error) {
	tr := tar.NewReader(bytes.NewReader(layerData))
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("descriptor layer contains no %s", domain.DescriptorFileName)
		}
		if err != nil {
			return nil, fmt.Errorf("malformed descriptor layer: %w", err)
		}

		name := strings.TrimPrefix(header.Name, "./")
		if name != domain.DescriptorFileName {
			continue
		}

		data, readErr := io.ReadAll(tr)
		if readErr != nil {
			return nil, fmt.Errorf("failed to read %s from descriptor layer: %w", name, readErr)
		}
		return data, nil
	}
}

// greatestVersion returns the greatest semver-parseable tag, preserving the
// tag's original spelling. Non-semver tags are skipped.
func greatestVersion(tags []string) (string, error) {
	var (
		greatest    *semver.Version
		greatestTag string
	)
	for _, tag := range tags {
		version, err := semver.NewVersion(tag)
		if err != nil {
			continue
		}
		if greatest == nil || version.GreaterThan(greatest) {
			greatest = version
			greatestTag = tag
		}
	}

	if greatest == nil {
		return "", domain.ErrNoReleasedVersion
	}
	return greatestTag, nil
}
