package registry

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	logger "github.com/sirupsen/logrus"
	oras "oras.land/oras-go/v2"
	"oras.land/oras-go/v2/content"
	"oras.land/oras-go/v2/errdef"
	"oras.land/oras-go/v2/registry/remote"

	"github.com/gardener/cnudie-transport-tool/domain"
)

const (
	dockerManifestListMediaType = "application/vnd.docker.distribution.manifest.list.v2+json"
	dockerManifestMediaType     = "application/vnd.docker.distribution.manifest.v2+json"
)

// CopyArtifact copies one OCI artifact from its source to its target
// reference and returns the target content digest. With remove-files or a
// platform matcher set, manifests and layers are rewritten instead of
// copied verbatim.
func (c *Client) CopyArtifact(
	ctx context.Context,
	req domain.UploadRequest,
	mode domain.UploadMode,
	keep domain.PlatformMatcher,
) (string, error) {
	srcRepo, srcRef, err := c.repository(req.SourceRef)
	if err != nil {
		return "", err
	}
	tgtRepo, tgtRef, err := c.repository(req.TargetRef)
	if err != nil {
		return "", err
	}

	existing, resolveErr := tgtRepo.Resolve(ctx, tgtRef.Reference)
	switch {
	case resolveErr == nil && mode == domain.UploadModeSkip:
		logger.Infof("%s exists - skipping copy", req.TargetRef)
		return existing.Digest.String(), nil
	case resolveErr == nil && mode == domain.UploadModeFail:
		return "", fmt.Errorf("target %s already exists", req.TargetRef)
	case resolveErr != nil && !errors.Is(resolveErr, errdef.ErrNotFound):
		return "", fmt.Errorf("failed to check target %s: %w", req.TargetRef, resolveErr)
	}

	logger.Infof("start processing %s -> %s", req.SourceRef, req.TargetRef)

	if len(req.RemoveFiles) == 0 && keep == nil {
		desc, copyErr := oras.Copy(ctx, srcRepo, srcRef.Reference, tgtRepo, tgtRef.Reference, oras.DefaultCopyOptions)
		if copyErr != nil {
			return "", fmt.Errorf("failed to copy %s -> %s: %w", req.SourceRef, req.TargetRef, copyErr)
		}
		logger.Infof("finished processing %s -> %s", req.SourceRef, req.TargetRef)
		return desc.Digest.String(), nil
	}

	rootDesc, err := srcRepo.Resolve(ctx, srcRef.Reference)
	if err != nil {
		return "", fmt.Errorf("failed to resolve source %s: %w", req.SourceRef, err)
	}

	newDesc, manifestData, err := c.rewriteTree(ctx, srcRepo, tgtRepo, rootDesc, req.RemoveFiles, keep)
	if err != nil {
		return "", fmt.Errorf("failed to process %s -> %s: %w", req.SourceRef, req.TargetRef, err)
	}

	if err := tgtRepo.PushReference(ctx, newDesc, bytes.NewReader(manifestData), tgtRef.Reference); err != nil {
		return "", fmt.Errorf("failed to push %s: %w", req.TargetRef, err)
	}

	logger.Infof("finished processing %s -> %s", req.SourceRef, req.TargetRef)
	return newDesc.Digest.String(), nil
}

// rewriteTree copies a manifest (or index) subtree from src to tgt,
// filtering index entries by platform and removing files from tar layers.
// The rewritten top-level manifest is returned unpushed so the caller can
// attach the target tag.
func (c *Client) rewriteTree(
	ctx context.Context,
	src, tgt *remote.Repository,
	desc ocispec.Descriptor,
	removeFiles []string,
	keep domain.PlatformMatcher,
) (ocispec.Descriptor, []byte, error) {
	data, err := content.FetchAll(ctx, src, desc)
	if err != nil {
		return ocispec.Descriptor{}, nil, fmt.Errorf("failed to fetch manifest %s: %w", desc.Digest, err)
	}

	switch {
	case isIndexMediaType(desc.MediaType):
		return c.rewriteIndex(ctx, src, tgt, desc, data, removeFiles, keep)
	case isManifestMediaType(desc.MediaType):
		return c.rewriteManifest(ctx, src, tgt, desc, data, removeFiles)
	default:
		return ocispec.Descriptor{}, nil, fmt.Errorf("unsupported manifest media type %q", desc.MediaType)
	}
}

func (c *Client) rewriteIndex(
	ctx context.Context,
	src, tgt *remote.Repository,
	desc ocispec.Descriptor,
	data []byte,
	removeFiles []string,
	keep domain.PlatformMatcher,
) (ocispec.Descriptor, []byte, error) {
	var index ocispec.Index
	if err := json.Unmarshal(data, &index); err != nil {
		return ocispec.Descriptor{}, nil, fmt.Errorf("failed to parse index %s: %w", desc.Digest, err)
	}

	children := make([]ocispec.Descriptor, 0, len(index.Manifests))
	for _, child := range index.Manifests {
		if keep != nil && child.Platform != nil && !keep(*child.Platform) {
			logger.Debugf("platform %s/%s filtered from %s", child.Platform.OS, child.Platform.Architecture, desc.Digest)
			continue
		}

		newChild, childData, err := c.rewriteTree(ctx, src, tgt, child, removeFiles, nil)
		if err != nil {
			return ocispec.Descriptor{}, nil, err
		}
		if pushErr := tgt.Manifests().Push(ctx, newChild, bytes.NewReader(childData)); pushErr != nil {
			return ocispec.Descriptor{}, nil, fmt.Errorf("failed to push child manifest %s: %w", newChild.Digest, pushErr)
		}

		newChild.Platform = child.Platform
		newChild.Annotations = child.Annotations
		children = append(children, newChild)
	}
	if len(children) == 0 {
		return ocispec.Descriptor{}, nil, fmt.Errorf("platform filter removed every entry of index %s", desc.Digest)
	}
	index.Manifests = children

	newData, err := json.Marshal(index)
	if err != nil {
		return ocispec.Descriptor{}, nil, fmt.Errorf("failed to serialize index: %w", err)
	}
	newDesc := content.NewDescriptorFromBytes(desc.MediaType, newData)
	newDesc.Annotations = desc.Annotations

	return newDesc, newData, nil
}

func (c *Client) rewriteManifest(
	ctx context.Context,
	src, tgt *remote.Repository,
	desc ocispec.Descriptor,
	data []byte,
	removeFiles []string,
) (ocispec.Descriptor, []byte, error) {
	var manifest ocispec.Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return ocispec.Descriptor{}, nil, fmt.Errorf("failed to parse manifest %s: %w", desc.Digest, err)
	}

	if err := c.copyBlob(ctx, src, tgt, manifest.Config); err != nil {
		return ocispec.Descriptor{}, nil, err
	}

	layers := make([]ocispec.Descriptor, 0, len(manifest.Layers))
	for _, layer := range manifest.Layers {
		if len(removeFiles) == 0 || !isTarLayerMediaType(layer.MediaType) {
			if err := c.copyBlob(ctx, src, tgt, layer); err != nil {
				return ocispec.Descriptor{}, nil, err
			}
			layers = append(layers, layer)
			continue
		}

		layerData, err := content.FetchAll(ctx, src.Blobs(), layer)
		if err != nil {
			return ocispec.Descriptor{}, nil, fmt.Errorf("failed to fetch layer %s: %w", layer.Digest, err)
		}

		filtered, err := filterArchive(layerData, layer.MediaType, removeFiles)
		if err != nil {
			return ocispec.Descriptor{}, nil, fmt.Errorf("failed to filter layer %s: %w", layer.Digest, err)
		}

		newLayer := content.NewDescriptorFromBytes(layer.MediaType, filtered)
		newLayer.Annotations = layer.Annotations
		if err := tgt.Blobs().Push(ctx, newLayer, bytes.NewReader(filtered)); err != nil {
			return ocispec.Descriptor{}, nil, fmt.Errorf("failed to push filtered layer %s: %w", newLayer.Digest, err)
		}
		layers = append(layers, newLayer)
	}
	manifest.Layers = layers

	newData, err := json.Marshal(manifest)
	if err != nil {
		return ocispec.Descriptor{}, nil, fmt.Errorf("failed to serialize manifest: %w", err)
	}
	newDesc := content.NewDescriptorFromBytes(desc.MediaType, newData)
	newDesc.Annotations = desc.Annotations

	return newDesc, newData, nil
}

// copyBlob transfers a single blob unless the target already has it.
func (c *Client) copyBlob(ctx context.Context, src, tgt *remote.Repository, desc ocispec.Descriptor) error {
	exists, err := tgt.Blobs().Exists(ctx, desc)
	if err == nil && exists {
		return nil
	}

	reader, err := src.Blobs().Fetch(ctx, desc)
	if err != nil {
		return fmt.Errorf("failed to fetch blob %s: %w", desc.Digest, err)
	}
	defer reader.Close()

	if err := tgt.Blobs().Push(ctx, desc, reader); err != nil {
		return fmt.Errorf("failed to push blob %s: %w", desc.Digest, err)
	}
	return nil
}

// filterArchive removes the named files from a (possibly gzipped) tar layer.
func filterArchive(data []byte, mediaType string, removeFiles []string) ([]byte, error) {
	remove := make(map[string]struct{}, len(removeFiles))
	for _, f := range removeFiles {
		remove[normalizeArchivePath(f)] = struct{}{}
	}

	gzipped := isGzippedMediaType(mediaType)

	var reader io.Reader = bytes.NewReader(data)
	if gzipped {
		gz, err := gzip.NewReader(reader)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress layer: %w", err)
		}
		defer gz.Close()
		reader = gz
	}

	var out bytes.Buffer
	var writer io.Writer = &out
	var gzWriter *gzip.Writer
	if gzipped {
		gzWriter = gzip.NewWriter(&out)
		writer = gzWriter
	}

	tr := tar.NewReader(reader)
	tw := tar.NewWriter(writer)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("malformed tar layer: %w", err)
		}

		if _, skip := remove[normalizeArchivePath(header.Name)]; skip {
			logger.Debugf("removing %s from layer", header.Name)
			continue
		}

		if err := tw.WriteHeader(header); err != nil {
			return nil, fmt.Errorf("failed to write tar header: %w", err)
		}
		if _, err := io.Copy(tw, tr); err != nil {
			return nil, fmt.Errorf("failed to copy tar entry %s: %w", header.Name, err)
		}
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize tar layer: %w", err)
	}
	if gzWriter != nil {
		if err := gzWriter.Close(); err != nil {
			return nil, fmt.Errorf("failed to compress layer: %w", err)
		}
	}

	return out.Bytes(), nil
}

func normalizeArchivePath(path string) string {
	path = strings.TrimPrefix(path, "./")
	return strings.TrimPrefix(path, "/")
}

func isIndexMediaType(mediaType string) bool {
	return mediaType == ocispec.MediaTypeImageIndex || mediaType == dockerManifestListMediaType
}

func isManifestMediaType(mediaType string) bool {
	return mediaType == ocispec.MediaTypeImageManifest || mediaType == dockerManifestMediaType
}

func isTarLayerMediaType(mediaType string) bool {
	return strings.Contains(mediaType, ".tar") || strings.HasSuffix(mediaType, "tar+gzip")
}

func isGzippedMediaType(mediaType string) bool {
	return strings.HasSuffix(mediaType, "gzip")
}
