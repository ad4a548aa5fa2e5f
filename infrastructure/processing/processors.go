package processing

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gardener/cnudie-transport-tool/config"
	"github.com/gardener/cnudie-transport-tool/domain"
)

// Processor type names accepted in the processing configuration.
const (
	processorTypeNoOp       = "NoOpProcessor"
	processorTypeFileFilter = "FileFilter"
)

type noOpProcessor struct{}

func (noOpProcessor) Process(job domain.ProcessingJob) (domain.ProcessingJob, error) {
	return job, nil
}

// fileFilterProcessor marks files for removal from image layers. The file
// list is loaded from a filter file: one path per line, '#' comments.
type fileFilterProcessor struct {
	files []string
}

func (p *fileFilterProcessor) Process(job domain.ProcessingJob) (domain.ProcessingJob, error) {
	job.UploadRequest.RemoveFiles = append(job.UploadRequest.RemoveFiles, p.files...)
	return job, nil
}

type fileFilterKwargs struct {
	FilterFiles string `yaml:"filter_files"`
}

// buildProcessor instantiates a processor from its configuration. Relative
// filter-file paths are resolved against baseDir (the config's directory).
func buildProcessor(cfg config.TypedConfig, baseDir string) (domain.Processor, error) {
	switch cfg.Type {
	case processorTypeNoOp:
		return noOpProcessor{}, nil

	case processorTypeFileFilter:
		var kwargs fileFilterKwargs
		if err := config.DecodeKwargs(cfg.Kwargs, &kwargs); err != nil {
			return nil, fmt.Errorf("%s: %w", cfg.Type, err)
		}
		if kwargs.FilterFiles == "" {
			return nil, fmt.Errorf("%s: filter_files is required", cfg.Type)
		}
		files, err := loadFilterFile(kwargs.FilterFiles, baseDir)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", cfg.Type, err)
		}
		return &fileFilterProcessor{files: files}, nil

	default:
		return nil, fmt.Errorf("no such image processor: %q", cfg.Type)
	}
}

func loadFilterFile(path, baseDir string) ([]string, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read filter file %q: %w", path, err)
	}

	var files []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		files = append(files, line)
	}
	return files, nil
}
