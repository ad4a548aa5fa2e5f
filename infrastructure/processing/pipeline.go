package processing

import (
	"fmt"

	logger "github.com/sirupsen/logrus"

	"github.com/gardener/cnudie-transport-tool/config"
	"github.com/gardener/cnudie-transport-tool/domain"
)

// Pipeline is one instantiated processing rule: filters decide whether a
// resource is handled, the processor prepares the upload, the uploaders
// derive the target references.
type Pipeline struct {
	name      string
	filters   []domain.Filter
	processor domain.Processor
	uploaders []domain.Uploader
}

// Name returns the rule name from the configuration.
func (p *Pipeline) Name() string {
	return p.name
}

// Matches reports whether every filter accepts the resource.
func (p *Pipeline) Matches(component domain.Component, resource domain.Resource) bool {
	for _, f := range p.filters {
		if !f.Matches(component, resource) {
			return false
		}
	}
	return true
}

// Process runs the pipeline on a resource. It returns nil when the pipeline
// does not match. Processed resources carry the processing-rules label.
func (p *Pipeline) Process(component domain.Component, resource domain.Resource) (*domain.ProcessingJob, error) {
	if !p.Matches(component, resource) {
		return nil, nil
	}

	logger.Infof("%s will process: %s:%s:%s", p.name, component.Name, resource.Type, resource.Name)

	job := domain.ProcessingJob{
		Component: component,
		Resource:  resource,
	}

	job, err := p.processor.Process(job)
	if err != nil {
		return nil, fmt.Errorf("pipeline %s: processor failed for %s: %w", p.name, resource.Name, err)
	}

	first := true
	for _, uploader := range p.uploaders {
		job, err = uploader.Process(job, !first)
		if err != nil {
			return nil, fmt.Errorf("pipeline %s: uploader failed for %s: %w", p.name, resource.Name, err)
		}
		first = false
	}

	labeled := job.Resource
	if job.ProcessedResource != nil {
		labeled = *job.ProcessedResource
	}
	labeled = labeled.WithLabel(domain.Label{
		Name:  domain.ProcessingRulesLabel,
		Value: map[string]any{"processingRules": []string{p.name}},
	})
	job.ProcessedResource = &labeled

	return &job, nil
}

// BuildPipelines instantiates every rule of a processing configuration,
// resolving shared processor and uploader references.
func BuildPipelines(cfg *config.ProcessingConfig) ([]*Pipeline, error) {
	sharedProcessors := make(map[string]domain.Processor, len(cfg.Processors))
	for name, pCfg := range cfg.Processors {
		p, err := buildProcessor(pCfg, cfg.BaseDir)
		if err != nil {
			return nil, fmt.Errorf("shared processor %q: %w", name, err)
		}
		sharedProcessors[name] = p
	}

	sharedUploaders := make(map[string]domain.Uploader, len(cfg.Uploaders))
	for name, uCfg := range cfg.Uploaders {
		u, err := buildUploader(uCfg)
		if err != nil {
			return nil, fmt.Errorf("shared uploader %q: %w", name, err)
		}
		sharedUploaders[name] = u
	}

	pipelines := make([]*Pipeline, 0, len(cfg.Rules))
	for _, rule := range cfg.Rules {
		pipeline, err := buildPipeline(rule, cfg.BaseDir, sharedProcessors, sharedUploaders)
		if err != nil {
			return nil, err
		}
		pipelines = append(pipelines, pipeline)
	}
	return pipelines, nil
}

func buildPipeline(
	rule config.ProcessingRule,
	baseDir string,
	sharedProcessors map[string]domain.Processor,
	sharedUploaders map[string]domain.Uploader,
) (*Pipeline, error) {
	filters := make([]domain.Filter, 0, len(rule.Filter))
	for _, fCfg := range rule.Filter {
		if fCfg.Inline == nil {
			return nil, fmt.Errorf("rule %q: filters cannot be shared references", rule.Name)
		}
		f, err := buildFilter(*fCfg.Inline)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", rule.Name, err)
		}
		filters = append(filters, f)
	}

	var processor domain.Processor = noOpProcessor{}
	if rule.Processor != nil {
		if rule.Processor.Ref != "" {
			shared, ok := sharedProcessors[rule.Processor.Ref]
			if !ok {
				return nil, fmt.Errorf("rule %q: no such shared processor %q", rule.Name, rule.Processor.Ref)
			}
			processor = shared
		} else {
			built, err := buildProcessor(*rule.Processor.Inline, baseDir)
			if err != nil {
				return nil, fmt.Errorf("rule %q: %w", rule.Name, err)
			}
			processor = built
		}
	}

	uploaders := make([]domain.Uploader, 0, len(rule.Upload))
	for _, uCfg := range rule.Upload {
		if uCfg.Ref != "" {
			shared, ok := sharedUploaders[uCfg.Ref]
			if !ok {
				return nil, fmt.Errorf("rule %q: no such shared uploader %q", rule.Name, uCfg.Ref)
			}
			uploaders = append(uploaders, shared)
			continue
		}
		built, err := buildUploader(*uCfg.Inline)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", rule.Name, err)
		}
		uploaders = append(uploaders, built)
	}

	return &Pipeline{
		name:      rule.Name,
		filters:   filters,
		processor: processor,
		uploaders: uploaders,
	}, nil
}
