// Package processing implements the configurable transport pipeline:
// filters select resources, processors mutate the pending upload, and
// uploaders derive the target references.
package processing

import (
	"fmt"
	"regexp"

	"github.com/gardener/cnudie-transport-tool/config"
	"github.com/gardener/cnudie-transport-tool/domain"
)

// Filter type names accepted in the processing configuration.
const (
	filterTypeMatchAll      = "MatchAllFilter"
	filterTypeComponentName = "ComponentFilter"
	filterTypeImage         = "ImageFilter"
	filterTypeResourceType  = "ResourceTypeFilter"
)

type matchAllFilter struct{}

func (matchAllFilter) Matches(domain.Component, domain.Resource) bool {
	return true
}

// componentNameFilter matches on exact component names. An empty include
// set matches every component not excluded.
type componentNameFilter struct {
	include map[string]struct{}
	exclude map[string]struct{}
}

func (f *componentNameFilter) Matches(component domain.Component, _ domain.Resource) bool {
	if _, excluded := f.exclude[component.Name]; excluded {
		return false
	}
	if len(f.include) == 0 {
		return true
	}
	_, included := f.include[component.Name]
	return included
}

// imageFilter matches OCI image references against include/exclude
// regular expressions. Resources without an OCI reference never match.
type imageFilter struct {
	include []*regexp.Regexp
	exclude []*regexp.Regexp
}

func (f *imageFilter) Matches(_ domain.Component, resource domain.Resource) bool {
	ref, ok := resource.OCIImageReference()
	if !ok {
		return false
	}
	for _, re := range f.exclude {
		if re.MatchString(ref) {
			return false
		}
	}
	if len(f.include) == 0 {
		return true
	}
	for _, re := range f.include {
		if re.MatchString(ref) {
			return true
		}
	}
	return false
}

// resourceTypeFilter matches on the resource type (e.g. ociImage).
type resourceTypeFilter struct {
	include map[string]struct{}
	exclude map[string]struct{}
}

func (f *resourceTypeFilter) Matches(_ domain.Component, resource domain.Resource) bool {
	if _, excluded := f.exclude[resource.Type]; excluded {
		return false
	}
	if len(f.include) == 0 {
		return true
	}
	_, included := f.include[resource.Type]
	return included
}

type componentFilterKwargs struct {
	IncludeComponentNames []string `yaml:"include_component_names"`
	ExcludeComponentNames []string `yaml:"exclude_component_names"`
}

type imageFilterKwargs struct {
	IncludeImageRefs []string `yaml:"include_image_refs"`
	ExcludeImageRefs []string `yaml:"exclude_image_refs"`
}

type resourceTypeFilterKwargs struct {
	IncludeResourceTypes []string `yaml:"include_resource_types"`
	ExcludeResourceTypes []string `yaml:"exclude_resource_types"`
}

// buildFilter instantiates a filter from its configuration.
func buildFilter(cfg config.TypedConfig) (domain.Filter, error) {
	switch cfg.Type {
	case filterTypeMatchAll:
		return matchAllFilter{}, nil

	case filterTypeComponentName:
		var kwargs componentFilterKwargs
		if err := config.DecodeKwargs(cfg.Kwargs, &kwargs); err != nil {
			return nil, fmt.Errorf("%s: %w", cfg.Type, err)
		}
		return &componentNameFilter{
			include: toSet(kwargs.IncludeComponentNames),
			exclude: toSet(kwargs.ExcludeComponentNames),
		}, nil

	case filterTypeImage:
		var kwargs imageFilterKwargs
		if err := config.DecodeKwargs(cfg.Kwargs, &kwargs); err != nil {
			return nil, fmt.Errorf("%s: %w", cfg.Type, err)
		}
		include, err := compileAll(kwargs.IncludeImageRefs)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", cfg.Type, err)
		}
		exclude, err := compileAll(kwargs.ExcludeImageRefs)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", cfg.Type, err)
		}
		return &imageFilter{include: include, exclude: exclude}, nil

	case filterTypeResourceType:
		var kwargs resourceTypeFilterKwargs
		if err := config.DecodeKwargs(cfg.Kwargs, &kwargs); err != nil {
			return nil, fmt.Errorf("%s: %w", cfg.Type, err)
		}
		return &resourceTypeFilter{
			include: toSet(kwargs.IncludeResourceTypes),
			exclude: toSet(kwargs.ExcludeResourceTypes),
		}, nil

	default:
		return nil, fmt.Errorf("no such filter type: %q", cfg.Type)
	}
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

func compileAll(exprs []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(exprs))
	for _, expr := range exprs {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("invalid image ref pattern %q: %w", expr, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}
