package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
	"golang.org/x/mod/module"
	"gopkg.in/yaml.v3"
)

// SchemaVersion is the component-descriptor schema version this tool handles.
const SchemaVersion = "v2"

// Media types and file names used when a component descriptor is stored as an
// OCI artifact.
const (
	DescriptorConfigMediaType = "application/vnd.gardener.cloud.cnudie.component.config.v1+json"
	DescriptorLayerMediaType  = "application/vnd.gardener.cloud.cnudie.component-descriptor.v2+yaml+tar"
	DescriptorFileName        = "component-descriptor.yaml"
)

// AccessType identifies how a resource or repository context is reached.
type AccessType string

const (
	AccessOCIRegistry          AccessType = "ociRegistry"
	AccessRelativeOCIReference AccessType = "relativeOciReference"
	AccessLocalBlob            AccessType = "localBlob"
	AccessNone                 AccessType = "None"
)

// Metadata holds the descriptor schema information.
type Metadata struct {
	SchemaVersion string `yaml:"schemaVersion"`
}

// Label is an arbitrary name/value annotation on components and resources.
type Label struct {
	Name  string `yaml:"name"`
	Value any    `yaml:"value"`
}

// RepositoryContext points to a registry where the descriptor was (or will be)
// published. The last entry is the current context.
type RepositoryContext struct {
	Type    AccessType `yaml:"type"`
	BaseURL string     `yaml:"baseUrl"`
}

// Access describes how a resource's content is retrieved.
type Access struct {
	Type           AccessType `yaml:"type"`
	ImageReference string     `yaml:"imageReference,omitempty"`
	Reference      string     `yaml:"reference,omitempty"`
}

// Resource is an artifact delivered as part of a component.
type Resource struct {
	Name     string  `yaml:"name"`
	Version  string  `yaml:"version"`
	Type     string  `yaml:"type"`
	Relation string  `yaml:"relation,omitempty"`
	Access   Access  `yaml:"access"`
	Labels   []Label `yaml:"labels,omitempty"`
}

// Source describes where a component's code lives.
type Source struct {
	Name    string  `yaml:"name"`
	Version string  `yaml:"version"`
	Type    string  `yaml:"type"`
	Access  Access  `yaml:"access"`
	Labels  []Label `yaml:"labels,omitempty"`
}

// ComponentReference is a dependency on another component.
type ComponentReference struct {
	Name          string  `yaml:"name"`
	ComponentName string  `yaml:"componentName"`
	Version       string  `yaml:"version"`
	Labels        []Label `yaml:"labels,omitempty"`
}

// Component identifies a software component and its dependencies.
type Component struct {
	Name                string               `yaml:"name"`
	Version             string               `yaml:"version"`
	Provider            string               `yaml:"provider,omitempty"`
	RepositoryContexts  []RepositoryContext  `yaml:"repositoryContexts"`
	Sources             []Source             `yaml:"sources"`
	ComponentReferences []ComponentReference `yaml:"componentReferences"`
	Resources           []Resource           `yaml:"resources"`
	Labels              []Label              `yaml:"labels,omitempty"`
}

// ComponentDescriptor is the serialized unit published to a context repository.
type ComponentDescriptor struct {
	Metadata  Metadata  `yaml:"meta"`
	Component Component `yaml:"component"`
}

// ParseDescriptor parses a YAML-serialized component descriptor.
func ParseDescriptor(data []byte) (*ComponentDescriptor, error) {
	var cd ComponentDescriptor
	if err := yaml.Unmarshal(data, &cd); err != nil {
		return nil, fmt.Errorf("failed to parse component descriptor: %w", err)
	}
	return &cd, nil
}

// Encode serializes the descriptor back to YAML.
func (cd *ComponentDescriptor) Encode() ([]byte, error) {
	data, err := yaml.Marshal(cd)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize component descriptor: %w", err)
	}
	return data, nil
}

// Validate checks the structural invariants of the descriptor.
func (cd *ComponentDescriptor) Validate() error {
	if cd.Metadata.SchemaVersion != SchemaVersion {
		return fmt.Errorf(
			"unsupported schema version %q (expected %q)",
			cd.Metadata.SchemaVersion, SchemaVersion,
		)
	}

	c := &cd.Component
	if err := validateComponentName(c.Name); err != nil {
		return err
	}
	if err := validateVersion(c.Name, c.Version); err != nil {
		return err
	}
	if len(c.RepositoryContexts) == 0 {
		return fmt.Errorf("component %q has no repository context", c.Name)
	}

	for i, ref := range c.ComponentReferences {
		if ref.ComponentName == "" {
			return fmt.Errorf("componentReferences[%d]: componentName is required", i)
		}
		if err := validateVersion(ref.ComponentName, ref.Version); err != nil {
			return fmt.Errorf("componentReferences[%d]: %w", i, err)
		}
	}

	for i, res := range c.Resources {
		if res.Name == "" {
			return fmt.Errorf("resources[%d]: name is required", i)
		}
		if res.Access.Type == "" {
			return fmt.Errorf("resources[%d] (%s): access type is required", i, res.Name)
		}
	}

	return nil
}

// validateComponentName checks that a component name has the expected
// module-path shape (e.g. github.com/gardener/cc-utils).
func validateComponentName(name string) error {
	if name == "" {
		return errors.New("component name is required")
	}
	if err := module.CheckPath(name); err != nil {
		return fmt.Errorf("invalid component name %q: %w", name, err)
	}
	return nil
}

func validateVersion(name, version string) error {
	if version == "" {
		return fmt.Errorf("component %q: version is required", name)
	}
	if _, err := semver.NewVersion(version); err != nil {
		return fmt.Errorf("component %q: invalid version %q: %w", name, version, err)
	}
	return nil
}

// CurrentRepositoryContext returns the context the descriptor was most
// recently published to.
func (c *Component) CurrentRepositoryContext() (RepositoryContext, bool) {
	if len(c.RepositoryContexts) == 0 {
		return RepositoryContext{}, false
	}
	return c.RepositoryContexts[len(c.RepositoryContexts)-1], true
}

// AppendRepositoryContext records a new current context. Appending the
// context that is already current is a no-op.
func (c *Component) AppendRepositoryContext(baseURL string) {
	if current, ok := c.CurrentRepositoryContext(); ok && current.BaseURL == baseURL {
		return
	}
	c.RepositoryContexts = append(c.RepositoryContexts, RepositoryContext{
		Type:    AccessOCIRegistry,
		BaseURL: baseURL,
	})
}

// OCIImageReference returns the image reference of an OCI-accessible
// resource, or false for other access types.
func (r *Resource) OCIImageReference() (string, bool) {
	switch r.Access.Type {
	case AccessOCIRegistry:
		return r.Access.ImageReference, r.Access.ImageReference != ""
	case AccessRelativeOCIReference:
		return r.Access.Reference, r.Access.Reference != ""
	default:
		return "", false
	}
}

// WithImageReference returns a copy of the resource pointing at the given
// reference, preserving the access type.
func (r Resource) WithImageReference(ref string) Resource {
	switch r.Access.Type {
	case AccessRelativeOCIReference:
		r.Access = Access{Type: AccessRelativeOCIReference, Reference: ref}
	default:
		r.Access = Access{Type: AccessOCIRegistry, ImageReference: ref}
	}
	return r
}

// WithLabel returns a copy of the resource with the given label set,
// replacing an existing label of the same name.
func (r Resource) WithLabel(label Label) Resource {
	labels := make([]Label, 0, len(r.Labels)+1)
	for _, l := range r.Labels {
		if l.Name != label.Name {
			labels = append(labels, l)
		}
	}
	r.Labels = append(labels, label)
	return r
}

// Identity returns the name:version identity of a resource within its
// component.
func (r *Resource) Identity() string {
	return r.Name + ":" + r.Version
}

// ComponentID identifies a component by name and version.
type ComponentID struct {
	Name    string
	Version string
}

func (id ComponentID) String() string {
	return id.Name + ":" + id.Version
}

// ID returns the component's identity.
func (c *Component) ID() ComponentID {
	return ComponentID{Name: c.Name, Version: c.Version}
}

// DescriptorRepositoryPath returns the repository path (below a context
// repository base URL) under which a component's descriptors are published.
func DescriptorRepositoryPath(ctxBaseURL, componentName string) string {
	base := strings.TrimSuffix(ctxBaseURL, "/")
	base = strings.TrimPrefix(base, "https://")
	base = strings.TrimPrefix(base, "http://")
	return base + "/component-descriptors/" + strings.ToLower(componentName)
}
