// Package config builds explicit configuration structs from the process
// environment and from YAML files. All validation happens eagerly at
// construction; components never read ambient environment state themselves.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// Well-known component names and files of the surrounding CI flows.
const (
	OwnComponentName     = "github.com/gardener/cnudie-transport-tool"
	CCUtilsComponentName = "github.com/gardener/cc-utils"
	CCUtilsVersionFile   = "CC_UTILS_VERSION"
)

// Environment variable names read by the CI glue commands.
const (
	EnvSourcePath         = "SOURCE_PATH"
	EnvComponentName      = "COMPONENT_NAME"
	EnvDependencyName     = "DEPENDENCY_NAME"
	EnvDependencyVersion  = "DEPENDENCY_VERSION"
	EnvPipelineName       = "PIPELINE_NAME"
	EnvReleaseJobName     = "RELEASE_JOB_NAME"
	EnvAddDependenciesCmd = "ADD_DEPENDENCIES_CMD"
	EnvBaseDefinitionPath = "BASE_DEFINITION_PATH"
	EnvDescriptorPath     = "COMPONENT_DESCRIPTOR_PATH"
	EnvCtxRepoURL         = "CTX_REPO_URL"
	EnvConcourseURL       = "CONCOURSE_URL"
	EnvConcourseTeam      = "CONCOURSE_TEAM"
	EnvConcourseToken     = "CONCOURSE_TOKEN"
	EnvRBSCGitToken       = "RBSC_GIT_TOKEN"
)

// RBSCGitTokenFromEnv returns the token used to push the bill of materials.
// Empty means anonymous access.
func RBSCGitTokenFromEnv() string {
	return os.Getenv(EnvRBSCGitToken)
}

// ConcourseConfig locates the CI control plane used to trigger release jobs.
type ConcourseConfig struct {
	URL   string
	Team  string
	Token string
}

// ReleaseDiffConfig configures the release-diff flow.
type ReleaseDiffConfig struct {
	ComponentName  string
	DescriptorPath string
	CtxRepoURL     string
	PipelineName   string
	ReleaseJobName string
	Concourse      ConcourseConfig
}

// ReleaseDiffFromEnv reads and validates the release-diff configuration.
func ReleaseDiffFromEnv() (*ReleaseDiffConfig, error) {
	env := newEnvReader()
	cfg := &ReleaseDiffConfig{
		ComponentName:  env.require(EnvComponentName),
		DescriptorPath: env.require(EnvDescriptorPath),
		CtxRepoURL:     env.require(EnvCtxRepoURL),
		PipelineName:   env.require(EnvPipelineName),
		ReleaseJobName: env.require(EnvReleaseJobName),
		Concourse: ConcourseConfig{
			URL:   env.require(EnvConcourseURL),
			Team:  env.require(EnvConcourseTeam),
			Token: env.require(EnvConcourseToken),
		},
	}
	if err := env.err(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DependencyVersionConfig configures the set-dependency-version step.
type DependencyVersionConfig struct {
	SourcePath        string
	ComponentName     string
	DependencyName    string
	DependencyVersion string
}

// DependencyVersionFromEnv reads and validates the set-dependency-version
// configuration.
func DependencyVersionFromEnv() (*DependencyVersionConfig, error) {
	env := newEnvReader()
	cfg := &DependencyVersionConfig{
		SourcePath:        env.require(EnvSourcePath),
		ComponentName:     env.require(EnvComponentName),
		DependencyName:    env.require(EnvDependencyName),
		DependencyVersion: env.require(EnvDependencyVersion),
	}
	if err := env.err(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// GenerateDescriptorConfig configures the descriptor-generation step.
type GenerateDescriptorConfig struct {
	SourcePath         string
	AddDependenciesCmd string
	BaseDefinitionPath string
	DescriptorOutPath  string
}

// GenerateDescriptorFromEnv reads and validates the descriptor-generation
// configuration.
func GenerateDescriptorFromEnv() (*GenerateDescriptorConfig, error) {
	env := newEnvReader()
	cfg := &GenerateDescriptorConfig{
		SourcePath:         env.require(EnvSourcePath),
		AddDependenciesCmd: env.require(EnvAddDependenciesCmd),
		BaseDefinitionPath: env.require(EnvBaseDefinitionPath),
		DescriptorOutPath:  env.require(EnvDescriptorPath),
	}
	if err := env.err(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envReader collects missing-variable errors so a single invocation reports
// every problem at once.
type envReader struct {
	missing []string
}

func newEnvReader() *envReader {
	return &envReader{}
}

func (e *envReader) require(name string) string {
	value, ok := os.LookupEnv(name)
	if !ok || value == "" {
		e.missing = append(e.missing, name)
		return ""
	}
	return value
}

func (e *envReader) err() error {
	if len(e.missing) == 0 {
		return nil
	}
	return fmt.Errorf(
		"missing required environment variable(s): %s",
		strings.Join(e.missing, ", "),
	)
}

// envVarPattern matches ${VAR_NAME} placeholders.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)}`)

// expandEnv replaces ${VAR} references with the variable's value. Unset
// variables expand to the empty string.
func expandEnv(raw string) string {
	return envVarPattern.ReplaceAllStringFunc(raw, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
