package domain

import (
	"fmt"
	"strings"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// PlatformMatcher decides whether a multi-arch image entry is kept when
// copying. A nil matcher keeps everything.
type PlatformMatcher func(ocispec.Platform) bool

// knownOS and knownArch are the valid values for the os/architecture
// properties of an OCI platform, see https://go.dev/doc/install/source#environment.
var knownOS = map[string]struct{}{
	"*": {}, "aix": {}, "android": {}, "darwin": {}, "dragonfly": {},
	"freebsd": {}, "illumos": {}, "ios": {}, "js": {}, "linux": {},
	"netbsd": {}, "openbsd": {}, "plan9": {}, "solaris": {}, "windows": {},
}

var knownArch = map[string]struct{}{
	"*": {}, "386": {}, "amd64": {}, "arm": {}, "arm64": {}, "loong64": {},
	"mips": {}, "mipsle": {}, "mips64": {}, "mips64le": {}, "ppc64": {},
	"ppc64le": {}, "riscv64": {}, "s390x": {}, "wasm": {},
}

// ParsePlatformExpr parses an os/architecture[/variant] expression.
// Each part may be the wildcard "*".
func ParsePlatformExpr(expr string) (ocispec.Platform, error) {
	parts := strings.Split(expr, "/")

	var p ocispec.Platform
	switch len(parts) {
	case 2:
		p = ocispec.Platform{OS: parts[0], Architecture: parts[1], Variant: "*"}
	case 3:
		p = ocispec.Platform{OS: parts[0], Architecture: parts[1], Variant: parts[2]}
	default:
		return ocispec.Platform{}, fmt.Errorf(
			"invalid platform expression %q: expected os/architecture[/variant]", expr,
		)
	}

	if _, ok := knownOS[p.OS]; !ok {
		return ocispec.Platform{}, fmt.Errorf("invalid platform expression %q: unknown os %q", expr, p.OS)
	}
	if _, ok := knownArch[p.Architecture]; !ok {
		return ocispec.Platform{}, fmt.Errorf(
			"invalid platform expression %q: unknown architecture %q", expr, p.Architecture,
		)
	}

	return p, nil
}

// NewPlatformMatcher builds a matcher from include expressions. A platform
// matches when at least one expression matches its normalised form.
// An empty expression list yields a nil matcher (match everything).
func NewPlatformMatcher(includedPlatforms []string) (PlatformMatcher, error) {
	if len(includedPlatforms) == 0 {
		return nil, nil
	}

	matchers := make([]ocispec.Platform, 0, len(includedPlatforms))
	for _, expr := range includedPlatforms {
		p, err := ParsePlatformExpr(expr)
		if err != nil {
			return nil, err
		}
		matchers = append(matchers, p)
	}

	return func(platform ocispec.Platform) bool {
		normalised := NormalisePlatform(platform)
		for _, m := range matchers {
			if (m.OS == "*" || m.OS == normalised.OS) &&
				(m.Architecture == "*" || m.Architecture == normalised.Architecture) &&
				(m.Variant == "*" || m.Variant == normalised.Variant) {
				return true
			}
		}
		return false
	}, nil
}

// NormalisePlatform maps os/architecture aliases onto their canonical
// values, following containerd's platform database.
func NormalisePlatform(p ocispec.Platform) ocispec.Platform {
	os := strings.ToLower(p.OS)
	if os == "macos" {
		os = "darwin"
	}

	arch := strings.ToLower(p.Architecture)
	variant := strings.ToLower(p.Variant)
	switch arch {
	case "i386":
		arch = "386"
		variant = ""
	case "x86_64", "x86-64":
		arch = "amd64"
		variant = ""
	case "aarch64", "arm64":
		arch = "arm64"
		if variant == "8" || variant == "v8" {
			variant = ""
		}
	case "armhf":
		arch = "arm"
		variant = "v7"
	case "armel":
		arch = "arm"
		variant = "v6"
	case "arm":
		switch variant {
		case "", "7":
			variant = "v7"
		case "5", "6", "8":
			variant = "v" + variant
		}
	}

	return ocispec.Platform{OS: os, Architecture: arch, Variant: variant}
}
