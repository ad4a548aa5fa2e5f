package domain

import "sort"

// DiffPair reports a component whose version changed between two
// descriptors. Left is always the previously released side, Right the
// current one.
type DiffPair struct {
	Left  ComponentID
	Right ComponentID
}

// DescriptorDiff is the result of comparing the dependency sets of two
// component descriptors.
type DescriptorDiff struct {
	// VersionChanged lists components present on both sides with
	// differing versions.
	VersionChanged []DiffPair
	// OnlyInLeft lists components that disappeared from the current
	// descriptor.
	OnlyInLeft []ComponentID
	// OnlyInRight lists components newly added in the current descriptor.
	OnlyInRight []ComponentID
}

// Empty reports whether the two dependency sets are identical.
func (d DescriptorDiff) Empty() bool {
	return len(d.VersionChanged) == 0 && len(d.OnlyInLeft) == 0 && len(d.OnlyInRight) == 0
}

// Diff compares the component dependency sets of left (prior release) and
// right (current). Components named in ignore never appear in the result.
// The result is deterministic: all slices are sorted by component name.
func Diff(left, right *ComponentDescriptor, ignore ...string) DescriptorDiff {
	ignored := make(map[string]struct{}, len(ignore))
	for _, name := range ignore {
		ignored[name] = struct{}{}
	}

	leftDeps := dependencyVersions(left, ignored)
	rightDeps := dependencyVersions(right, ignored)

	var diff DescriptorDiff
	for name, leftVersion := range leftDeps {
		rightVersion, ok := rightDeps[name]
		if !ok {
			diff.OnlyInLeft = append(diff.OnlyInLeft, ComponentID{Name: name, Version: leftVersion})
			continue
		}
		if leftVersion != rightVersion {
			diff.VersionChanged = append(diff.VersionChanged, DiffPair{
				Left:  ComponentID{Name: name, Version: leftVersion},
				Right: ComponentID{Name: name, Version: rightVersion},
			})
		}
	}
	for name, rightVersion := range rightDeps {
		if _, ok := leftDeps[name]; !ok {
			diff.OnlyInRight = append(diff.OnlyInRight, ComponentID{Name: name, Version: rightVersion})
		}
	}

	sort.Slice(diff.VersionChanged, func(i, j int) bool {
		return diff.VersionChanged[i].Left.Name < diff.VersionChanged[j].Left.Name
	})
	sort.Slice(diff.OnlyInLeft, func(i, j int) bool {
		return diff.OnlyInLeft[i].Name < diff.OnlyInLeft[j].Name
	})
	sort.Slice(diff.OnlyInRight, func(i, j int) bool {
		return diff.OnlyInRight[i].Name < diff.OnlyInRight[j].Name
	})

	return diff
}

// dependencyVersions collects the component references of a descriptor as a
// name -> version map. A later reference to the same component wins.
func dependencyVersions(cd *ComponentDescriptor, ignored map[string]struct{}) map[string]string {
	deps := make(map[string]string, len(cd.Component.ComponentReferences))
	for _, ref := range cd.Component.ComponentReferences {
		if _, skip := ignored[ref.ComponentName]; skip {
			continue
		}
		deps[ref.ComponentName] = ref.Version
	}
	return deps
}
