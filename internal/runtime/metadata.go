// metadata.go parses the "# @workflow key: value" annotation header
// spec.md §6 describes and checks it against the running kernel's
// version, the Go translation of original_source's workflow example
// headers (examples/workflow_extract.py, examples/workflow_login.py).
package runtime

import (
	"fmt"
	"strconv"
	"strings"
)

// WorkflowMetadata is the parsed annotation header of a workflow script.
type WorkflowMetadata struct {
	Name              string
	MinKernelVersion  string
	MaxKernelVersion  string
	RequiredCapabilities []string
}

// ParseMetadata scans the leading "# @workflow key: value" lines of
// source, stopping at the first non-comment, non-annotation line.
func ParseMetadata(source string) WorkflowMetadata {
	meta := WorkflowMetadata{}
	lines := strings.Split(source, "\n")
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if !strings.HasPrefix(trimmed, "// @workflow") && !strings.HasPrefix(trimmed, "# @workflow") {
			if strings.HasPrefix(trimmed, "//") || strings.HasPrefix(trimmed, "#") {
				continue
			}
			break
		}
		rest := strings.TrimPrefix(trimmed, "// @workflow")
		rest = strings.TrimPrefix(rest, "# @workflow")
		rest = strings.TrimSpace(rest)
		parts := strings.SplitN(rest, ":", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		switch key {
		case "name":
			meta.Name = value
		case "min_kernel_version":
			meta.MinKernelVersion = value
		case "max_kernel_version":
			meta.MaxKernelVersion = value
		case "requires":
			meta.RequiredCapabilities = strings.Fields(value)
		}
	}
	return meta
}

// CheckVersionCompatible reports whether kernelVersion satisfies the
// metadata's min/max bounds using simple semver-style (major.minor.patch)
// numeric comparison.
func (m WorkflowMetadata) CheckVersionCompatible(kernelVersion string) error {
	if m.MinKernelVersion != "" && compareSemver(kernelVersion, m.MinKernelVersion) < 0 {
		return fmt.Errorf("workflow requires kernel >= %s, running %s", m.MinKernelVersion, kernelVersion)
	}
	if m.MaxKernelVersion != "" && compareSemver(kernelVersion, m.MaxKernelVersion) > 0 {
		return fmt.Errorf("workflow requires kernel <= %s, running %s", m.MaxKernelVersion, kernelVersion)
	}
	return nil
}

// compareSemver compares two "major.minor.patch" strings, returning -1,
// 0, or 1. Missing components are treated as 0.
func compareSemver(a, b string) int {
	pa, pb := semverParts(a), semverParts(b)
	for i := 0; i < 3; i++ {
		if pa[i] != pb[i] {
			if pa[i] < pb[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

func semverParts(v string) [3]int {
	var out [3]int
	fields := strings.SplitN(v, ".", 3)
	for i := 0; i < len(fields) && i < 3; i++ {
		n, err := strconv.Atoi(fields[i])
		if err == nil {
			out[i] = n
		}
	}
	return out
}
