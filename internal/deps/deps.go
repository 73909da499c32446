package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"renderpipe/internal/config"
	"renderpipe/internal/services"
)

// Requirement defines an external dependency renderpipe relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Available = false
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		if _, err := exec.LookPath(cmd); err != nil {
			status.Available = false
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Available = true
		results = append(results, status)
	}
	return results
}

// RequirementsFor lists the external binaries a render needs under cfg.
// ffprobe is optional unless source probing is enabled.
func RequirementsFor(cfg *config.Config) []Requirement {
	probeOptional := true
	if cfg != nil {
		probeOptional = !cfg.Pipeline.ProbeSources
	}
	return []Requirement{
		{
			Name:        "FFmpeg",
			Command:     cfg.FFmpegBinary(),
			Description: "Transcoder used for every render stage",
		},
		{
			Name:        "FFprobe",
			Command:     cfg.FFprobeBinary(),
			Description: "Source inspection during validation",
			Optional:    probeOptional,
		},
	}
}

// FirstMissing converts the first unavailable required dependency into a
// *services.DependencyError. It returns nil when all required binaries resolve.
func FirstMissing(statuses []Status) error {
	for _, status := range statuses {
		if status.Available || status.Optional {
			continue
		}
		return &services.DependencyError{Binary: status.Command, Detail: status.Detail}
	}
	return nil
}
