package planner

import (
	"context"
	"fmt"

	"github.com/jmylchreest/avatarstreamd/internal/domain"
)

// VideoSpecProber resolves a motion clip's video characteristics.
type VideoSpecProber interface {
	GetVideoSpec(ctx context.Context, path string) (domain.VideoSpec, error)
}

// SpecMismatch names one clip whose video spec disagrees with the preset's
// majority spec.
type SpecMismatch struct {
	ClipID string
	Spec   domain.VideoSpec
}

// SpecReport is the remediation report produced by ValidateMotionSpecs. It
// is advisory only: callers log it and continue, they never fail a preset
// load because of it.
type SpecReport struct {
	MajoritySpec domain.VideoSpec
	MajorityCount int
	Mismatches    []SpecMismatch
}

// ValidateMotionSpecs probes every clip in a preset, groups the results by
// video spec, and reports any clip whose spec disagrees with the majority.
func ValidateMotionSpecs(ctx context.Context, preset *domain.Preset, prober VideoSpecProber) (SpecReport, error) {
	counts := make(map[domain.VideoSpec]int)
	specs := make(map[string]domain.VideoSpec)

	for _, clip := range allClips(preset) {
		spec, err := prober.GetVideoSpec(ctx, clip.AbsolutePath)
		if err != nil {
			return SpecReport{}, fmt.Errorf("probing video spec for %s: %w", clip.ID, err)
		}
		specs[clip.ID] = spec
		counts[spec]++
	}

	var majority domain.VideoSpec
	var majorityCount int
	for spec, n := range counts {
		if n > majorityCount {
			majority, majorityCount = spec, n
		}
	}

	report := SpecReport{MajoritySpec: majority, MajorityCount: majorityCount}
	for id, spec := range specs {
		if spec != majority {
			report.Mismatches = append(report.Mismatches, SpecMismatch{ClipID: id, Spec: spec})
		}
	}
	return report, nil
}

func allClips(preset *domain.Preset) []domain.MotionClip {
	var out []domain.MotionClip
	for _, clips := range preset.IdlePool {
		out = append(out, clips...)
	}
	for _, sized := range preset.SpeechPool {
		for _, clips := range sized {
			out = append(out, clips...)
		}
	}
	for _, clips := range preset.EnterTransitions {
		out = append(out, clips...)
	}
	for _, clips := range preset.ExitTransitions {
		out = append(out, clips...)
	}
	for _, clip := range preset.ActionsByID {
		out = append(out, clip)
	}
	return out
}
