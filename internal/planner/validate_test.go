package planner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/avatarstreamd/internal/domain"
)

type fakeSpecProber struct {
	specs map[string]domain.VideoSpec
}

func (f *fakeSpecProber) GetVideoSpec(ctx context.Context, path string) (domain.VideoSpec, error) {
	return f.specs[path], nil
}

func TestValidateMotionSpecs_FlagsMinorityClips(t *testing.T) {
	majority := domain.VideoSpec{Width: 1920, Height: 1080, FPS: 30}
	minority := domain.VideoSpec{Width: 1280, Height: 720, FPS: 30}

	preset := &domain.Preset{
		IdlePool: map[domain.SizeClass][]domain.MotionClip{
			domain.SizeClassLarge: {
				{ID: "idle:0", AbsolutePath: "/a.mp4"},
				{ID: "idle:1", AbsolutePath: "/b.mp4"},
				{ID: "idle:2", AbsolutePath: "/c.mp4"},
			},
		},
	}

	prober := &fakeSpecProber{specs: map[string]domain.VideoSpec{
		"/a.mp4": majority,
		"/b.mp4": majority,
		"/c.mp4": minority,
	}}

	report, err := ValidateMotionSpecs(context.Background(), preset, prober)
	require.NoError(t, err)

	assert.Equal(t, majority, report.MajoritySpec)
	assert.Equal(t, 2, report.MajorityCount)
	require.Len(t, report.Mismatches, 1)
	assert.Equal(t, "idle:2", report.Mismatches[0].ClipID)
}

func TestValidateMotionSpecs_NoMismatchesWhenUniform(t *testing.T) {
	spec := domain.VideoSpec{Width: 1920, Height: 1080, FPS: 30}
	preset := &domain.Preset{
		ActionsByID: map[string]domain.MotionClip{
			"wave": {ID: "action:wave", AbsolutePath: "/wave.mp4"},
		},
	}
	prober := &fakeSpecProber{specs: map[string]domain.VideoSpec{"/wave.mp4": spec}}

	report, err := ValidateMotionSpecs(context.Background(), preset, prober)
	require.NoError(t, err)
	assert.Empty(t, report.Mismatches)
}
