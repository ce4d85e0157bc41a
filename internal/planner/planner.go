// Package planner is the Clip Planner: it indexes a preset's motion pools
// and assembles clip plans for speech, idle, and custom-action requests.
package planner

import (
	"context"
	"fmt"
	"math/rand"
	"strings"

	"github.com/jmylchreest/avatarstreamd/internal/apperr"
	"github.com/jmylchreest/avatarstreamd/internal/domain"
)

// minCandidateMs is the shortest clip the fill loop will consider; anything
// at or below this is dropped as noise before planning starts.
const minCandidateMs = 50

// maxFillIterations bounds the fill loop so a pathologically short pool
// can't spin forever chasing a duration it will never reach exactly.
const maxFillIterations = 2000

// maxIdleRepeat caps how many times a single motion clip is repeated when a
// specific motion id is requested for an idle plan.
const maxIdleRepeat = 1000

// DurationProber resolves a motion clip's true duration, backed by the
// Encoder Facade's cached ffprobe lookups.
type DurationProber interface {
	ProbeVideoDuration(ctx context.Context, path string) (int64, error)
}

// Rand is the subset of math/rand used for candidate selection; tests
// inject a seeded *rand.Rand for deterministic plan selection.
type Rand interface {
	Intn(n int) int
}

// Planner builds clip plans against a fixed preset.
type Planner struct {
	preset *domain.Preset
	prober DurationProber
	rng    Rand
}

// New creates a Planner over preset using prober for duration lookups and
// rng for candidate selection. A nil rng defaults to the global source.
func New(preset *domain.Preset, prober DurationProber, rng Rand) *Planner {
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	return &Planner{preset: preset, prober: prober, rng: rng}
}

func (p *Planner) durationOf(ctx context.Context, clip domain.MotionClip) (int64, error) {
	if clip.DurationMs > 0 {
		return clip.DurationMs, nil
	}
	return p.prober.ProbeVideoDuration(ctx, clip.AbsolutePath)
}

func filterShortClips(ctx context.Context, p *Planner, clips []domain.MotionClip) ([]domain.MotionClip, error) {
	out := make([]domain.MotionClip, 0, len(clips))
	for _, c := range clips {
		d, err := p.durationOf(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("probing clip %s: %w", c.ID, err)
		}
		if d > minCandidateMs {
			c.DurationMs = d
			out = append(out, c)
		}
	}
	return out, nil
}

func (p *Planner) speechPoolFor(emotion string) (map[domain.SizeClass][]domain.MotionClip, error) {
	if pool, ok := p.preset.SpeechPool[emotion]; ok && poolNonEmpty(pool) {
		return pool, nil
	}
	if pool, ok := p.preset.SpeechPool[domain.NeutralEmotion]; ok && poolNonEmpty(pool) {
		return pool, nil
	}
	for _, pool := range p.preset.SpeechPool {
		if poolNonEmpty(pool) {
			return pool, nil
		}
	}
	return nil, apperr.ErrNoPool
}

func poolNonEmpty(pool map[domain.SizeClass][]domain.MotionClip) bool {
	return len(pool[domain.SizeClassLarge]) > 0 || len(pool[domain.SizeClassSmall]) > 0
}

// fillLoop repeats until covered+minCandidateMs >= requiredMs or the
// iteration cap is hit, each step preferring a large clip that fits the
// remaining budget, then falling back to small, then any small, then any
// large. If nothing was ever selected it returns a single arbitrary clip so
// the plan is never empty.
func (p *Planner) fillLoop(large, small []domain.MotionClip, requiredMs int64) ([]domain.MotionClip, int64) {
	var chosen []domain.MotionClip
	var covered int64

	for i := 0; i < maxFillIterations && covered+minCandidateMs < requiredMs; i++ {
		remaining := requiredMs - covered
		clip, ok := pickFitting(p.rng, large, remaining+minCandidateMs)
		if !ok {
			clip, ok = pickFitting(p.rng, small, remaining+minCandidateMs)
		}
		if !ok {
			clip, ok = pickAny(p.rng, small)
		}
		if !ok {
			clip, ok = pickAny(p.rng, large)
		}
		if !ok {
			break
		}
		chosen = append(chosen, clip)
		covered += clip.DurationMs
	}

	if len(chosen) == 0 {
		if clip, ok := pickAny(p.rng, large); ok {
			return []domain.MotionClip{clip}, clip.DurationMs
		}
		if clip, ok := pickAny(p.rng, small); ok {
			return []domain.MotionClip{clip}, clip.DurationMs
		}
	}

	return chosen, covered
}

func pickFitting(rng Rand, clips []domain.MotionClip, maxMs int64) (domain.MotionClip, bool) {
	var candidates []domain.MotionClip
	for _, c := range clips {
		if c.DurationMs <= maxMs {
			candidates = append(candidates, c)
		}
	}
	return pickAny(rng, candidates)
}

func pickAny(rng Rand, clips []domain.MotionClip) (domain.MotionClip, bool) {
	if len(clips) == 0 {
		return domain.MotionClip{}, false
	}
	return clips[rng.Intn(len(clips))], true
}

// BuildSpeechPlan selects speech clips covering requiredMs for emotion,
// framed by one enter and one exit transition clip.
func (p *Planner) BuildSpeechPlan(ctx context.Context, emotion string, requiredMs int64) (domain.ClipPlan, error) {
	emotion = normalizeEmotion(emotion)

	pool, err := p.speechPoolFor(emotion)
	if err != nil {
		return domain.ClipPlan{}, err
	}

	large, err := filterShortClips(ctx, p, pool[domain.SizeClassLarge])
	if err != nil {
		return domain.ClipPlan{}, err
	}
	small, err := filterShortClips(ctx, p, pool[domain.SizeClassSmall])
	if err != nil {
		return domain.ClipPlan{}, err
	}

	core, talkMs := p.fillLoop(large, small, requiredMs)
	if len(core) == 0 {
		return domain.ClipPlan{}, apperr.ErrNoPool
	}

	enter, enterMs, hasEnter, err := p.pickTransition(ctx, p.preset.EnterTransitions, emotion)
	if err != nil {
		return domain.ClipPlan{}, err
	}
	exit, exitMs, hasExit, err := p.pickTransition(ctx, p.preset.ExitTransitions, emotion)
	if err != nil {
		return domain.ClipPlan{}, err
	}

	plan := domain.ClipPlan{
		TalkDurationMs:  talkMs,
		EnterDurationMs: enterMs,
		ExitDurationMs:  exitMs,
		TotalDurationMs: enterMs + talkMs + exitMs,
	}
	if hasEnter {
		plan.Clips = append(plan.Clips, entryOf(enter))
	}
	for _, c := range core {
		plan.Clips = append(plan.Clips, entryOf(c))
	}
	if hasExit {
		plan.Clips = append(plan.Clips, entryOf(exit))
	}
	plan.MotionIDs = motionIDs(plan.Clips)

	return plan, nil
}

// pickTransition picks a clip from byEmotion, trying emotion, then neutral,
// then any non-empty pool. Transitions are optional: an empty byEmotion
// is not an error, it just means no transition is framed onto the plan.
func (p *Planner) pickTransition(ctx context.Context, byEmotion map[string][]domain.MotionClip, emotion string) (domain.MotionClip, int64, bool, error) {
	candidates := byEmotion[emotion]
	if len(candidates) == 0 {
		candidates = byEmotion[domain.NeutralEmotion]
	}
	if len(candidates) == 0 {
		for _, c := range byEmotion {
			if len(c) > 0 {
				candidates = c
				break
			}
		}
	}
	if len(candidates) == 0 {
		return domain.MotionClip{}, 0, false, nil
	}
	clip, _ := pickAny(p.rng, candidates)
	d, err := p.durationOf(ctx, clip)
	if err != nil {
		return domain.MotionClip{}, 0, false, err
	}
	clip.DurationMs = d
	return clip, d, true, nil
}

// BuildIdlePlan selects idle clips covering durationMs. If motionID is set,
// that specific clip is repeated instead of drawing from the pool. emotion,
// when non-empty, filters the pool first, falling back to the unfiltered
// pool if nothing matches.
func (p *Planner) BuildIdlePlan(ctx context.Context, durationMs int64, motionID, emotion string) (domain.ClipPlan, error) {
	if motionID != "" {
		clip, ok := findClipByID(p.preset.IdlePool, motionID)
		if !ok {
			return domain.ClipPlan{}, apperr.ErrNoPool
		}
		d, err := p.durationOf(ctx, clip)
		if err != nil {
			return domain.ClipPlan{}, err
		}
		clip.DurationMs = d

		var clips []domain.ClipPlanEntry
		var covered int64
		for i := 0; i < maxIdleRepeat && covered < durationMs; i++ {
			clips = append(clips, entryOf(clip))
			covered += d
		}
		return domain.ClipPlan{
			Clips:           clips,
			TotalDurationMs: covered,
			MotionIDs:       motionIDsFromClips(clips),
		}, nil
	}

	large := p.preset.IdlePool[domain.SizeClassLarge]
	small := p.preset.IdlePool[domain.SizeClassSmall]
	if emotion != "" {
		norm := normalizeEmotion(emotion)
		fl := filterByEmotion(large, norm)
		fs := filterByEmotion(small, norm)
		if len(fl) > 0 || len(fs) > 0 {
			large, small = fl, fs
		}
	}

	large, err := filterShortClips(ctx, p, large)
	if err != nil {
		return domain.ClipPlan{}, err
	}
	small, err = filterShortClips(ctx, p, small)
	if err != nil {
		return domain.ClipPlan{}, err
	}

	chosen, covered := p.fillLoop(large, small, durationMs)
	if len(chosen) == 0 {
		return domain.ClipPlan{}, apperr.ErrNoPool
	}

	entries := make([]domain.ClipPlanEntry, 0, len(chosen))
	for _, c := range chosen {
		entries = append(entries, entryOf(c))
	}
	return domain.ClipPlan{
		Clips:           entries,
		TotalDurationMs: covered,
		MotionIDs:       motionIDsFromClips(entries),
	}, nil
}

// BuildActionClip resolves a single custom action's exact clip with its
// true probed duration.
func (p *Planner) BuildActionClip(ctx context.Context, actionID string) (domain.ClipPlan, error) {
	clip, ok := p.preset.ActionsByID[normalizeEmotion(actionID)]
	if !ok {
		return domain.ClipPlan{}, apperr.ErrUnknownAction
	}
	d, err := p.durationOf(ctx, clip)
	if err != nil {
		return domain.ClipPlan{}, err
	}
	clip.DurationMs = d
	entry := entryOf(clip)
	return domain.ClipPlan{
		Clips:           []domain.ClipPlanEntry{entry},
		TotalDurationMs: d,
		MotionIDs:       []string{clip.ID},
	}, nil
}

func findClipByID(pool map[domain.SizeClass][]domain.MotionClip, id string) (domain.MotionClip, bool) {
	for _, clips := range pool {
		for _, c := range clips {
			if c.ID == id {
				return c, true
			}
		}
	}
	return domain.MotionClip{}, false
}

func filterByEmotion(clips []domain.MotionClip, emotion string) []domain.MotionClip {
	var out []domain.MotionClip
	for _, c := range clips {
		if c.Emotion == emotion {
			out = append(out, c)
		}
	}
	return out
}

func entryOf(c domain.MotionClip) domain.ClipPlanEntry {
	return domain.ClipPlanEntry{ClipID: c.ID, SourcePath: c.AbsolutePath, DurationMs: c.DurationMs}
}

func motionIDs(entries []domain.ClipPlanEntry) []string {
	return motionIDsFromClips(entries)
}

func motionIDsFromClips(entries []domain.ClipPlanEntry) []string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ClipID
	}
	return ids
}

func normalizeEmotion(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return domain.NeutralEmotion
	}
	return s
}
