package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/avatarstreamd/internal/config"
	"github.com/jmylchreest/avatarstreamd/internal/encoder"
	"github.com/jmylchreest/avatarstreamd/internal/presets"
	"github.com/jmylchreest/avatarstreamd/internal/planner"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load and validate preset files without starting the server",
	Long: `Loads every preset bundle under storage.presets_dir, resolves its
motion references against storage.motions_dir, and reports any
majority-video-spec mismatches within each preset (differing resolution,
frame rate, codec, or pixel format across a preset's clips).

This never starts the RTMP ingest server, the idle loop, or the HTTP API.`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	loaded, err := presets.LoadAll(cfg.Storage.PresetsPath(), cfg.Storage.MotionsPath())
	if err != nil {
		return fmt.Errorf("loading presets: %w", err)
	}
	if len(loaded) == 0 {
		return fmt.Errorf("no presets found under %s", cfg.Storage.PresetsPath())
	}

	prober := encoder.New(cfg.FFmpeg.BinaryPath, cfg.FFmpeg.ProbePath, cfg.FFmpeg.ProbeTimeout, "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	var failed bool
	for id, preset := range loaded {
		report, err := planner.ValidateMotionSpecs(ctx, preset, prober)
		if err != nil {
			fmt.Printf("preset %q: validation failed: %v\n", id, err)
			failed = true
			continue
		}
		fmt.Printf("preset %q: %d clips at majority spec %+v\n", id, report.MajorityCount, report.MajoritySpec)
		for _, mismatch := range report.Mismatches {
			fmt.Printf("  mismatch: clip %q has spec %+v\n", mismatch.ClipID, mismatch.Spec)
		}
	}

	if failed {
		return fmt.Errorf("one or more presets failed validation")
	}
	return nil
}
