package main

import (
	"fmt"
	"os/exec"

	"github.com/kvizyx/speakerlog/internal/app"
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate config, the recording directory and the transcoder binary",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}

		if err = app.PrepareRecordingDir(cfg.Recorder); err != nil {
			return err
		}

		path, err := exec.LookPath(cfg.Recorder.FFmpegPath)
		if err != nil {
			return fmt.Errorf("transcoder %q not found: %w", cfg.Recorder.FFmpegPath, err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "config ok\nrecordings: %s\ntranscoder: %s\nmetadata: %s\n",
			cfg.Recorder.BaseDir, path, cfg.Metadata.Backend)

		return nil
	},
}
