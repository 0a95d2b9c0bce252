package main

import (
	"os"

	"github.com/spf13/cobra"

	speechenhance "github.com/Skryldev/speech-enhance"
	"github.com/Skryldev/speech-enhance/infrastructure/runner"
	"github.com/Skryldev/speech-enhance/internal/config"
)

func newVADCmd() *cobra.Command {
	d := config.Default()
	c := &cobra.Command{
		Use:          "vad",
		Short:        "Run voice activity detection over enhanced WAV files",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadVADConfig(cmd)
			if err != nil {
				return err
			}

			opts := runner.VADOptions{
				WavDir:    mustGetString(cmd, "wav_dir"),
				OutputDir: mustGetString(cmd, "output_dir"),
				Mode:      cfg.VAD.Mode,
				HopLength: cfg.VAD.HopLength,
				Jobs:      cfg.Workers.Jobs,
			}
			if cmd.Flags().Changed("mode") {
				opts.Mode, _ = cmd.Flags().GetInt("mode")
			}
			if cmd.Flags().Changed("hoplength") {
				opts.HopLength, _ = cmd.Flags().GetInt("hoplength")
			}
			if cmd.Flags().Changed("n_jobs") {
				opts.Jobs, _ = cmd.Flags().GetInt("n_jobs")
			}

			enh, err := speechenhance.New(cfg)
			if err != nil {
				return err
			}
			defer enh.Close()
			return enh.RunVAD(cmd.Context(), opts)
		},
	}
	c.Flags().String("wav_dir", "", "directory of enhanced WAV files")
	c.Flags().String("output_dir", "", "directory for VAD segment files")
	c.Flags().Int("mode", d.VAD.Mode, "aggressiveness 0..3")
	c.Flags().Int("hoplength", d.VAD.HopLength, "hop length in milliseconds")
	c.Flags().Int("n_jobs", d.Workers.Jobs, "parallel jobs")
	return c
}

// loadVADConfig reads --config and the environment; enhancement flags do not apply.
func loadVADConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	envFile, _ := cmd.Flags().GetString("env_file")
	if err := cfg.LoadEnv(os.Environ(), envFile); err != nil {
		return nil, err
	}
	return cfg, nil
}

func mustGetString(cmd *cobra.Command, name string) string {
	v, _ := cmd.Flags().GetString(name)
	return v
}
