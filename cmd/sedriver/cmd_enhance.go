package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	speechenhance "github.com/Skryldev/speech-enhance"
	"github.com/Skryldev/speech-enhance/internal/config"
)

func newEnhanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sedriver",
		Short: "Chunked speech enhancement over a directory of 16 kHz mono WAV files",
		Long: "Splits long recordings into chunks of at most --truncate_minutes, runs the\n" +
			"enhancement model on each chunk (IRM, LPS or their fusion) and writes one\n" +
			"enhanced WAV per input under --output_dir.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			defaulted := cfg.WavDir != "" && cfg.ResolveOutputDir()

			enh, err := speechenhance.New(cfg)
			if err != nil {
				return err
			}
			defer enh.Close()

			if defaulted {
				enh.Logger().Warn("output_dir not set, writing enhanced files next to the inputs",
					zap.String("output_dir", cfg.OutputDir))
			}
			_, err = enh.Run(cmd.Context())
			return err
		},
	}
	config.BindFlags(cmd.Flags())
	addGlobalFlags(cmd)
	return cmd
}

// loadConfig layers defaults, --config, the environment and the command line.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
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
	if err := cfg.ApplyFlags(cmd.Flags()); err != nil {
		return nil, err
	}
	return cfg, nil
}

func addGlobalFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("config", "", "YAML configuration file")
	cmd.PersistentFlags().String("env_file", "", "file of SE_* variables")
}
