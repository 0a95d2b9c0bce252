package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	speechenhance "github.com/Skryldev/speech-enhance"
)

func main() {
	// ── Graceful shutdown via signal ──────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Progress channel ──────────────────────────────────────────────────
	progressCh := make(chan speechenhance.ProgressUpdate, 32)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for upd := range progressCh {
			fmt.Printf("[%s] stage=%-12s %3.0f%%  %s\n",
				upd.JobID[:8], upd.Stage, upd.Percent(), upd.File)
		}
	}()

	// ── Configure ─────────────────────────────────────────────────────────
	cfg := speechenhance.DefaultConfig()
	cfg.WavDir = os.Getenv("SE_WAV_DIR")
	if cfg.WavDir == "" {
		cfg.WavDir = "/tmp/noisy"
	}
	cfg.OutputDir = "/tmp/enhanced"
	cfg.Mode = int(speechenhance.ModeFusion)
	cfg.UseGPU = false
	cfg.Workers.Jobs = 2

	enh, err := speechenhance.New(cfg, speechenhance.WithProgress(progressCh))
	if err != nil {
		log.Fatalf("failed to create enhancer: %v", err)
	}
	defer func() {
		close(progressCh)
		<-done
		enh.Close()
	}()

	// ── Run the batch ─────────────────────────────────────────────────────
	summary, err := enh.Run(ctx)
	if summary == nil {
		fmt.Printf("enhancement did not start: %v\n", err)
		return
	}

	for _, res := range summary.Results {
		if res.Err != nil {
			fmt.Printf("FAILED %s: %v\n", res.File.Path, res.Err)
			continue
		}
		state := "written"
		if res.Skipped {
			state = "skipped"
		}
		fmt.Printf("%-8s %s -> %s (%d chunks, %d on cpu fallback)\n",
			state, res.File.Path, res.OutputPath, res.Chunks, res.Fallbacks)
	}
	fmt.Printf("Batch complete: written=%d skipped=%d failed=%d took=%s\n",
		summary.Written(), summary.Skipped(), summary.Failed(), summary.Elapsed)
}
