package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"aihub/internal/domain"
	"aihub/internal/provider"
)

func imageCmd() *cobra.Command {
	var settings domain.SynthesisSettings
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "image [prompt]",
		Short: "Generate an image with ComfyUI",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			registry, err := provider.NewRegistry(cfg, provider.RegistryOptions{Logger: logger})
			if err != nil {
				return err
			}
			comfy := registry.ComfyUI()
			if comfy == nil {
				return fmt.Errorf("image generation is disabled (backends.comfyui.enabled)")
			}

			req := domain.SynthesisRequest{Prompt: strings.Join(args, " "), Settings: settings}
			logger.Info("generating image", "settings", provider.ResolveSettings(settings))
			out := comfy.Invoke(ctx, req)
			if !out.OK {
				return out.Err()
			}
			if asJSON {
				data, _ := json.MarshalIndent(out.Value, "", "  ")
				fmt.Println(string(data))
				return nil
			}
			fmt.Printf("job %s (seed %d)\n", out.Value.JobID, out.Value.Seed)
			for _, img := range out.Value.Images {
				fmt.Println(img)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&settings.Model, "model", "", "checkpoint name")
	f.IntVar(&settings.Steps, "steps", 0, "sampling steps")
	f.Float64Var(&settings.CfgScale, "cfg", 0, "classifier-free guidance scale")
	f.StringVar(&settings.Sampler, "sampler", "", "sampler name")
	f.IntVar(&settings.Width, "width", 0, "image width")
	f.IntVar(&settings.Height, "height", 0, "image height")
	f.Int64Var(&settings.Seed, "seed", 0, "seed (0 = random)")
	f.BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}

func transcribeCmd() *cobra.Command {
	var language string
	cmd := &cobra.Command{
		Use:   "transcribe [audio file]",
		Short: "Transcribe an audio file with Whisper",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			registry, err := provider.NewRegistry(cfg, provider.RegistryOptions{Logger: logger})
			if err != nil {
				return err
			}
			whisper := registry.Whisper()
			if whisper == nil {
				return fmt.Errorf("transcription is disabled (backends.whisper.enabled)")
			}
			audio, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			out := whisper.Invoke(ctx, domain.TranscriptionRequest{
				Audio:    audio,
				Filename: filepath.Base(args[0]),
				Language: language,
			})
			if !out.OK {
				return out.Err()
			}
			fmt.Println(out.Value.Text)
			return nil
		},
	}
	cmd.Flags().StringVarP(&language, "language", "l", "", "spoken language (default from config)")
	return cmd
}
