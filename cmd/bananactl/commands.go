package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vnmchuo/banana-gateway/internal/provider"
	"github.com/vnmchuo/banana-gateway/internal/proxy"
	"github.com/vnmchuo/banana-gateway/internal/schedule"
)

type routerBuilder func() (*proxy.Router, error)

func newRootCmd(build routerBuilder, logger *slog.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:          "bananactl",
		Short:        "Talk to the configured AI providers with priority fallback",
		SilenceUsage: true,
	}
	root.AddCommand(
		newProvidersCmd(build),
		newChatCmd(build),
		newImageCmd(build),
		newScheduleCmd(build, logger),
	)
	return root
}

func newProvidersCmd(build routerBuilder) *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List enabled providers in the order they are tried",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			router, err := build()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			enabled := router.Registry().ListEnabled()
			if len(enabled) == 0 {
				fmt.Fprintln(out, "no providers enabled (check credentials)")
				return nil
			}
			for i, d := range enabled {
				fmt.Fprintf(out, "%d. %s\t%s\t%s\n", i+1, d.ID, d.Kind, d.BaseURL)
			}
			return nil
		},
	}
}

func newChatCmd(build routerBuilder) *cobra.Command {
	var (
		model       string
		temperature float64
		maxTokens   int
		via         string
	)
	cmd := &cobra.Command{
		Use:   "chat PROMPT",
		Short: "Send a single-turn chat completion",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			router, err := build()
			if err != nil {
				return err
			}
			req := &provider.ChatRequest{
				Model:     model,
				Messages:  []provider.Message{{Role: provider.RoleUser, Content: strings.Join(args, " ")}},
				MaxTokens: maxTokens,
			}
			if cmd.Flags().Changed("temperature") {
				req.Temperature = &temperature
			}

			var resp *provider.ChatResponse
			if via != "" {
				resp, err = router.ChatCompletionWith(cmd.Context(), provider.ID(via), req)
			} else {
				resp, err = router.ChatCompletion(cmd.Context(), req)
			}
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), resp.Text)
			fmt.Fprintf(cmd.ErrOrStderr(), "[%s %s, %d+%d tokens]\n", resp.Provider, resp.Model, resp.PromptTokens, resp.CompletionTokens)
			return nil
		},
	}
	cmd.Flags().StringVar(&model, "model", provider.ModelTextFlash, "neutral model id")
	cmd.Flags().Float64Var(&temperature, "temperature", provider.DefaultTemperature, "sampling temperature")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", provider.DefaultMaxTokens, "completion token limit")
	cmd.Flags().StringVar(&via, "provider", "", "call only this provider, without fallback")
	return cmd
}

func newImageCmd(build routerBuilder) *cobra.Command {
	var (
		model       string
		aspectRatio string
		size        string
		inputs      []string
		outPath     string
		via         string
	)
	cmd := &cobra.Command{
		Use:   "image PROMPT",
		Short: "Generate an image and write it to a file",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !provider.ValidAspectRatio(aspectRatio) {
				return fmt.Errorf("unsupported aspect ratio %q (want one of %s)", aspectRatio, strings.Join(provider.AspectRatios, ", "))
			}
			if !provider.ValidOutputSize(size) {
				return fmt.Errorf("unsupported size %q (want one of %s)", size, strings.Join(provider.OutputSizes, ", "))
			}

			images := make([]string, 0, len(inputs))
			for _, path := range inputs {
				uri, err := readImage(path)
				if err != nil {
					return err
				}
				images = append(images, uri)
			}

			router, err := build()
			if err != nil {
				return err
			}
			req := &provider.ImageRequest{
				Model:       model,
				Prompt:      strings.Join(args, " "),
				Images:      images,
				AspectRatio: aspectRatio,
				OutputSize:  size,
			}

			var resp *provider.ImageResponse
			if via != "" {
				resp, err = router.ImageGenerationWith(cmd.Context(), provider.ID(via), req)
			} else {
				resp, err = router.ImageGeneration(cmd.Context(), req)
			}
			if err != nil {
				return err
			}

			_, data := provider.SplitDataURI(resp.ImageBase64)
			raw, err := base64.StdEncoding.DecodeString(data)
			if err != nil {
				return fmt.Errorf("provider returned undecodable image data: %w", err)
			}
			if err := os.WriteFile(outPath, raw, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes) via %s %s\n", outPath, len(raw), resp.Provider, resp.Model)
			return nil
		},
	}
	cmd.Flags().StringVar(&model, "model", provider.ModelImageFlash, "neutral image model id")
	cmd.Flags().StringVar(&aspectRatio, "aspect-ratio", "", "output aspect ratio, e.g. 16:9")
	cmd.Flags().StringVar(&size, "size", "", "output size: 1K, 2K or 4K")
	cmd.Flags().StringSliceVar(&inputs, "input", nil, "reference image file (repeatable)")
	cmd.Flags().StringVar(&outPath, "out", "image.png", "where to write the generated image")
	cmd.Flags().StringVar(&via, "provider", "", "call only this provider, without fallback")
	return cmd
}

func newScheduleCmd(build routerBuilder, logger *slog.Logger) *cobra.Command {
	var hours float64
	cmd := &cobra.Command{
		Use:   "schedule TASK...",
		Short: "Plan the given tasks into a day schedule",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if hours <= 0 {
				return fmt.Errorf("--hours must be positive")
			}
			router, err := build()
			if err != nil {
				return err
			}

			tasks := make([]schedule.Task, len(args))
			for i, a := range args {
				tasks[i] = schedule.Task{Description: a}
			}

			generated := schedule.NewGenerator(router, logger).Generate(cmd.Context(), tasks, hours)
			if generated == nil {
				return fmt.Errorf("schedule generation failed")
			}
			return writeIndented(cmd.OutOrStdout(), generated.Schedule)
		},
	}
	cmd.Flags().Float64Var(&hours, "hours", 8, "available working hours")
	return cmd
}

// fallbackNotices reports each move to the next provider on w.
func fallbackNotices(w io.Writer) proxy.Hooks {
	return proxy.Hooks{
		OnFallback: func(from, to provider.ID, attempt int) {
			fmt.Fprintf(w, "provider %s failed (attempt %d), trying %s\n", from, attempt+1, to)
		},
	}
}

func readImage(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read input image: %w", err)
	}
	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if mimeType == "" {
		mimeType = "image/png"
	}
	return provider.DataURI(mimeType, base64.StdEncoding.EncodeToString(raw)), nil
}

func writeIndented(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
