package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vodarr/vodarr/internal/capabilities"
	"github.com/vodarr/vodarr/internal/config"
	"github.com/vodarr/vodarr/internal/util"
)

// detectCmd probes the local ffmpeg install and prints what it can do.
var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Detect ffmpeg capabilities",
	Long: `Probe the local ffmpeg installation and print the detected encoders,
decoders, and hardware acceleration support as JSON.

This is the same detection the server runs at startup; use it to verify
a host before deploying.`,
	RunE: runDetect,
}

func init() {
	rootCmd.AddCommand(detectCmd)
}

func runDetect(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ffmpegPath := cfg.FFmpeg.BinaryPath
	if ffmpegPath == "" {
		if ffmpegPath, err = util.FindBinary("ffmpeg", "VODARR_FFMPEG_BINARY"); err != nil {
			return fmt.Errorf("locating ffmpeg: %w", err)
		}
	}
	ffprobePath := cfg.FFmpeg.ProbePath
	if ffprobePath == "" {
		if ffprobePath, err = util.FindBinary("ffprobe", "VODARR_FFPROBE_BINARY"); err != nil {
			return fmt.Errorf("locating ffprobe: %w", err)
		}
	}

	caps, err := capabilities.NewDetector(ffmpegPath, ffprobePath).Detect(cmd.Context())
	if err != nil {
		return fmt.Errorf("detecting capabilities: %w", err)
	}

	data, err := json.MarshalIndent(caps, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling capabilities: %w", err)
	}
	fmt.Println(string(data))

	return nil
}
