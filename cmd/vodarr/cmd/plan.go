package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vodarr/vodarr/internal/capabilities"
	"github.com/vodarr/vodarr/internal/config"
	"github.com/vodarr/vodarr/internal/planner"
	"github.com/vodarr/vodarr/internal/probe"
	"github.com/vodarr/vodarr/internal/util"
)

var (
	planUserAgent string
	planJSON      bool
)

// planCmd runs the playback decision for a file without starting a session.
var planCmd = &cobra.Command{
	Use:   "plan <media-file>",
	Short: "Show the playback decision for a media file",
	Long: `Probe a media file and print the playback plan that would be used for
a client with the given User-Agent.

No session is created and no transcode is started; this only runs the
decision. Useful for checking why a file direct-plays on one device and
transcodes on another.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlan,
}

func init() {
	planCmd.Flags().StringVar(&planUserAgent, "user-agent", "", "client User-Agent to plan for (empty = default capabilities)")
	planCmd.Flags().BoolVar(&planJSON, "json", false, "output the full plan as JSON")
	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, args []string) error {
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

	media, err := probe.NewProber(ffprobePath).Probe(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("probing media: %w", err)
	}

	server, err := capabilities.NewDetector(ffmpegPath, ffprobePath).Detect(cmd.Context())
	if err != nil {
		return fmt.Errorf("detecting capabilities: %w", err)
	}

	// Planning from the CLI has no device profile database, so an unknown
	// User-Agent gets the conservative defaults, same as an unmatched client.
	client := capabilities.DefaultClientCapabilities()
	if planUserAgent != "" {
		client.UserAgent = planUserAgent
	}

	prefs := planner.Preferences{
		SegmentDuration:  int(cfg.Streaming.SegmentDuration.Seconds()),
		SegmentLookahead: cfg.Streaming.SegmentLookahead,
	}
	plan := planner.New(nil).Plan(media, client, server, prefs)

	if planJSON {
		data, err := json.MarshalIndent(plan, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling plan: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("file:      %s\n", args[0])
	fmt.Printf("container: %s\n", media.Container)
	fmt.Printf("mode:      %s\n", plan.Mode)
	fmt.Printf("transport: %s\n", plan.Transport)
	fmt.Println("reasons:")
	for _, reason := range plan.Reasons {
		fmt.Printf("  - %s\n", reason)
	}

	return nil
}
