package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var (
	captureFrames   int
	captureInterval time.Duration
	captureNoSave   bool
)

var captureCmd = &cobra.Command{
	Use:   "capture LABEL",
	Short: "Record a burst of camera frames as examples of a sign",
	Long: `Capture a burst of frames from the camera and store each one as an example
of LABEL. The label is created if it does not exist. The model is saved when
the burst completes.

Examples:
  mudra capture Hello                  # Use the configured burst size
  mudra capture "Thank you" --frames 30 --interval 200ms`,
	Args: cobra.ExactArgs(1),
	RunE: runCapture,
}

func init() {
	rootCmd.AddCommand(captureCmd)
	captureCmd.Flags().IntVar(&captureFrames, "frames", 0, "number of frames (default from config)")
	captureCmd.Flags().DurationVar(&captureInterval, "interval", 0, "delay between frames (default from config)")
	captureCmd.Flags().BoolVar(&captureNoSave, "no-save", false, "do not save the model afterwards")
}

func runCapture(cmd *cobra.Command, args []string) error {
	frames := cfg.Capture.Frames
	if captureFrames > 0 {
		frames = captureFrames
	}
	interval := cfg.Capture.Interval
	if captureInterval > 0 {
		interval = captureInterval
	}

	s, err := openSession(cmd.Context(), cfg, logger, sessionOptions{camera: true})
	if err != nil {
		return err
	}
	defer s.Close()

	out := cmd.OutOrStdout()
	label := strings.TrimSpace(args[0])
	fmt.Fprintf(out, "Capturing %d frames of %q, hold the sign steady...\n", frames, label)

	bar := progressbar.NewOptions(frames,
		progressbar.OptionSetWriter(cmd.ErrOrStderr()),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetDescription("[cyan]Capturing[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(cmd.ErrOrStderr())
		}),
	)

	stored, burstErr := s.app.CaptureBurst(cmd.Context(), label, frames, interval, func(done, total int) {
		bar.Set(done)
	})
	if burstErr != nil && stored == 0 {
		return fmt.Errorf("capture failed: %w", burstErr)
	}
	if burstErr != nil {
		fmt.Fprintf(out, "\nWarning: capture stopped after %d of %d frames: %v\n", stored, frames, burstErr)
	}

	fmt.Fprintf(out, "Stored %d examples of %q (%d total)\n", stored, label, s.model.CountFor(label))

	if captureNoSave {
		return nil
	}
	if err := s.save(cmd.Context()); err != nil {
		return err
	}
	fmt.Fprintln(out, "Model saved")
	return nil
}
