package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var predictCmd = &cobra.Command{
	Use:   "predict FILE...",
	Short: "Recognize signs in image files",
	Long: `Recognize the sign in each image file, in order. Accepted words build up
the sentence history, so a sequence of images can form a sentence.

Examples:
  mudra predict hello.jpg
  mudra predict how.jpg are.jpg you.jpg`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPredict,
}

func init() {
	rootCmd.AddCommand(predictCmd)
}

func runPredict(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd.Context(), cfg, logger, sessionOptions{})
	if err != nil {
		return err
	}
	defer s.Close()

	out := cmd.OutOrStdout()
	for _, path := range args {
		image, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}

		det, err := s.app.Recognize(cmd.Context(), image)
		if err != nil {
			return fmt.Errorf("failed to recognize %s: %w", path, err)
		}
		fmt.Fprintf(out, "%s: %s (%.2f)\n", path, det.Label, det.Confidence)
		if det.NewSentence {
			fmt.Fprintf(out, "  sentence: %s\n", det.Sentence)
		}
	}

	if st := s.app.Sentence(); st.Sentence != "" {
		fmt.Fprintf(out, "\nSentence: %s\n", st.Sentence)
	}
	return nil
}
