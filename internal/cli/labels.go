package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var labelsCmd = &cobra.Command{
	Use:   "labels",
	Short: "List and manage trained labels",
	Long: `List the trained labels with their example counts. The subcommands add,
remove or clear labels and save the model afterwards.

Examples:
  mudra labels               # List labels
  mudra labels add Hello     # Add an empty label
  mudra labels clear Hello   # Drop the examples but keep the label
  mudra labels rm Hello      # Remove the label entirely`,
	Args: cobra.NoArgs,
	RunE: runLabels,
}

var labelsAddCmd = &cobra.Command{
	Use:   "add LABEL",
	Short: "Add a label with no examples",
	Args:  cobra.ExactArgs(1),
	RunE: mutateLabels(func(s *session, label string) (string, error) {
		label, err := s.model.AddLabel(label)
		return fmt.Sprintf("Added %q", label), err
	}),
}

var labelsClearCmd = &cobra.Command{
	Use:   "clear LABEL",
	Short: "Remove all examples of a label",
	Args:  cobra.ExactArgs(1),
	RunE: mutateLabels(func(s *session, label string) (string, error) {
		return fmt.Sprintf("Cleared %q", label), s.model.ClearLabel(label)
	}),
}

var labelsRemoveCmd = &cobra.Command{
	Use:     "rm LABEL",
	Aliases: []string{"remove"},
	Short:   "Remove a label and its examples",
	Args:    cobra.ExactArgs(1),
	RunE: mutateLabels(func(s *session, label string) (string, error) {
		return fmt.Sprintf("Removed %q", label), s.model.RemoveLabel(label)
	}),
}

func init() {
	rootCmd.AddCommand(labelsCmd)
	labelsCmd.AddCommand(labelsAddCmd, labelsClearCmd, labelsRemoveCmd)
}

func runLabels(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd.Context(), cfg, logger, sessionOptions{})
	if err != nil {
		return err
	}
	defer s.Close()

	out := cmd.OutOrStdout()
	st := s.model.Status()
	if len(st.Labels) == 0 {
		fmt.Fprintln(out, "No labels trained")
		return nil
	}

	width := 0
	for _, lc := range st.Labels {
		width = max(width, len(lc.Label))
	}
	for _, lc := range st.Labels {
		fmt.Fprintf(out, "%-*s  %d\n", width, lc.Label, lc.Examples)
	}
	fmt.Fprintf(out, "\n%d labels, %d examples\n", len(st.Labels), st.Examples)
	return nil
}

// mutateLabels runs fn against a loaded model and saves the result.
func mutateLabels(fn func(s *session, label string) (string, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context(), cfg, logger, sessionOptions{})
		if err != nil {
			return err
		}
		defer s.Close()

		msg, err := fn(s, strings.TrimSpace(args[0]))
		if err != nil {
			return err
		}
		if err := s.save(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), msg)
		return nil
	}
}
