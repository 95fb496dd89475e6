package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ayusman/mudra/internal/knn"
	"github.com/ayusman/mudra/internal/model"
)

var (
	exportFormat string
	exportOutput string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the trained model to a file",
	Long: `Write the trained examples as a dataset file. The dataset can be loaded
into another installation with "mudra import".

Examples:
  mudra export -o model.json
  mudra export --format msgpack -o model.msgpack`,
	Args: cobra.NoArgs,
	RunE: runExport,
}

var importCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Replace the trained model with a dataset file",
	Long: `Replace all trained examples with the dataset in FILE and save the model.
The format (JSON or MessagePack) is detected from the content.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(exportCmd, importCmd)
	exportCmd.Flags().StringVar(&exportFormat, "format", "", "dataset format: json or msgpack (default from config)")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output file (default stdout)")
}

func runExport(cmd *cobra.Command, args []string) error {
	name := cfg.Classifier.Format
	if exportFormat != "" {
		name = exportFormat
	}
	format, err := knn.ParseFormat(name)
	if err != nil {
		return err
	}

	s, err := openSession(cmd.Context(), cfg, logger, sessionOptions{})
	if err != nil {
		return err
	}
	defer s.Close()

	data, err := s.model.Export(format)
	if err != nil {
		return fmt.Errorf("failed to export model: %w", err)
	}

	if exportOutput == "" {
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(exportOutput, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", exportOutput, err)
	}
	logger.Info("model exported", "path", exportOutput, "format", format, "bytes", len(data))
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", args[0], err)
	}

	// A model that failed to load can still be replaced
	s, err := openSession(cmd.Context(), cfg, logger, sessionOptions{keepFailedLoad: true})
	if err != nil {
		return err
	}
	defer s.Close()

	if s.model.State() != model.StateReady {
		logger.Warn("stored model could not be loaded, replacing it")
		if err := s.model.Reset(); err != nil {
			return err
		}
	}
	if err := s.model.Import(data); err != nil {
		return fmt.Errorf("failed to import %s: %w", args[0], err)
	}
	if err := s.save(cmd.Context()); err != nil {
		return err
	}

	st := s.model.Status()
	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d labels, %d examples\n", len(st.Labels), st.Examples)
	return nil
}
