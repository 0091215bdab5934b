package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/webannotate/internal/webview"
)

type exportFlags struct {
	headers     []string
	annotations string
	filename    string
	out         string
}

// newExportCmd creates the 'export' subcommand: resolve, annotate, assemble
// and write the PDF to disk.
func newExportCmd() *cobra.Command {
	flags := &exportFlags{}
	cmd := &cobra.Command{
		Use:   "export <url>",
		Short: "Export an annotated PDF of a page",
		Long: `Resolves the URL through the proxy server, applies the annotation layer
read from --annotations (XFDF), asks the server to render the page and writes
the merged PDF to --out.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd, args[0], flags)
		},
	}
	cmd.Flags().StringArrayVarP(&flags.headers, "header", "H", nil, "extra request header as Name:Value (repeatable)")
	cmd.Flags().StringVar(&flags.annotations, "annotations", "", "XFDF file with the annotation layer")
	cmd.Flags().StringVar(&flags.filename, "filename", "", "download file name (default from export.default_filename)")
	cmd.Flags().StringVarP(&flags.out, "out", "o", "", "output path or directory (default: current directory)")
	return cmd
}

func runExport(cmd *cobra.Command, target string, flags *exportFlags) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := appInstance.GetLogger()
	ctx := cmd.Context()

	extra, err := parseHeaders(flags.headers)
	if err != nil {
		return err
	}
	coordinator := appInstance.GetCoordinator()
	if _, err := coordinator.Submit(ctx, target, extra); err != nil {
		return userError(err)
	}

	if flags.annotations != "" {
		importer := appInstance.GetAnnotations()
		if importer == nil {
			return fmt.Errorf("%s (annotations given but no viewer is configured)", webview.MsgViewerNotReady)
		}
		raw, err := os.ReadFile(flags.annotations)
		if err != nil {
			return fmt.Errorf("read annotations: %w", err)
		}
		if err := importer.ImportAnnotations(string(raw)); err != nil {
			return fmt.Errorf("import annotations: %w", err)
		}
	}

	filename := flags.filename
	if filename == "" {
		filename = appInstance.GetConfig().Export.DefaultFilename
	}
	handle, _, err := coordinator.Download(ctx, filename)
	if err != nil {
		return userError(err)
	}
	deliveries := appInstance.GetDeliveries()
	defer deliveries.Release(handle.ID)

	h, content, err := deliveries.Open(handle.ID)
	if err != nil {
		return fmt.Errorf("open download: %w", err)
	}
	path := outputPath(flags.out, h.Filename)
	if err := writeFile(path, content); err != nil {
		return err
	}
	logger.Info("export written",
		zap.String("path", path),
		zap.Int("bytes", h.Size),
		zap.String("saved_to", h.SavedTo),
	)
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}

// outputPath places filename inside out when out is a directory or empty.
func outputPath(out, filename string) string {
	if out == "" {
		return filename
	}
	if info, err := os.Stat(out); err == nil && info.IsDir() {
		return filepath.Join(out, filename)
	}
	return out
}

func writeFile(path string, r io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return fmt.Errorf("write output: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close output: %w", err)
	}
	return nil
}
