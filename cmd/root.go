// Package cmd defines and implements the CLI commands for the webannotate executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/webannotate/internal/api"
	"github.com/JakeFAU/webannotate/internal/app"
	"github.com/JakeFAU/webannotate/internal/config"
	"github.com/JakeFAU/webannotate/internal/delivery"
	"github.com/JakeFAU/webannotate/internal/session"
	"github.com/JakeFAU/webannotate/internal/webview"
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands will use.
// This allows us to inject a fake app during tests.
type App interface {
	Close()
	GetLogger() *zap.Logger
	GetConfig() config.Config
	GetCoordinator() *session.Coordinator
	GetDeliveries() *delivery.Manager
	GetAnnotations() webview.AnnotationImporter
	APIDeps() api.Deps
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, path string) (App, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	a, err := app.NewApp(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webannotate",
		Short: "Proxy web pages for annotation and export them as annotated PDFs.",
		Long: `webannotate drives a page proxy and rendering server: it resolves a URL
into an embeddable session, merges an annotation layer onto the rendered page
and hands the result out as a short-lived PDF download.`,
		SilenceUsage: true,

		// Build the application once flags are parsed and before the
		// subcommand's RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (env WEBANNOTATE_* overrides)")

	cmd.AddCommand(newLoadCmd())
	cmd.AddCommand(newExportCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
