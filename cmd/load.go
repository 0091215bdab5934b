package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/webannotate/internal/session"
	"github.com/JakeFAU/webannotate/internal/webview"
)

type loadOutput struct {
	Phase      session.Phase            `json:"phase"`
	Session    *webview.ResolvedSession `json:"session,omitempty"`
	EmbedURL   string                   `json:"embedUrl,omitempty"`
	Generation uint64                   `json:"generation"`
}

// newLoadCmd creates the 'load' subcommand, which resolves a URL through the
// proxy and prints the resulting session.
func newLoadCmd() *cobra.Command {
	var headers []string
	cmd := &cobra.Command{
		Use:   "load <url>",
		Short: "Resolve a URL through the proxy server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			extra, err := parseHeaders(headers)
			if err != nil {
				return err
			}
			snap, err := appInstance.GetCoordinator().Submit(cmd.Context(), args[0], extra)
			if err != nil {
				return userError(err)
			}
			out := loadOutput{Phase: snap.Phase, Session: snap.Session, Generation: snap.Generation}
			if embedder := appInstance.APIDeps().Embedder; embedder != nil && snap.Session != nil {
				out.EmbedURL = embedder.EmbedURL(snap.Session.EmbedPath)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(out); err != nil {
				return fmt.Errorf("write output: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, "extra request header as Name:Value (repeatable)")
	return cmd
}

// parseHeaders turns Name:Value pairs into an http.Header.
func parseHeaders(pairs []string) (http.Header, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	h := http.Header{}
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid header %q, want Name:Value", pair)
		}
		h.Add(name, strings.TrimSpace(value))
	}
	return h, nil
}

// userError keeps the message a user would have seen in front of the cause.
func userError(err error) error {
	if errors.Is(err, session.ErrBusy) || errors.Is(err, session.ErrStaleCompletion) {
		return err
	}
	return fmt.Errorf("%s (%w)", webview.UserMessage(err), err)
}
