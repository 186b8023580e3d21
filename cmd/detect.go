package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/clearance/internal/config"
	"github.com/xkilldash9x/clearance/internal/observability"
	"github.com/xkilldash9x/clearance/pkg/captcha"
)

func newDetectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "detect [url]",
		Short: "Reports which Cloudflare challenges a page carries, without solving them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			return runDetect(cmd.Context(), cfg, observability.GetLogger(), normalizeURL(args[0]), cmd.OutOrStdout())
		},
	}
}

func runDetect(ctx context.Context, cfg *config.Config, logger *zap.Logger, url string, out io.Writer) error {
	backend, err := newBackend(ctx, logger, cfg.Browser)
	if err != nil {
		return fmt.Errorf("failed to start browser: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := backend.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Error during browser shutdown", zap.Error(err))
		}
	}()

	tab, err := backend.NewTab(ctx)
	if err != nil {
		return fmt.Errorf("failed to open tab: %w", err)
	}
	defer tab.Close(context.WithoutCancel(ctx))

	if err := tab.Navigate(ctx, url); err != nil {
		return err
	}

	found := captcha.Detect(ctx, tab.Page(), logger)
	logger.Info("Detection finished", zap.String("url", url), zap.Strings("challenges", found))
	if len(found) == 0 {
		_, err = fmt.Fprintf(out, "%s: no challenge\n", url)
		return err
	}
	_, err = fmt.Fprintf(out, "%s: %s\n", url, strings.Join(found, ", "))
	return err
}
