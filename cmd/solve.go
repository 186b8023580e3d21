package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/clearance/internal/browser"
	"github.com/xkilldash9x/clearance/internal/config"
	"github.com/xkilldash9x/clearance/internal/observability"
	"github.com/xkilldash9x/clearance/pkg/browser/dom"
	"github.com/xkilldash9x/clearance/pkg/captcha"
)

const shutdownTimeout = 15 * time.Second

// ErrUnsolved is returned when at least one URL was not cleared.
var ErrUnsolved = errors.New("challenge not cleared")

// solveResult is one line of the solve report.
type solveResult struct {
	URL      string        `json:"url"`
	Solved   bool          `json:"solved"`
	Attempts int           `json:"attempts"`
	Clicks   int           `json:"clicks"`
	Duration time.Duration `json:"duration_ns"`
	Error    string        `json:"error,omitempty"`
}

type solveOptions struct {
	container string
	format    string
}

func newSolveCmd() *cobra.Command {
	var opts solveOptions

	solveCmd := &cobra.Command{
		Use:   "solve [urls...]",
		Short: "Opens each URL and clicks through its Cloudflare checkbox challenge",
		Args:  cobra.MinimumNArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.format != "text" && opts.format != "json" {
				return fmt.Errorf("unsupported output format '%s'; use 'text' or 'json'", opts.format)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			return runSolve(cmd.Context(), cfg, observability.GetLogger(), args, opts, cmd.OutOrStdout())
		},
	}

	solveCmd.Flags().String("challenge-type", "interstitial", "Challenge to solve: 'interstitial' or 'turnstile'.")
	solveCmd.Flags().String("expected-content", "", "Selector whose presence proves the page is through.")
	solveCmd.Flags().Int("attempts", 3, "Maximum solve attempts per URL.")
	solveCmd.Flags().IntP("concurrency", "j", 4, "Number of tabs solving at once.")
	solveCmd.Flags().Float64("rate-limit", 1, "Tabs opened per second. 0 disables pacing.")
	solveCmd.Flags().StringVar(&opts.container, "container", "", "Selector of the element to search instead of the whole page.")
	solveCmd.Flags().StringVarP(&opts.format, "output", "o", "text", "Report format: 'text' or 'json'.")
	return solveCmd
}

// runSolve clears every URL on a shared browser, bounded by the configured
// concurrency and tab rate.
func runSolve(ctx context.Context, cfg *config.Config, logger *zap.Logger, urls []string, opts solveOptions, out io.Writer) error {
	runID := uuid.New().String()
	logger = logger.With(zap.String("run_id", runID))
	logger.Info("Starting solve run",
		zap.Strings("urls", urls),
		zap.String("backend", cfg.Browser.Backend),
		zap.String("challenge_type", cfg.Solver.ChallengeType),
		zap.Int("concurrency", cfg.Browser.Concurrency),
	)

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

	limiter := newLimiter(cfg.Browser)
	results := make([]solveResult, len(urls))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Browser.Concurrency)
	for i, url := range urls {
		g.Go(func() error {
			if err := limiter.Wait(gctx); err != nil {
				return err
			}
			res := solveOne(gctx, backend, cfg, logger, normalizeURL(url), opts.container)
			mu.Lock()
			results[i] = res
			mu.Unlock()
			return nil
		})
	}
	// Only cancellation surfaces here; per URL failures live in results.
	if err := g.Wait(); err != nil {
		return err
	}

	if err := writeResults(out, opts.format, results); err != nil {
		return err
	}

	var failed int
	for _, r := range results {
		if !r.Solved {
			failed++
		}
	}
	logger.Info("Solve run finished", zap.Int("solved", len(results)-failed), zap.Int("failed", failed))
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d URLs", ErrUnsolved, failed, len(results))
	}
	return nil
}

// solveOne opens a tab, loads url and solves the challenge in it.
func solveOne(ctx context.Context, backend browser.Backend, cfg *config.Config, logger *zap.Logger, url, container string) solveResult {
	start := time.Now()
	res := solveResult{URL: url}
	logger = logger.With(zap.String("url", url))

	tab, err := backend.NewTab(ctx)
	if err != nil {
		res.Error = err.Error()
		logger.Error("Failed to open tab", zap.Error(err))
		return res
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := tab.Close(closeCtx); err != nil {
			logger.Debug("Failed to close tab", zap.Error(err))
		}
	}()

	if err := tab.Navigate(ctx, url); err != nil {
		res.Error = err.Error()
		logger.Error("Navigation failed", zap.Error(err))
		return res
	}

	target, err := resolveContainer(ctx, tab.Page(), container)
	if err != nil {
		res.Error = err.Error()
		logger.Error("Container lookup failed", zap.String("container", container), zap.Error(err))
		return res
	}

	outcome, err := captcha.SolveWithOutcome(ctx, target, solverOptions(cfg.Solver, logger)...)
	res.Duration = time.Since(start)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Solved = outcome.Solved
	res.Attempts = outcome.Attempts
	res.Clicks = outcome.Clicks
	if !outcome.Solved {
		res.Error = "attempts exhausted"
	}
	return res
}

// resolveContainer returns the element matching selector, or page when
// selector is empty.
func resolveContainer(ctx context.Context, page dom.Queryable, selector string) (dom.Queryable, error) {
	if selector == "" {
		return page, nil
	}
	el, err := page.QuerySelector(ctx, selector)
	if err != nil {
		return nil, err
	}
	if el == nil {
		return nil, fmt.Errorf("no element matches %q", selector)
	}
	return el, nil
}

// solverOptions translates the solver config into captcha options.
func solverOptions(s config.SolverConfig, logger *zap.Logger) []captcha.Option {
	return []captcha.Option{
		captcha.WithLogger(logger),
		captcha.WithChallengeType(s.ChallengeType),
		captcha.WithExpectedContent(s.ExpectedContent),
		captcha.WithSolveAttempts(s.SolveAttempts),
		captcha.WithSolveClickDelay(s.SolveClickDelay),
		captcha.WithWaitCheckboxAttempts(s.WaitCheckboxAttempts),
		captcha.WithWaitCheckboxDelay(s.WaitCheckboxDelay),
		captcha.WithCheckboxClickAttempts(s.CheckboxClickAttempts),
		captcha.WithAttemptDelay(s.AttemptDelay),
	}
}

// newLimiter paces tab creation. A zero rate means no pacing.
func newLimiter(b config.BrowserConfig) *rate.Limiter {
	if b.RateLimit <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(b.RateLimit), b.RateBurst)
}

// normalizeURL adds https:// to bare hosts.
func normalizeURL(u string) string {
	if strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") || strings.HasPrefix(u, "file://") {
		return u
	}
	return "https://" + u
}

func writeResults(out io.Writer, format string, results []solveResult) error {
	if format == "json" {
		enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(out)
		for _, r := range results {
			if err := enc.Encode(r); err != nil {
				return fmt.Errorf("failed to write result: %w", err)
			}
		}
		return nil
	}

	for _, r := range results {
		status := "SOLVED"
		if !r.Solved {
			status = "FAILED"
		}
		line := fmt.Sprintf("%-6s %s attempts=%d clicks=%d took=%s", status, r.URL, r.Attempts, r.Clicks, r.Duration.Round(time.Millisecond))
		if r.Error != "" && !r.Solved {
			line += " error=" + r.Error
		}
		if _, err := fmt.Fprintln(out, line); err != nil {
			return err
		}
	}
	return nil
}
