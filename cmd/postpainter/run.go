package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jo-hoe/postpainter/internal/apperr"
	"github.com/jo-hoe/postpainter/internal/jobs"
	"github.com/jo-hoe/postpainter/internal/processor"
)

var (
	runLimit       int
	runConcurrency int
	runAll         bool
	runCallback    string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Crawl the site and place images on posts without imagery",
	RunE:  runRun,
}

func init() {
	runCmd.Flags().IntVarP(&runLimit, "limit", "n", 0, "process at most this many posts (0 uses pipeline.maxPosts)")
	runCmd.Flags().IntVar(&runConcurrency, "concurrency", 0, "posts processed in parallel (0 uses pipeline.concurrency)")
	runCmd.Flags().BoolVar(&runAll, "all", false, "also process posts that already have imagery")
	runCmd.Flags().StringVar(&runCallback, "callback", "", "URL notified with the run summary")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	out := cmd.OutOrStdout()
	a, err := newApp(ctx, cfg, logger, func(j jobs.Job) {
		logger.Debug("post status", "post_id", j.Post.ID, "status", j.Status, "message", j.StatusMessage)
	})
	if err != nil {
		return fmt.Errorf("%s", apperr.UserMessage(err))
	}
	defer func() { _ = a.Close() }()

	req := processor.RunRequest{
		OnlyMissing: cfg.Pipeline.OnlyMissingImagery() && !runAll,
		MaxPosts:    cfg.Pipeline.MaxPosts,
		Concurrency: runConcurrency,
		CallbackURL: runCallback,
		Progress: func(done, total int) {
			fmt.Fprintf(out, "briefs: %d/%d\n", done, total)
		},
	}
	if runLimit > 0 {
		req.MaxPosts = runLimit
	}

	summary, err := a.runner.Run(ctx, req)
	if err != nil {
		if summary.Message != "" {
			return fmt.Errorf("%s", summary.Message)
		}
		return err
	}
	printSummary(out, summary)
	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d posts failed", summary.Failed, summary.Backlog)
	}
	return nil
}

func printSummary(w io.Writer, s processor.RunSummary) {
	fmt.Fprintf(w, "run %s: %s\n", s.RunID, s.Status)
	fmt.Fprintf(w, "crawled %d posts, %d without imagery; backlog %d\n", s.Audit.Total, s.Audit.WithoutImagery, s.Backlog)
	fmt.Fprintf(w, "succeeded %d, failed %d, not started %d\n\n", s.Succeeded, s.Failed, s.NotStarted)
	if len(s.Jobs) == 0 {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "POST\tTITLE\tSTATUS\tMESSAGE")
	for _, j := range s.Jobs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", j.Post.ID, truncate(j.Post.Title, 40), j.Status, j.StatusMessage)
	}
	_ = tw.Flush()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
