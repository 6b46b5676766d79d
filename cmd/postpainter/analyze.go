package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jo-hoe/postpainter/internal/apperr"
	"github.com/jo-hoe/postpainter/internal/jobs"
)

var analyzePostID int64

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Score an existing post image with the vision model and suggest alt text",
	RunE:  runAnalyze,
}

func init() {
	analyzeCmd.Flags().Int64Var(&analyzePostID, "post", 0, "post id")
	_ = analyzeCmd.MarkFlagRequired("post")
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg, logger)
	if err != nil {
		return fmt.Errorf("%s", apperr.UserMessage(err))
	}
	defer func() { _ = a.Close() }()

	res, err := a.crawler.Crawl(cmd.Context(), cfg.CMSCredentials(), nil)
	if err != nil {
		return fmt.Errorf("%s", apperr.UserMessage(err))
	}
	for _, p := range res.Posts {
		if p.ID != analyzePostID {
			continue
		}
		job, err := a.pipeline.Recheck(cmd.Context(), uuid.NewString(), p)
		if err != nil {
			return fmt.Errorf("%s", job.StatusMessage)
		}
		printAnalysis(cmd, job)
		return nil
	}
	return fmt.Errorf("post %d not found", analyzePostID)
}

func printAnalysis(cmd *cobra.Command, job jobs.Job) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "post %d: %s\n", job.Post.ID, job.Post.Title)
	if job.Analysis == nil {
		return
	}
	fmt.Fprintf(out, "quality:    %d/10\n", job.Analysis.QualityScore)
	fmt.Fprintf(out, "alt text:   %s\n", job.Analysis.AltText)
	fmt.Fprintf(out, "brief:      %s\n", job.Analysis.Brief)
	fmt.Fprintf(out, "regenerate: %t\n", job.Analysis.Regenerate)
}
