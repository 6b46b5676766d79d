package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jo-hoe/postpainter/internal/apperr"
	"github.com/jo-hoe/postpainter/internal/crawl"
	"github.com/jo-hoe/postpainter/internal/jobs"
)

var crawlAll bool

var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Audit existing imagery and show the backlog order without changing anything",
	RunE:  runCrawl,
}

func init() {
	crawlCmd.Flags().BoolVar(&crawlAll, "all", false, "include posts that already have imagery in the backlog")
	rootCmd.AddCommand(crawlCmd)
}

func runCrawl(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg, logger)
	if err != nil {
		return fmt.Errorf("%s", apperr.UserMessage(err))
	}
	defer func() { _ = a.Close() }()

	out := cmd.OutOrStdout()
	res, err := a.crawler.Crawl(cmd.Context(), cfg.CMSCredentials(), func(fetched, total int) {
		fmt.Fprintf(out, "fetched %d/%d\n", fetched, total)
	})
	if err != nil {
		return fmt.Errorf("%s", apperr.UserMessage(err))
	}

	au := res.Audit
	fmt.Fprintf(out, "\ntotal %d, featured %d, inline images %d, without imagery %d\n\n",
		au.Total, au.WithFeatured, au.WithInlineImages, au.WithoutImagery)

	backlog := jobs.SortByPriority(crawl.Filter(res.Posts, cfg.Pipeline.OnlyMissingImagery() && !crawlAll))
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tPOST\tFEATURED\tIMAGES\tTITLE")
	for i, p := range backlog {
		fmt.Fprintf(tw, "%d\t%d\t%t\t%d\t%s\n", i+1, p.ID, p.FeaturedMediaID != 0, p.ImageCount, truncate(p.Title, 50))
	}
	return tw.Flush()
}
