package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jo-hoe/postpainter/internal/provider"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List text and image providers and the credential each needs",
	RunE: func(cmd *cobra.Command, args []string) error {
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "KIND\tID\tNAME\tCREDENTIAL\tMODEL\tAVAILABLE")
		for _, kind := range []provider.Kind{provider.KindText, provider.KindImage} {
			for _, s := range provider.All(kind) {
				holder := string(s.Holder)
				if holder == "" {
					holder = "-"
				}
				model := s.FixedModel
				if s.RequiresModel {
					model = "(required)"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%t\n", kind, s.ID, s.DisplayName, holder, model, s.Implemented)
			}
		}
		if err := tw.Flush(); err != nil {
			return err
		}

		// Credential status needs a config; without one only the vocabulary is shown.
		cfg, _, err := loadConfig()
		if err != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "\nno usable config (%v); credential status unknown\n", err)
			return nil
		}
		missing := cfg.MissingCredentials()
		if len(missing) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "\nall selected providers have credentials")
			return nil
		}
		names := make([]string, len(missing))
		for i, h := range missing {
			names[i] = string(h)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\nmissing credentials for: %s\n", strings.Join(names, ", "))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(providersCmd)
}
