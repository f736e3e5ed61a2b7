package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stewmckendry/health-assistant/internal/config"
	"github.com/stewmckendry/health-assistant/internal/core/domain"
	"github.com/stewmckendry/health-assistant/internal/core/usecase"
)

func newClassifyCmd(opts *rootOptions) *cobra.Command {
	var (
		identifiers []string
		asJSON      bool
	)
	cmd := &cobra.Command{
		Use:   "classify [question]",
		Short: "Show the retrieval strategy for a question",
		Long: `Runs only the query classifier. No store is contacted, so this works
without Postgres, Qdrant or a model server.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			profile, err := config.LoadProfile(opts.config().DomainProfilePath)
			if err != nil {
				return err
			}
			query := domain.Query{Hints: domain.Hints{Identifiers: identifiers}}
			if len(args) == 1 {
				query.Text = args[0]
			}
			if err := query.Validate(); err != nil {
				return err
			}

			cls := usecase.NewClassifier(&profile).Classify(query)
			if asJSON {
				data, err := json.MarshalIndent(cls, "", "  ")
				if err != nil {
					return fmt.Errorf("marshal classification: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Strategy: %s\n", cls.Strategy)
			fmt.Fprintf(cmd.OutOrStdout(), "Reason:   %s\n", cls.Reason)
			if len(cls.Identifiers) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "Identifiers: %s\n", strings.Join(cls.Identifiers, ", "))
			}
			for _, r := range cls.Ranges {
				fmt.Fprintf(cmd.OutOrStdout(), "Range: %s %s %g\n", r.Field, r.Op, r.Value)
			}
			if len(cls.Terms) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "Terms: %s\n", strings.Join(cls.Terms, ", "))
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&identifiers, "id", nil, "identifier hint (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}
