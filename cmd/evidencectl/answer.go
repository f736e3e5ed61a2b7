package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/stewmckendry/health-assistant/internal/core/domain"
	"github.com/stewmckendry/health-assistant/internal/infrastructure/export/xlsx"
)

func newAnswerCmd(opts *rootOptions) *cobra.Command {
	var (
		identifiers []string
		topK        int
		asJSON      bool
		exportPath  string

		relationalTimeout time.Duration
		semanticTimeout   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "answer [question]",
		Short: "Answer a question from both evidence sources",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := domain.Query{Hints: domain.Hints{Identifiers: identifiers}}
			if len(args) == 1 {
				query.Text = args[0]
			}
			if err := query.Validate(); err != nil {
				return err
			}

			app, err := opts.app(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			resp, err := app.Engine.Answer(cmd.Context(), query, domain.AnswerOptions{
				TopK:              topK,
				RelationalTimeout: relationalTimeout,
				SemanticTimeout:   semanticTimeout,
			})
			if err != nil {
				return err
			}

			if exportPath != "" {
				if err := writeWorkbook(exportPath, query.Text, resp); err != nil {
					return err
				}
				cmd.PrintErrf("wrote %s\n", exportPath)
			}
			if asJSON {
				data, err := json.MarshalIndent(resp, "", "  ")
				if err != nil {
					return fmt.Errorf("marshal response: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			}
			printResponse(cmd.OutOrStdout(), resp)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&identifiers, "id", nil, "identifier hint, e.g. --id A135 (repeatable)")
	cmd.Flags().IntVar(&topK, "top-k", 0, "maximum semantic passages to keep (0 = engine default)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output the full response as JSON")
	cmd.Flags().StringVar(&exportPath, "export", "", "also write the response to an .xlsx workbook")
	cmd.Flags().DurationVar(&relationalTimeout, "relational-timeout", 0, "deadline for the structured tables (0 = engine default)")
	cmd.Flags().DurationVar(&semanticTimeout, "semantic-timeout", 0, "deadline for the document search (0 = engine default)")
	return cmd
}

func writeWorkbook(path, query string, resp *domain.Response) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create workbook: %w", err)
	}
	if err := xlsx.Write(f, query, resp); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func printResponse(out io.Writer, resp *domain.Response) {
	if resp.Fault != nil {
		fmt.Fprintf(out, "Fault: %s (%s)\n", resp.Fault.Message, resp.Fault.Kind)
	}
	fmt.Fprintf(out, "Strategy:   %s (%s)\n", resp.Strategy, resp.StrategyReason)
	fmt.Fprintf(out, "Confidence: %.2f\n", resp.Confidence)

	if len(resp.Items) == 0 {
		fmt.Fprintln(out, "No evidence found.")
	} else {
		fmt.Fprintln(out)
		for i, item := range resp.Items {
			label := item.Key
			if label == "" {
				label = item.Title
			}
			origins := make([]string, 0, len(item.Origins))
			for _, o := range item.Origins {
				origins = append(origins, string(o))
			}
			fmt.Fprintf(out, "  [%d] %s (%s)\n", i+1, label, strings.Join(origins, "+"))
			if fields := formatFields(item.Fields); fields != "" {
				fmt.Fprintf(out, "      %s\n", fields)
			}
			if item.Text != "" {
				fmt.Fprintf(out, "      %s\n", truncate(item.Text, 160))
			}
			for _, c := range item.Citations {
				fmt.Fprintf(out, "      cite: %s\n", c.String())
			}
		}
	}

	for _, c := range resp.Conflicts {
		fmt.Fprintf(out, "Conflict [%s] %s.%s: relational=%v semantic=%v, kept %s\n",
			c.Severity, c.EntityKey, c.Field, c.RelationalValue, c.SemanticValue, c.KeptOrigin)
	}
	for _, f := range resp.Followups {
		fmt.Fprintf(out, "Follow-up: %s\n", f)
	}
}

func formatFields(fields map[string]any) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return strings.Join(parts, " ")
}

func truncate(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n]) + "..."
}
