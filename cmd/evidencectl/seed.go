package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/stewmckendry/health-assistant/internal/core/domain"
	"github.com/stewmckendry/health-assistant/internal/infrastructure/vector/qdrant"
)

type seedFile struct {
	Rows     []seedRow     `yaml:"rows"`
	Passages []seedPassage `yaml:"passages"`
}

type seedRow struct {
	Key      string         `yaml:"key"`
	Source   string         `yaml:"source"`
	Location string         `yaml:"location"`
	Page     int            `yaml:"page"`
	Fields   map[string]any `yaml:"fields"`
}

type seedPassage struct {
	ID       string         `yaml:"id"`
	Text     string         `yaml:"text"`
	Metadata map[string]any `yaml:"metadata"`
}

func parseSeedFile(raw []byte) ([]domain.RelationalRow, []qdrant.PassageRecord, error) {
	var file seedFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, nil, domain.WrapError(domain.ErrInvalidInput, "parse seed file", err)
	}
	rows := make([]domain.RelationalRow, 0, len(file.Rows))
	for i, r := range file.Rows {
		if r.Key == "" {
			return nil, nil, domain.WrapError(domain.ErrInvalidInput, "parse seed file", fmt.Errorf("row %d has no key", i))
		}
		rows = append(rows, domain.RelationalRow{
			Key:      r.Key,
			Fields:   r.Fields,
			Source:   r.Source,
			Location: r.Location,
			Page:     r.Page,
		})
	}
	passages := make([]qdrant.PassageRecord, 0, len(file.Passages))
	for i, p := range file.Passages {
		if p.Text == "" {
			return nil, nil, domain.WrapError(domain.ErrInvalidInput, "parse seed file", fmt.Errorf("passage %d has no text", i))
		}
		passages = append(passages, qdrant.PassageRecord{ID: p.ID, Text: p.Text, Metadata: p.Metadata})
	}
	return rows, passages, nil
}

func newSeedCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "seed [file]",
		Short: "Load relational rows and passages from a YAML or JSON file",
		Long: `Loads a fixture file of the form

  rows:
    - key: A135
      source: ohip_schedule
      location: A135
      fields: {fee: 61.15}
  passages:
    - text: "A135 is paid at $61.15 ..."
      metadata: {source: sob.pdf, page: 44, code: A135}

Rows go to the configured relational store; passages are embedded and
indexed in Qdrant.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read seed file: %w", err)
			}
			rows, passages, err := parseSeedFile(raw)
			if err != nil {
				return err
			}

			app, err := opts.app(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.Seed(cmd.Context(), rows, passages); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d rows and %d passages\n", len(rows), len(passages))
			return nil
		},
	}
}
