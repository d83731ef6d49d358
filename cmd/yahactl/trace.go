package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"yaha-bot/internal/app"
	"yaha-bot/internal/domain"
	"yaha-bot/internal/tracer"
)

var traceFormat string

var traceCmd = &cobra.Command{
	Use:   "trace [correlation-id]",
	Short: "Explain which hop broke for a correlation id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := app.Build(cmd.Context(), cfg)
		if err != nil {
			return fmt.Errorf("building pipeline: %w", err)
		}
		defer a.Close()

		d, entries, err := tracer.Lookup(cmd.Context(), a.Traces, args[0])
		if err != nil {
			return err
		}
		return writeReport(cmd.OutOrStdout(), traceFormat, newReport(d, entries))
	},
}

func init() {
	traceCmd.Flags().StringVar(&traceFormat, "format", "yaml", "output format: yaml or json")
	rootCmd.AddCommand(traceCmd)
}

type eventLine struct {
	Entry  string             `json:"entry" yaml:"entry"`
	Stage  domain.Stage       `json:"stage" yaml:"stage"`
	Status domain.EventStatus `json:"status" yaml:"status"`
	Error  string             `json:"error,omitempty" yaml:"error,omitempty"`
	At     time.Time          `json:"at" yaml:"at"`
}

type report struct {
	Diagnosis tracer.Diagnosis `json:"diagnosis" yaml:"diagnosis"`
	Timeline  []eventLine      `json:"timeline" yaml:"timeline"`
}

func newReport(d tracer.Diagnosis, entries []domain.ShadowLogEntry) report {
	r := report{Diagnosis: d}
	for _, e := range entries {
		for _, ev := range e.Events {
			r.Timeline = append(r.Timeline, eventLine{Entry: e.ID, Stage: ev.Stage, Status: ev.Status, Error: ev.Error, At: ev.At})
		}
	}
	return r
}

func writeReport(w io.Writer, format string, r report) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown format %q (want yaml or json)", format)
	}
}
