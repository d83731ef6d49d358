package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"yaha-bot/internal/app"
)

var classifyCmd = &cobra.Command{
	Use:   "classify [text]",
	Short: "Show which container a message would be filed under",
	Args:  cobra.MinimumNArgs(1),
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

		res, err := a.Classifier.Classify(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			return fmt.Errorf("classifying: %w", err)
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func init() {
	rootCmd.AddCommand(classifyCmd)
}
