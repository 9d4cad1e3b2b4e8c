package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/acme/product-pipeline/internal/application"
)

func registerAdmitFlags(flags *pflag.FlagSet) {
	flags.String("input", "", "Path to JSON file with lead submissions (required)")
	flags.Int("batch-cap", 0, "Promotion cap for this batch (0 uses the configured default)")
	flags.Bool("json", false, "Print the full batch result as JSON")
}

func runAdmit(cmd *cobra.Command, args []string) error {
	inputPath, _ := cmd.Flags().GetString("input")
	if inputPath == "" {
		return fmt.Errorf("--input is required")
	}
	batchCap, _ := cmd.Flags().GetInt("batch-cap")
	asJSON, _ := cmd.Flags().GetBool("json")

	data, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("failed to read input file: %w", err)
	}
	var submissions []application.LeadSubmission
	if err := json.Unmarshal(data, &submissions); err != nil {
		return fmt.Errorf("input file must be a JSON array of lead submissions: %w", err)
	}
	if len(submissions) == 0 {
		return fmt.Errorf("input file contains no leads")
	}

	rt, err := buildRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.close()

	repos := rt.manager.Repository()
	if repos == nil {
		return fmt.Errorf("admission requires database.enabled: true")
	}

	admitter := application.NewAdmissionRunner(repos, rt.cache, rt.cfg, log.Logger)

	ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
	defer cancel()

	log.Info().Int("leads", len(submissions)).Int("batch_cap", batchCap).Msg("starting admission batch")

	result, err := admitter.Run(ctx, submissions, batchCap)
	if err != nil {
		return fmt.Errorf("admission batch failed: %w", err)
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	for i, o := range result.Outcomes {
		switch {
		case o.Error != "":
			fmt.Printf("%3d  error      %s\n", i+1, o.Error)
		case o.DuplicateOf != "":
			fmt.Printf("%3d  %-9s  score=%-3d duplicate of %s\n", i+1, o.Disposition, o.Score, o.DuplicateOf)
		default:
			fmt.Printf("%3d  %-9s  score=%-3d %s\n", i+1, o.Disposition, o.Score, o.Fingerprint)
		}
	}
	fmt.Printf("\nPromoted %d of %d leads, %d promotions left today\n",
		result.PromotedCount, len(result.Outcomes), result.QuotaRemaining)

	return nil
}
