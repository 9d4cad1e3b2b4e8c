package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/acme/product-pipeline/internal/application"
	"github.com/acme/product-pipeline/internal/domain/capsim"
)

func runSimulate(cmd *cobra.Command, args []string) error {
	candidateID, _ := cmd.Flags().GetString("candidate")
	if candidateID == "" {
		return fmt.Errorf("--candidate is required")
	}
	inputPath, _ := cmd.Flags().GetString("input")

	req := application.StageKRequest{CandidateID: candidateID}
	if inputPath != "" {
		data, err := os.ReadFile(inputPath)
		if err != nil {
			return fmt.Errorf("failed to read input file: %w", err)
		}
		var input capsim.Input
		if err := json.Unmarshal(data, &input); err != nil {
			return fmt.Errorf("input file must be a JSON cashflow schedule: %w", err)
		}
		req.Input = &input
	}

	rt, err := buildRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.close()

	repos := rt.manager.Repository()
	if repos == nil {
		return fmt.Errorf("simulation requires database.enabled: true")
	}

	stageK := application.NewStageKRunner(repos, rt.cache, rt.velocity, log.Logger)

	ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
	defer cancel()

	report, err := stageK.Run(ctx, req)
	if err != nil {
		var cooldownErr *application.CooldownRefusalError
		var gateErr *application.GateRefusalError
		switch {
		case errors.As(err, &cooldownErr):
			fmt.Printf("refused: cooldown active for %s (%s)\n", cooldownErr.Fingerprint, cooldownErr.Severity)
			if cooldownErr.WhatWouldChange != "" {
				fmt.Printf("would change: %s\n", cooldownErr.WhatWouldChange)
			}
		case errors.As(err, &gateErr):
			fmt.Printf("refused: %s\n", gateErr.Decision.Detail)
		}
		return fmt.Errorf("simulation failed: %w", err)
	}

	if report.Reused {
		log.Info().Str("run", report.RunID).Msg("identical inputs, reusing earlier run")
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
