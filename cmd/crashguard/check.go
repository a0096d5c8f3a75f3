package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/t77yq/crashguard/internal/client"
	"github.com/t77yq/crashguard/internal/model"
	"github.com/t77yq/crashguard/internal/monitor"
)

func newCheckCmd(load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Fetch one risk snapshot and show the alert it would raise",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Backend.Timeout+time.Second)
			defer cancel()

			riskClient := client.NewCrashGuardClient(cfg.Backend.BaseURL, cfg.Backend.Timeout, logger)
			snapshot, err := riskClient.FetchRiskSnapshot(ctx)
			if err != nil {
				return fmt.Errorf("risk check failed: %w", err)
			}
			snapshot.ReceivedAt = time.Now()

			return printCheck(cmd.OutOrStdout(), snapshot, monitor.NewDeriver())
		},
	}
}

type checkResult struct {
	Snapshot model.RiskSnapshot `json:"snapshot"`
	Alert    *model.Alert       `json:"alert"`
}

func printCheck(w io.Writer, snapshot model.RiskSnapshot, deriver *monitor.Deriver) error {
	result := checkResult{Snapshot: snapshot}
	if alert, ok := deriver.Derive(snapshot, nil); ok {
		result.Alert = &alert
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
