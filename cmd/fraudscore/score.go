package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/SaishPatil24/Fraud-Detection-for-P2P/internal/domain"
	"github.com/urfave/cli/v3"
)

// scoreAction reads one request from stdin and writes exactly one JSON
// object to stdout. Every failure is reported as {"error": ...}.
func scoreAction(ctx context.Context, cmd *cli.Command) error {
	out := cmd.Root().Writer

	cfg, err := loadConfig(cmd)
	if err != nil {
		return writeResult(out, domain.ErrorResult(err))
	}

	data, err := io.ReadAll(cmd.Root().Reader)
	if err != nil {
		return writeResult(out, domain.ErrorResult(fmt.Errorf("Failed to process input: %w", err)))
	}
	req, err := domain.ParseScoreRequest(data)
	if err != nil {
		return writeResult(out, domain.ErrorResult(fmt.Errorf("Failed to process input: %w", err)))
	}

	s, err := openStack(cfg, false)
	if err != nil {
		return writeResult(out, domain.ErrorResult(err))
	}
	defer s.Close()

	engine, _, err := s.engine()
	if err != nil {
		return writeResult(out, domain.ErrorResult(err))
	}

	return writeResult(out, engine.ScoreRequest(ctx, req))
}

// writeResult prints res on one line and maps error results to
// errScoreFailed.
func writeResult(w io.Writer, res domain.ScoringResult) error {
	if err := json.NewEncoder(w).Encode(res); err != nil {
		return err
	}
	if res.Failed() {
		return errScoreFailed
	}
	return nil
}
