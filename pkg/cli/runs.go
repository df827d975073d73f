package cli

import (
	"context"
	"fmt"

	"github.com/mchmarny/txrisk/pkg/data"
	urfave "github.com/urfave/cli/v3"
)

const (
	idFlag = "id"
)

// RunDetail is a stored run with its ranked findings.
type RunDetail struct {
	Run      *data.Run       `json:"run" yaml:"run"`
	Findings []*data.Finding `json:"findings" yaml:"findings"`
}

func runsCommand() *urfave.Command {
	return &urfave.Command{
		Name:  "runs",
		Usage: "Browse the detection run history",
		Commands: []*urfave.Command{
			{
				Name:      "list",
				Usage:     "List recent detection runs",
				UsageText: "txrisk runs list [--limit 20]",
				Action:    cmdRunsList,
				Flags: []urfave.Flag{
					historyLimitFlag(),
				},
			},
			{
				Name:      "show",
				Usage:     "Show one run with its ranked findings",
				UsageText: "txrisk runs show --id <run-id> [--limit 20]",
				Action:    cmdRunsShow,
				Flags: []urfave.Flag{
					&urfave.StringFlag{
						Name:     idFlag,
						Usage:    "Run ID",
						Required: true,
					},
					historyLimitFlag(),
				},
			},
			{
				Name:      "stats",
				Usage:     "Show counts across the run history",
				UsageText: "txrisk runs stats",
				Action:    cmdRunsStats,
			},
		},
	}
}

func historyLimitFlag() urfave.Flag {
	return &urfave.IntFlag{
		Name:  limitFlag,
		Usage: "Maximum number of items to return",
		Value: data.ListLimitDefault,
	}
}

func cmdRunsList(ctx context.Context, cmd *urfave.Command) error {
	s, err := getConfig(ctx).openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	list, err := s.ListRuns(ctx, cmd.Int(limitFlag))
	if err != nil {
		return fmt.Errorf("error listing runs: %w", err)
	}

	return encode(ctx, list)
}

func cmdRunsShow(ctx context.Context, cmd *urfave.Command) error {
	s, err := getConfig(ctx).openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	id := cmd.String(idFlag)
	r, err := s.GetRun(ctx, id)
	if err != nil {
		return fmt.Errorf("error getting run %s: %w", id, err)
	}

	f, err := s.GetFindings(ctx, id, cmd.Int(limitFlag))
	if err != nil {
		return fmt.Errorf("error getting findings for run %s: %w", id, err)
	}

	return encode(ctx, &RunDetail{Run: r, Findings: f})
}

func cmdRunsStats(ctx context.Context, _ *urfave.Command) error {
	s, err := getConfig(ctx).openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	state, err := s.GetDataState(ctx)
	if err != nil {
		return fmt.Errorf("error getting state: %w", err)
	}

	return encode(ctx, state)
}
