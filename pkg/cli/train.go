package cli

import (
	"context"
	"fmt"

	"github.com/mchmarny/txrisk/pkg/feature"
	"github.com/mchmarny/txrisk/pkg/forest"
	"github.com/mchmarny/txrisk/pkg/pipeline"
	urfave "github.com/urfave/cli/v3"
)

const (
	dataFlag          = "data"
	limitFlag         = "limit"
	outFlag           = "out"
	treesFlag         = "trees"
	contaminationFlag = "contamination"
	seedFlag          = "seed"
	sampleSizeFlag    = "sample-size"
)

func dataPathFlag() urfave.Flag {
	return &urfave.StringFlag{
		Name:     dataFlag,
		Usage:    "Transaction CSV export, file path or http(s) URL (.csv or .csv.gz)",
		Required: true,
	}
}

func rowLimitFlag() urfave.Flag {
	return &urfave.IntFlag{
		Name:  limitFlag,
		Usage: "Read at most this many data rows (optional, default: all)",
	}
}

func trainCommand() *urfave.Command {
	return &urfave.Command{
		Name:      "train",
		Usage:     "Train the anomaly model on a transaction export",
		UsageText: "txrisk train --data data/train.csv [--out model] [--trees 200]",
		Action:    cmdTrain,
		Flags: []urfave.Flag{
			dataPathFlag(),
			&urfave.StringFlag{
				Name:  outFlag,
				Usage: "Directory to write the model artifacts to (optional, defaults to config model_dir)",
			},
			&urfave.IntFlag{
				Name:  treesFlag,
				Usage: fmt.Sprintf("Number of trees in the ensemble (optional, default: %d)", forest.TreesDefault),
			},
			&urfave.FloatFlag{
				Name:  contaminationFlag,
				Usage: fmt.Sprintf("Expected share of anomalies in (0, 0.5] (optional, default: %v)", forest.ContaminationDefault),
			},
			&urfave.IntFlag{
				Name:  seedFlag,
				Usage: fmt.Sprintf("Random seed (optional, default: %d)", forest.SeedDefault),
			},
			&urfave.IntFlag{
				Name:  sampleSizeFlag,
				Usage: fmt.Sprintf("Rows sampled per tree (optional, default: %d)", forest.SampleSizeDefault),
			},
			rowLimitFlag(),
		},
	}
}

func cmdTrain(ctx context.Context, cmd *urfave.Command) error {
	cfg := getConfig(ctx)

	opt := pipeline.TrainOptions{
		DataPath: cmd.String(dataFlag),
		ModelDir: cfg.Config.ModelDir,
		Limit:    cmd.Int(limitFlag),
		Forest:   forestConfig(cmd, cfg.Config.Forest),
	}
	if v := cmd.String(outFlag); v != "" {
		opt.ModelDir = v
	}

	s, err := pipeline.Train(ctx, feature.DefaultSchema(), opt)
	if err != nil {
		return fmt.Errorf("error training model: %w", err)
	}

	return encode(ctx, s)
}

// forestConfig overlays explicitly set flags on the configured values.
func forestConfig(cmd *urfave.Command, c forest.Config) forest.Config {
	if cmd.IsSet(treesFlag) {
		c.Trees = cmd.Int(treesFlag)
	}
	if cmd.IsSet(contaminationFlag) {
		c.Contamination = cmd.Float(contaminationFlag)
	}
	if cmd.IsSet(seedFlag) {
		c.Seed = int64(cmd.Int(seedFlag))
	}
	if cmd.IsSet(sampleSizeFlag) {
		c.SampleSize = cmd.Int(sampleSizeFlag)
	}
	return c
}
