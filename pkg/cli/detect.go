package cli

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mchmarny/txrisk/pkg/data"
	"github.com/mchmarny/txrisk/pkg/feature"
	"github.com/mchmarny/txrisk/pkg/model"
	"github.com/mchmarny/txrisk/pkg/pipeline"
	"github.com/mchmarny/txrisk/pkg/report"
	"github.com/mchmarny/txrisk/pkg/risk"
	urfave "github.com/urfave/cli/v3"
)

const (
	modelFlag  = "model"
	topFlag    = "top"
	reportFlag = "report"
	riskFlag   = "risk"
	noSaveFlag = "no-save"
)

func detectCommand() *urfave.Command {
	return &urfave.Command{
		Name:      "detect",
		Usage:     "Score a transaction export and rank it by risk",
		UsageText: "txrisk detect --data data/test.csv [--top 20] [--report out/top.csv]",
		Action:    cmdDetect,
		Flags: []urfave.Flag{
			dataPathFlag(),
			&urfave.StringFlag{
				Name:  modelFlag,
				Usage: "Directory with the trained model artifacts (optional, defaults to config model_dir)",
			},
			&urfave.IntFlag{
				Name:  topFlag,
				Usage: "Number of ranked transactions to report (optional, defaults to config top_n)",
			},
			&urfave.StringFlag{
				Name:  reportFlag,
				Usage: "Write the ranked report to this file, format from extension [csv, json, yaml] (optional)",
			},
			&urfave.StringFlag{
				Name:  riskFlag,
				Usage: fmt.Sprintf("Risk normalization method [%s] (optional, defaults to config risk_method)", strings.Join(methodNames(), ", ")),
			},
			&urfave.BoolFlag{
				Name:  noSaveFlag,
				Usage: "Do not record the run in the history database (optional, default: false)",
			},
			rowLimitFlag(),
		},
	}
}

func cmdDetect(ctx context.Context, cmd *urfave.Command) error {
	cfg := getConfig(ctx)

	dir := cfg.Config.ModelDir
	if v := cmd.String(modelFlag); v != "" {
		dir = v
	}

	method := cfg.Config.RiskMethod
	if v := cmd.String(riskFlag); v != "" {
		method = v
	}
	m, err := risk.ParseMethod(method)
	if err != nil {
		return fmt.Errorf("invalid risk method: %w", err)
	}

	top := cfg.Config.TopN
	if cmd.IsSet(topFlag) {
		top = cmd.Int(topFlag)
	}
	if top < 0 {
		return fmt.Errorf("top must be zero or positive, got %d", top)
	}

	reportPath := cmd.String(reportFlag)
	if reportPath != "" {
		if _, err := report.FormatFromPath(reportPath); err != nil {
			return fmt.Errorf("invalid report path: %w", err)
		}
	}

	mdl, err := model.Load(dir, feature.DefaultSchema())
	if err != nil {
		return fmt.Errorf("error loading model: %w", err)
	}

	rep, err := pipeline.Detect(ctx, mdl, pipeline.DetectOptions{
		DataPath: cmd.String(dataFlag),
		Limit:    cmd.Int(limitFlag),
		Top:      top,
		Method:   m,
	})
	if err != nil {
		return fmt.Errorf("error detecting anomalies: %w", err)
	}

	if reportPath != "" {
		if err := report.WriteFile(reportPath, rep.Top); err != nil {
			return fmt.Errorf("error writing report: %w", err)
		}
		slog.Info("report written", "path", reportPath, "rows", len(rep.Top))
	}

	if !cmd.Bool(noSaveFlag) {
		if err := saveRun(ctx, cfg, dir, rep); err != nil {
			return err
		}
	}

	return encode(ctx, rep)
}

func saveRun(ctx context.Context, cfg *appConfig, modelDir string, rep *pipeline.Report) error {
	s, err := cfg.openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.SaveRun(ctx, toRun(rep, modelDir), toFindings(rep)); err != nil {
		return fmt.Errorf("error saving run: %w", err)
	}
	slog.Debug("run saved", "id", rep.RunID, "findings", len(rep.Top))
	return nil
}

func toRun(rep *pipeline.Report, modelDir string) *data.Run {
	return &data.Run{
		ID:             rep.RunID,
		Source:         rep.Source,
		ModelDir:       modelDir,
		Method:         string(rep.Method),
		CreatedAt:      rep.CreatedAt,
		ModelTrainedAt: rep.TrainedAt,
		Rows:           rep.Rows,
		Scored:         rep.Scored,
		Dropped:        rep.Dropped,
		Anomalies:      rep.Anomalies,
		DropReasons:    rep.DropReasons,
	}
}

func toFindings(rep *pipeline.Report) []*data.Finding {
	list := make([]*data.Finding, 0, len(rep.Top))
	for i, r := range rep.Top {
		tx := r.Transaction
		list = append(list, &data.Finding{
			RunID:         rep.RunID,
			Rank:          i + 1,
			TransactionID: tx.ID,
			Amount:        tx.Amount,
			AnomalyScore:  r.AnomalyScore,
			RiskScore:     r.RiskScore,
			IsAnomaly:     r.IsAnomaly,
			BlockHeight:   tx.BlockHeight,
			Timestamp:     tx.Timestamp,
			Sender:        tx.Sender,
			Receiver:      tx.Receiver,
		})
	}
	return list
}

func methodNames() []string {
	list := make([]string, 0, len(risk.Methods()))
	for _, m := range risk.Methods() {
		list = append(list, string(m))
	}
	return list
}
