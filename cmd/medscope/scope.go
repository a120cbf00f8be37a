// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/medscope/internal/retrieval"
	"github.com/pdiddy/medscope/pkg/types"
)

var scopeCmd = &cobra.Command{
	Use:   "scope [record.json ...]",
	Short: "Compute section scopes for patient records",
	Long: `Scope reads normalized patient records as JSON (one object or an array
of objects per file, "-" for stdin), builds each patient's risk profile,
selects monograph sections per medication, applies rare-condition and age
fairness adjustments, and prints the scope result with its bias assessment.

With --retrieve the scoped requests are also run against the configured
retrieval backend. A retrieval failure is reported per medication and does
not invalidate the scope result.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runScope,
}

// scopeOutput is one entry of the scope command's output.
type scopeOutput struct {
	PatientID string                  `json:"patient_id" yaml:"patient_id"`
	Result    *types.ScopeResult      `json:"result,omitempty" yaml:"result,omitempty"`
	Retrieval []types.RetrievalResult `json:"retrieval,omitempty" yaml:"retrieval,omitempty"`
	Error     string                  `json:"error,omitempty" yaml:"error,omitempty"`
}

func runScope(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	retrieve, _ := cmd.Flags().GetBool("retrieve")
	failOnBias, _ := cmd.Flags().GetBool("fail-on-bias")

	var recs []types.PatientRecord
	for _, path := range args {
		r, err := readRecords(path, cmd.InOrStdin())
		if err != nil {
			return err
		}
		recs = append(recs, r...)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	outcomes, err := a.engine.AnalyzeBatch(ctx, recs)
	if err != nil {
		return fmt.Errorf("analysis interrupted: %w", err)
	}

	var (
		backend retrieval.Backend
		release = func() {}
	)
	if retrieve {
		backend, release, err = openBackend(cfg, logger)
		if err != nil {
			return err
		}
	}
	defer release()

	out := make([]scopeOutput, len(outcomes))
	var failed, biased int
	for i, o := range outcomes {
		out[i] = scopeOutput{PatientID: o.PatientID, Result: o.Result}
		if o.Err != nil {
			out[i].Error = o.Err.Error()
			failed++
			continue
		}
		if o.Result.BiasAssessment.FairnessStatus == types.FairnessFail {
			biased++
		}
		if backend != nil {
			reqs := retrieval.Plan(o.Result, []string(recs[i].Conditions), cfg.Retrieval.PerSection)
			results, err := retrieval.Run(ctx, backend, reqs, retrieval.Options{
				Timeout: cfg.Retrieval.MedicationTimeout,
				Log:     logger,
			})
			if err != nil {
				return fmt.Errorf("retrieval interrupted: %w", err)
			}
			out[i].Retrieval = results
			if missing := retrieval.Failed(results); len(missing) > 0 {
				logger.Warn("retrieval incomplete",
					zap.String("patient_id", o.PatientID),
					zap.Int("failed_medications", len(missing)),
				)
			}
		}
	}

	if err := writeOutput(cmd.OutOrStdout(), format, out); err != nil {
		return err
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d record(s) could not be scoped", failed, len(recs))
	}
	if failOnBias && biased > 0 {
		return fmt.Errorf("%d of %d result(s) failed the fairness check", biased, len(recs))
	}
	return nil
}

// readRecords decodes one record or an array of records from path.
func readRecords(path string, stdin io.Reader) ([]types.PatientRecord, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("reading %s: empty input", path)
	}

	if trimmed[0] == '[' {
		var recs []types.PatientRecord
		if err := json.Unmarshal(trimmed, &recs); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", path, err)
		}
		return recs, nil
	}

	var rec types.PatientRecord
	if err := json.Unmarshal(trimmed, &rec); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return []types.PatientRecord{rec}, nil
}

func writeOutput(w io.Writer, format string, v any) error {
	switch format {
	case "json", "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return errors.New("unsupported format " + format + ": use json or yaml")
	}
}

func init() {
	scopeCmd.Flags().String("format", "json", "output format: json or yaml")
	scopeCmd.Flags().Bool("retrieve", false, "run scoped retrieval against the configured backend")
	scopeCmd.Flags().Bool("fail-on-bias", false, "exit non-zero when any result fails the fairness check")

	rootCmd.AddCommand(scopeCmd)
}
