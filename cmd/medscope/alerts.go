// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pdiddy/medscope/internal/audit"
	"github.com/pdiddy/medscope/pkg/types"
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Review recorded bias alerts and override conflicts",
	Long: `Alerts reads the audit database (alerts.audit_db) where the engine records
every bias alert and every rare-condition/age-damping override conflict.`,
}

var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded bias alerts, newest first",
	RunE:  runAlertsList,
}

func runAlertsList(cmd *cobra.Command, args []string) error {
	if cfg.Alerts.AuditDB == "" {
		return errors.New("no audit database configured: set alerts.audit_db or MEDSCOPE_ALERTS_AUDIT_DB")
	}

	f, err := filterFromFlags(cmd)
	if err != nil {
		return err
	}
	format, _ := cmd.Flags().GetString("format")
	conflicts, _ := cmd.Flags().GetBool("conflicts")

	store, err := audit.Open(cfg.Alerts.AuditDB, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	w := cmd.OutOrStdout()

	if conflicts {
		recs, err := store.ListConflicts(ctx, f)
		if err != nil {
			return err
		}
		if format == "table" {
			return conflictTable(w, recs)
		}
		return writeOutput(w, format, recs)
	}

	recs, err := store.ListAlerts(ctx, f)
	if err != nil {
		return err
	}
	if format == "table" {
		return alertTable(w, recs)
	}
	return writeOutput(w, format, recs)
}

func filterFromFlags(cmd *cobra.Command) (audit.Filter, error) {
	patient, _ := cmd.Flags().GetString("patient")
	severity, _ := cmd.Flags().GetString("severity")
	since, _ := cmd.Flags().GetDuration("since")
	limit, _ := cmd.Flags().GetInt("limit")

	f := audit.Filter{PatientID: patient, Limit: limit}
	switch sev := types.Severity(strings.ToUpper(severity)); sev {
	case "":
	case types.SeverityModerate, types.SeverityHigh:
		f.Severity = sev
	default:
		return audit.Filter{}, fmt.Errorf("unknown severity %q: use MODERATE or HIGH", severity)
	}
	if since > 0 {
		f.Since = time.Now().Add(-since)
	}
	return f, nil
}

func alertTable(w io.Writer, recs []audit.AlertRecord) error {
	if len(recs) == 0 {
		fmt.Fprintln(w, "No alerts recorded.")
		return nil
	}
	fmt.Fprintf(w, "%-20s  %-16s  %-8s  %-5s  %s\n", "Raised", "Patient", "Severity", "Score", "Factors")
	fmt.Fprintln(w, strings.Repeat("-", 100))
	for _, r := range recs {
		fmt.Fprintf(w, "%-20s  %-16s  %-8s  %5.3f  %s\n",
			r.RaisedAt.UTC().Format(time.DateTime), truncate(r.PatientID, 16), r.Severity, r.BiasScore,
			strings.Join(r.Factors, "; "))
	}
	fmt.Fprintf(w, "\n%d alerts\n", len(recs))
	return nil
}

func conflictTable(w io.Writer, recs []audit.ConflictRecord) error {
	if len(recs) == 0 {
		fmt.Fprintln(w, "No override conflicts recorded.")
		return nil
	}
	fmt.Fprintf(w, "%-20s  %-16s  %-20s  %-3s  %-5s  %s\n", "Recorded", "Patient", "Medication", "Age", "Boost", "Damping")
	fmt.Fprintln(w, strings.Repeat("-", 90))
	for _, r := range recs {
		fmt.Fprintf(w, "%-20s  %-16s  %-20s  %-3d  %5.2f  %.2f\n",
			r.RecordedAt.UTC().Format(time.DateTime), truncate(r.PatientID, 16), truncate(string(r.Medication), 20),
			r.Age, r.Boost, r.DampingFactor)
	}
	fmt.Fprintf(w, "\n%d conflicts\n", len(recs))
	return nil
}

func init() {
	alertsListCmd.Flags().String("patient", "", "filter by patient id")
	alertsListCmd.Flags().String("severity", "", "filter by severity: MODERATE or HIGH")
	alertsListCmd.Flags().Duration("since", 0, "only entries newer than this (e.g. 24h)")
	alertsListCmd.Flags().Int("limit", 0, "maximum entries (0 = 100)")
	alertsListCmd.Flags().Bool("conflicts", false, "list override conflicts instead of alerts")
	alertsListCmd.Flags().String("format", "table", "output format: table, json or yaml")

	alertsCmd.AddCommand(alertsListCmd)
	rootCmd.AddCommand(alertsCmd)
}
