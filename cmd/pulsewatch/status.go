package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hazz-dev/pulsewatch/internal/storage"
)

type statusStore interface {
	LatestChecks(ctx context.Context) ([]storage.HealthCheck, error)
	OpenIncidents(ctx context.Context, tenant string) ([]storage.Incident, error)
}

func executeStatus(cmd *cobra.Command, db statusStore) error {
	out := cmd.OutOrStdout()
	checks, err := db.LatestChecks(context.Background())
	if err != nil {
		return fmt.Errorf("querying status: %w", err)
	}

	if len(checks) == 0 {
		fmt.Fprintln(out, "No check history. Run 'pulsewatch serve' or 'pulsewatch check' first.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TENANT\tCHECK\tSTATUS\tLATENCY\tLAST CHECKED\tERROR")
	for _, c := range checks {
		latency := "—"
		if c.LatencyMs > 0 {
			latency = (time.Duration(c.LatencyMs) * time.Millisecond).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			c.Tenant,
			c.Kind,
			c.Status,
			latency,
			c.CheckedAt.Local().Format("2006-01-02 15:04:05"),
			c.Error,
		)
	}
	w.Flush()

	open, err := db.OpenIncidents(context.Background(), "")
	if err != nil {
		return fmt.Errorf("querying open incidents: %w", err)
	}
	if len(open) > 0 {
		fmt.Fprintf(out, "\n%d open incident(s):\n", len(open))
		iw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(iw, "TENANT\tCHECK\tSTARTED\tDETAILS")
		for _, inc := range open {
			fmt.Fprintf(iw, "%s\t%s\t%s\t%s\n",
				inc.Tenant,
				inc.Kind,
				inc.StartedAt.Local().Format("2006-01-02 15:04:05"),
				inc.Details,
			)
		}
		iw.Flush()
	}
	return nil
}
