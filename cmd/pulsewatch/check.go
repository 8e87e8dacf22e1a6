package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hazz-dev/pulsewatch/internal/config"
	"github.com/hazz-dev/pulsewatch/internal/credential"
	"github.com/hazz-dev/pulsewatch/internal/probe"
)

func executeCheck(cmd *cobra.Command, cfg *config.Config) error {
	return runProbes(cmd.OutOrStdout(), cfg)
}

func runProbes(out io.Writer, cfg *config.Config) error {
	type entry struct {
		tenant  string
		kind    probe.Kind
		outcome probe.Outcome
	}

	tokens := credential.New(slog.Default())

	var mu sync.Mutex
	var results []entry
	var wg sync.WaitGroup

	for _, t := range cfg.Tenants {
		wg.Add(1)
		go func(t config.Tenant) {
			defer wg.Done()

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			token, tokenErr := tokens.AccessToken(ctx, t)

			var tenantWG sync.WaitGroup
			for kind, target := range t.Endpoints {
				tenantWG.Add(1)
				go func(kind probe.Kind, target string) {
					defer tenantWG.Done()

					desc := probe.Descriptor{Tenant: t.ID, Kind: kind}
					var outcome probe.Outcome
					if probe.RequiresAuth(kind) && tokenErr != nil {
						outcome = probe.Outcome{
							Status:       probe.StatusDown,
							ErrorCode:    "credentials",
							ErrorMessage: tokenErr.Error(),
							CheckedAt:    time.Now(),
						}
					} else {
						p, err := probe.New(desc, target, cfg.ProbeTimeout.Duration)
						if err != nil {
							outcome = probe.Outcome{
								Status:       probe.StatusDown,
								ErrorMessage: fmt.Sprintf("creating probe: %v", err),
								CheckedAt:    time.Now(),
							}
						} else {
							pctx, pcancel := context.WithTimeout(ctx, cfg.ProbeTimeout.Duration)
							defer pcancel()
							outcome = p.Probe(pctx, token)
						}
					}

					mu.Lock()
					results = append(results, entry{tenant: t.ID, kind: kind, outcome: outcome})
					mu.Unlock()
				}(kind, target)
			}
			tenantWG.Wait()
		}(t)
	}
	wg.Wait()

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TENANT\tCHECK\tSTATUS\tLATENCY\tERROR")
	allUp := true
	for _, t := range cfg.Tenants {
		for _, kind := range probe.Kinds {
			for _, r := range results {
				if r.tenant != t.ID || r.kind != kind {
					continue
				}
				latency := "—"
				if r.outcome.Latency > 0 {
					latency = r.outcome.Latency.Round(time.Millisecond).String()
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					r.tenant,
					r.kind,
					r.outcome.Status,
					latency,
					r.outcome.ErrorMessage,
				)
				if r.outcome.Status != probe.StatusUp {
					allUp = false
				}
			}
		}
	}
	w.Flush()

	if !allUp {
		return fmt.Errorf("one or more endpoints are not up")
	}
	return nil
}
