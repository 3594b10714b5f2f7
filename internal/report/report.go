// Package report assembles point-in-time status snapshots and the
// downloadable artifact a finished run is packaged into.
package report

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banksia-harness/banksia/internal/check"
	"github.com/banksia-harness/banksia/internal/runner"
	"github.com/banksia-harness/banksia/internal/store"
	"github.com/banksia-harness/banksia/internal/timeline"
	"github.com/banksia-harness/banksia/internal/variable"
	"github.com/banksia-harness/banksia/pkg/types"
)

// timelineIntervalSeconds is the sampling resolution of status timelines.
const timelineIntervalSeconds = 5

// Builder produces status snapshots and run artifacts.
type Builder struct {
	checks   *check.Engine
	timeline *timeline.Engine
	resolver *variable.Resolver
	log      *slog.Logger
}

// New wires a Builder to the engines it reads through.
func New(checks *check.Engine, tl *timeline.Engine, resolver *variable.Resolver, log *slog.Logger) *Builder {
	return &Builder{checks: checks, timeline: tl, resolver: resolver, log: log}
}

// Status builds the full status snapshot for the active run: per-step
// progress, the declared criteria evaluated against the current database
// state and a timeline from start until now.
func (b *Builder) Status(ctx context.Context, sess store.Session, proc *runner.ActiveTestProcedure, history []types.RequestEntry, last *types.ClientInteraction, now time.Time) (*types.RunnerStatus, error) {
	cc := &check.Context{Procedure: proc, Session: sess, Resolver: b.resolver}
	results, err := b.checks.RunAll(ctx, cc, proc.Definition.Criteria)
	if err != nil {
		return nil, fmt.Errorf("evaluating criteria: %w", err)
	}

	tl, err := b.runTimeline(ctx, sess, proc, now)
	if err != nil {
		return nil, err
	}

	status := &types.RunnerStatus{
		TestProcedureName: proc.Name,
		StatusSummary:     summarise(proc),
		Steps:             proc.StepSummaries(),
		CheckResults:      results,
		Timeline:          tl,
		RequestHistory:    history,
	}
	if last != nil {
		status.LastClientInteraction = *last
	}
	return status, nil
}

// Finish packages the run into a zip: the final status snapshot, the
// procedure definition and the request history.
func (b *Builder) Finish(ctx context.Context, sess store.Session, proc *runner.ActiveTestProcedure, history []types.RequestEntry, now time.Time) ([]byte, error) {
	status, err := b.Status(ctx, sess, proc, history, nil, now)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)

	summary, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding summary: %w", err)
	}
	if err := addFile(w, "summary.json", summary); err != nil {
		return nil, err
	}

	definition, err := yaml.Marshal(proc.Definition)
	if err != nil {
		return nil, fmt.Errorf("encoding procedure definition: %w", err)
	}
	if err := addFile(w, "test_procedure.yaml", definition); err != nil {
		return nil, err
	}

	requests, err := json.MarshalIndent(history, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding request history: %w", err)
	}
	if err := addFile(w, "request_history.json", requests); err != nil {
		return nil, err
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("closing artifact: %w", err)
	}
	b.log.Info("run artifact packaged", "procedure", proc.Name, "run", proc.RunID, "bytes", buf.Len())
	return buf.Bytes(), nil
}

func (b *Builder) runTimeline(ctx context.Context, sess store.Session, proc *runner.ActiveTestProcedure, now time.Time) (*types.Timeline, error) {
	if !proc.IsStarted() || now.Before(*proc.StartedAt) {
		return nil, nil
	}
	site, err := sess.ActiveSite(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading active site: %w", err)
	}
	if site == nil {
		return nil, nil
	}

	tl, err := b.timeline.Generate(ctx, sess, site.SiteID, proc.StartedAt.Truncate(time.Second), now, timelineIntervalSeconds)
	if err != nil {
		return nil, fmt.Errorf("generating timeline: %w", err)
	}
	return tl, nil
}

func summarise(proc *runner.ActiveTestProcedure) string {
	if proc.IsFinished() {
		return "finished"
	}
	resolved := 0
	for _, info := range proc.StepStatus {
		if info.Status() == types.StepResolved {
			resolved++
		}
	}
	if !proc.IsStarted() {
		return "initialised, waiting for start"
	}
	return fmt.Sprintf("%d/%d steps complete", resolved, len(proc.StepStatus))
}

func addFile(w *zip.Writer, name string, data []byte) error {
	f, err := w.Create(name)
	if err != nil {
		return fmt.Errorf("adding %s to artifact: %w", name, err)
	}
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("writing %s to artifact: %w", name, err)
	}
	return nil
}
