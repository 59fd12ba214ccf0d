package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/ansonTGN/LaMuralla-AI-Test/internal/app"
	"github.com/ansonTGN/LaMuralla-AI-Test/internal/queue"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/common"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/ingest"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/loader"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/logger"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/query"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/reasoning"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/store/pgx"

	"github.com/spf13/cobra"
)

func (c *cli) open(ctx context.Context) (*app.App, error) {
	a, err := app.New(ctx, c.cfg)
	if err != nil {
		return nil, fmt.Errorf("initialise services: %w", err)
	}
	return a, nil
}

func declaredFormat(cmd *cobra.Command) (loader.Format, error) {
	tag, _ := cmd.Flags().GetString("format")
	if tag == "" {
		return "", nil
	}
	f, ok := loader.ParseFormat(tag)
	if !ok {
		return "", fmt.Errorf("unsupported format %q", tag)
	}
	return f, nil
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func sourceID(arg string) string {
	if isURL(arg) {
		return arg
	}
	return filepath.Base(arg)
}

func (c *cli) runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	declared, err := declaredFormat(cmd)
	if err != nil {
		return err
	}
	archiveFlag, _ := cmd.Flags().GetBool("archive")

	a, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	sources, err := a.Sources(ctx)
	if err != nil {
		return err
	}
	archive, err := a.Archive(ctx)
	if err != nil {
		return err
	}
	if archiveFlag && archive == nil {
		return errors.New("--archive needs an S3 bucket")
	}

	pipeline := a.NewPipeline(ctx)
	defer pipeline.Close()
	go func() {
		for ev := range pipeline.Events() {
			logger.Debug("[Ingest] Progress", "source_id", ev.SourceID, "status", ev.Status, "done", ev.Done, "total", ev.Total, "msg", ev.Message)
		}
	}()

	var jobs []*ingest.Job
	for _, arg := range args {
		location := queue.LocationFile
		if isURL(arg) {
			location = queue.LocationWeb
		}
		format := declared
		if format == "" && location == queue.LocationFile {
			format, _ = loader.FormatFromPath(arg)
		}
		id := sourceID(arg)

		raw, err := sources[location].Load(ctx, loader.SourceRef{ID: id, Path: arg, Format: format})
		if err != nil {
			return fmt.Errorf("load %s: %w", arg, err)
		}
		if archiveFlag {
			key, err := archive.Put(ctx, id, bytes.NewReader(raw))
			if err != nil {
				return fmt.Errorf("archive %s: %w", arg, err)
			}
			logger.Info("[Ingest] Archived source", "source_id", id, "key", key)
		}
		jobs = append(jobs, pipeline.Submit(raw, format, id))
	}

	var failed int
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SOURCE\tSTATUS\tENTITIES\tRELATIONSHIPS\tFRAGMENTS\tERROR")
	for _, job := range jobs {
		err := job.Wait(ctx)
		if err != nil {
			failed++
		}
		res := job.Result()
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\n", job.SourceID, job.Status(), res.Entities, res.Relationships, res.Fragments, errString(err))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	a.LogMetrics()
	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed", failed, len(jobs))
	}
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// publish opens an AMQP channel, declares the topology and sends every
// message to queueName.
func (c *cli) publish(ctx context.Context, queueName string, msgs ...any) error {
	conn, err := queue.Dial(c.cfg.RabbitMQ)
	if err != nil {
		return err
	}
	defer conn.Close()
	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()
	if err := queue.SetupQueues(ch, queue.Queues); err != nil {
		return err
	}
	for _, m := range msgs {
		if err := queue.PublishJSON(ctx, ch, queueName, m); err != nil {
			return err
		}
	}
	return nil
}

func (c *cli) runEnqueue(cmd *cobra.Command, args []string) error {
	location, _ := cmd.Flags().GetString("location")
	format, err := declaredFormat(cmd)
	if err != nil {
		return err
	}
	msgs := make([]any, 0, len(args))
	for _, arg := range args {
		msg := queue.IngestMessage{SourceID: sourceID(arg), Location: location, Path: arg, Format: format}
		if err := msg.Validate(); err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}
	if err := c.publish(cmd.Context(), queue.IngestQueue, msgs...); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "queued %d documents\n", len(msgs))
	return nil
}

func (c *cli) runRetrieve(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	k, _ := cmd.Flags().GetInt("top")
	asJSON, _ := cmd.Flags().GetBool("json")

	a, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.Retriever.Retrieve(ctx, args[0], k)
	if err != nil {
		return err
	}
	if asJSON {
		return writeJSON(cmd.OutOrStdout(), retrieveOutput(res))
	}
	if res.Degraded {
		fmt.Fprintln(cmd.ErrOrStderr(), "vector search unavailable; ranking from graph traversal only")
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tSCORE\tKIND\tID\tTEXT")
	for i, item := range res.Items {
		fmt.Fprintf(w, "%d\t%.3f\t%s\t%s\t%s\n", i+1, item.Score, item.Kind, item.ID, label(item))
	}
	return w.Flush()
}

type retrieveItem struct {
	ID          string  `json:"id"`
	Kind        string  `json:"kind"`
	Score       float64 `json:"score"`
	VectorScore float64 `json:"vector_score"`
	GraphScore  float64 `json:"graph_score"`
	Name        string  `json:"name,omitempty"`
	Type        string  `json:"type,omitempty"`
	Text        string  `json:"text,omitempty"`
	SourceID    string  `json:"source_id,omitempty"`
}

func retrieveOutput(res *query.Result) map[string]any {
	items := make([]retrieveItem, 0, len(res.Items))
	for _, it := range res.Items {
		out := retrieveItem{ID: it.ID, Kind: string(it.Kind), Score: it.Score, VectorScore: it.VectorScore, GraphScore: it.GraphScore}
		if it.Entity != nil {
			out.Name, out.Type = it.Entity.Name, string(it.Entity.Type)
		}
		if it.Fragment != nil {
			out.Text, out.SourceID = it.Fragment.Text, it.Fragment.SourceID
		}
		items = append(items, out)
	}
	return map[string]any{"degraded": res.Degraded, "items": items}
}

const maxLabelRunes = 80

func label(item query.Scored) string {
	var s string
	switch {
	case item.Entity != nil:
		s = fmt.Sprintf("%s (%s)", item.Entity.Name, item.Entity.Type)
	case item.Fragment != nil:
		s = strings.Join(strings.Fields(item.Fragment.Text), " ")
	}
	if r := []rune(s); len(r) > maxLabelRunes {
		s = string(r[:maxLabelRunes-1]) + "…"
	}
	return s
}

func (c *cli) runInfer(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	expr, _ := cmd.Flags().GetString("scope")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	viaQueue, _ := cmd.Flags().GetBool("queue")

	scope, err := reasoning.ParseScope(expr)
	if err != nil {
		return err
	}
	if viaQueue {
		if err := c.publish(ctx, queue.InferQueue, queue.InferMessage{Scope: expr}); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "inference pass queued")
		return nil
	}

	a, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	if a.Reasoner == nil {
		return errors.New("inference needs a model; set AI_ADAPTER")
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	if dryRun {
		candidates, err := a.Reasoner.Candidates(ctx, scope)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "SOURCE\tTARGET\tRULE\tCOMMON")
		for _, cand := range candidates {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", cand.Source.Name, cand.Target.Name, cand.Rule, cand.Common)
		}
		return w.Flush()
	}

	rels, err := a.Reasoner.Infer(ctx, scope)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "SOURCE\tKIND\tTARGET\tCONFIDENCE\tREASONING")
	for _, r := range rels {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%s\n", r.Source, r.Kind, r.Target, r.Confidence, r.Reasoning)
	}
	a.LogMetrics()
	return w.Flush()
}

func (c *cli) runNeighborhood(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	hops, _ := cmd.Flags().GetInt("hops")

	a, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	g, err := a.Retriever.Neighborhood(ctx, args[0], hops)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), g)
}

func (c *cli) runExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	path, _ := cmd.Flags().GetString("output")

	a, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	g, err := a.Store.Export(ctx)
	if err != nil {
		return err
	}
	stripEmbeddings(g)

	out := cmd.OutOrStdout()
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	if err := writeJSON(out, g); err != nil {
		return err
	}
	logger.Info("[Export] Graph written", "entities", len(g.Entities), "relationships", len(g.Relationships))
	return nil
}

func stripEmbeddings(g *common.Graph) {
	for i := range g.Entities {
		g.Entities[i].Embedding = nil
	}
}

func (c *cli) runReset(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	yes, _ := cmd.Flags().GetBool("yes")
	purge, _ := cmd.Flags().GetBool("archive")
	if !yes {
		return errors.New("reset deletes the whole graph; pass --yes to confirm")
	}

	a, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Store.Reset(ctx); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "graph reset")

	if purge {
		archive, err := a.Archive(ctx)
		if err != nil {
			return err
		}
		if archive == nil {
			return errors.New("--archive needs an S3 bucket")
		}
		n, err := archive.Purge(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %d archived sources\n", n)
	}
	return nil
}

func (c *cli) runMigrate(cmd *cobra.Command, args []string) error {
	if c.cfg.Store.Backend != "pgx" {
		return fmt.Errorf("migrations only apply to the pgx store, not %q", c.cfg.Store.Backend)
	}
	return pgx.Migrate(c.cfg.Store.DatabaseURL)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
