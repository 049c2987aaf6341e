package enrich

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/comigor/chatvault/internal/batch"
	"github.com/comigor/chatvault/internal/history"
	"github.com/comigor/chatvault/internal/logger"
	"github.com/comigor/chatvault/internal/metrics"
)

// Uncategorized is stored when the model's label is missing or outside the vocabulary.
const Uncategorized = "Uncategorized"

const maxResultLine = 16 << 20

// assignment is the JSON answer requested from pass 2.
type assignment struct {
	ClusterLabel *string `json:"cluster_label"`
	Summary      *string `json:"summary"`
	Instructions *string `json:"instructions"`
}

// ParseResults reads a newline-delimited results stream and returns one
// enrichment per succeeded item, keyed by the item's custom ID. Malformed
// lines, failed items and unparseable answers are skipped and counted. When an
// ID repeats, the last occurrence wins.
func ParseResults(r io.Reader, be batch.Backend, vocabulary []string) ([]history.Enrichment, int, error) {
	canonical := make(map[string]string, len(vocabulary))
	for _, l := range vocabulary {
		canonical[strings.ToLower(strings.TrimSpace(l))] = l
	}

	var (
		out     []history.Enrichment
		index   = map[string]int{}
		skipped int
	)
	skip := func(reason string, attrs ...any) {
		skipped++
		metrics.ResultsSkipped.WithLabelValues(reason).Inc()
		logger.L.Debug("skipping batch result", append([]any{"reason", reason}, attrs...)...)
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxResultLine)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}

		res, err := be.ParseResult(line)
		if err != nil {
			skip("malformed", "error", err)
			continue
		}
		if res.CustomID == "" {
			skip("malformed", "error", "missing custom_id")
			continue
		}
		if !res.Succeeded {
			skip("failed", "id", res.CustomID, "detail", res.Detail)
			continue
		}

		e, err := parseAssignment(res.Text, canonical)
		if err != nil {
			skip("unparseable", "id", res.CustomID, "error", err)
			continue
		}
		e.ID = res.CustomID

		if i, ok := index[e.ID]; ok {
			out[i] = e
			continue
		}
		index[e.ID] = len(out)
		out = append(out, e)
	}
	if err := sc.Err(); err != nil {
		return out, skipped, err
	}
	return out, skipped, nil
}

func parseAssignment(text string, canonical map[string]string) (history.Enrichment, error) {
	raw, err := extractJSONObject(text)
	if err != nil {
		return history.Enrichment{}, err
	}
	var a assignment
	if err := json.Unmarshal(raw, &a); err != nil {
		return history.Enrichment{}, err
	}

	e := history.Enrichment{Label: Uncategorized}
	if a.ClusterLabel != nil {
		if l, ok := canonical[strings.ToLower(strings.TrimSpace(*a.ClusterLabel))]; ok {
			e.Label = l
		}
	}
	if a.Summary != nil {
		e.Summary = strings.TrimSpace(*a.Summary)
	}
	if a.Instructions != nil {
		if s := strings.TrimSpace(*a.Instructions); s != "" && !strings.EqualFold(s, "null") {
			e.Instructions = &s
		}
	}
	return e, nil
}

// extractJSONObject returns the outermost {...} span of a model answer,
// tolerating markdown fences or prose around it.
func extractJSONObject(text string) ([]byte, error) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < start {
		return nil, errors.New("no JSON object in model output")
	}
	return []byte(text[start : end+1]), nil
}

// parseLabels decodes the pass-1 answer into a de-duplicated label list.
func parseLabels(text string) ([]string, error) {
	raw, err := extractJSONObject(text)
	if err != nil {
		return nil, err
	}
	var v struct {
		Labels []string `json:"labels"`
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	var labels []string
	for _, l := range v.Labels {
		l = strings.TrimSpace(l)
		key := strings.ToLower(l)
		if l == "" || seen[key] {
			continue
		}
		seen[key] = true
		labels = append(labels, l)
	}
	return labels, nil
}

// Reconcile writes enrichments by ID in one store batch and returns how many
// matched a stored conversation. IDs with no row are ignored.
func Reconcile(ctx context.Context, store Store, enrichments []history.Enrichment) (int, error) {
	assigned := 0
	err := store.Batch(ctx, func(w history.Writer) error {
		assigned = 0
		for _, e := range enrichments {
			found, err := w.UpdateEnrichment(ctx, e)
			if err != nil {
				return err
			}
			if !found {
				logger.L.Debug("result for unknown conversation", "id", e.ID)
				continue
			}
			assigned++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	metrics.EnrichmentsApplied.Add(float64(assigned))
	return assigned, nil
}
