// Package events carries typed, fire-and-forget progress notifications from
// the ingestion and enrichment workflows to whoever is watching.
package events

import (
	"encoding/json"
	"time"
)

// Kind names an event. Ingestion kinds start with "ingest.", enrichment kinds
// with "enrich.".
type Kind string

const (
	IngestStarted              Kind = "ingest.started"
	IngestExtractingArchive    Kind = "ingest.extracting_archive"
	IngestParsingConversations Kind = "ingest.parsing_conversations"
	IngestBuildingIndex        Kind = "ingest.building_index"
	IngestComplete             Kind = "ingest.complete"
	IngestError                Kind = "ingest.error"

	EnrichEstimatingTokens Kind = "enrich.estimating_tokens"
	EnrichPass1Started     Kind = "enrich.pass1_started"
	EnrichPass1Complete    Kind = "enrich.pass1_complete"
	EnrichBatchSubmitted   Kind = "enrich.batch_submitted"
	EnrichPolling          Kind = "enrich.polling"
	EnrichComplete         Kind = "enrich.complete"
	EnrichError            Kind = "enrich.error"
)

// Event is one progress notification. Only the fields relevant to Kind are
// set.
type Event struct {
	RunID string    `json:"run_id,omitempty"`
	Kind  Kind      `json:"kind"`
	Time  time.Time `json:"time"`

	Processed    int `json:"processed"`
	Total        int `json:"total"`
	EarliestYear int `json:"earliest_year"`
	LatestYear   int `json:"latest_year"`

	Labels         []string `json:"labels"`
	JobID          string   `json:"job_id"`
	ElapsedSeconds int64    `json:"elapsed_seconds"`
	AssignedCount  int      `json:"assigned_count"`

	Message string `json:"message"`
}

// MarshalJSON writes the common fields plus the payload fields that belong to
// e.Kind. Payload fields are always present for their kind, zero or not.
func (e Event) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"kind": e.Kind,
		"time": e.Time,
	}
	if e.RunID != "" {
		out["run_id"] = e.RunID
	}
	switch e.Kind {
	case IngestParsingConversations:
		out["processed"] = e.Processed
	case IngestComplete:
		out["total"] = e.Total
		out["earliest_year"] = e.EarliestYear
		out["latest_year"] = e.LatestYear
	case EnrichPass1Complete:
		labels := e.Labels
		if labels == nil {
			labels = []string{}
		}
		out["labels"] = labels
	case EnrichBatchSubmitted:
		out["job_id"] = e.JobID
	case EnrichPolling:
		out["elapsed_seconds"] = e.ElapsedSeconds
	case EnrichComplete:
		out["assigned_count"] = e.AssignedCount
	case IngestError, EnrichError:
		out["message"] = e.Message
	}
	return json.Marshal(out)
}

// IsError reports whether e is a terminal failure event.
func (e Event) IsError() bool {
	return e.Kind == IngestError || e.Kind == EnrichError
}

func Started() Event           { return Event{Kind: IngestStarted} }
func ExtractingArchive() Event { return Event{Kind: IngestExtractingArchive} }
func BuildingIndex() Event     { return Event{Kind: IngestBuildingIndex} }

func ParsingConversations(processed int) Event {
	return Event{Kind: IngestParsingConversations, Processed: processed}
}

func IngestDone(total, earliestYear, latestYear int) Event {
	return Event{Kind: IngestComplete, Total: total, EarliestYear: earliestYear, LatestYear: latestYear}
}

func IngestFailed(err error) Event {
	return Event{Kind: IngestError, Message: err.Error()}
}

func EstimatingTokens() Event { return Event{Kind: EnrichEstimatingTokens} }
func Pass1Started() Event     { return Event{Kind: EnrichPass1Started} }

func Pass1Complete(labels []string) Event {
	return Event{Kind: EnrichPass1Complete, Labels: labels}
}

func BatchSubmitted(jobID string) Event {
	return Event{Kind: EnrichBatchSubmitted, JobID: jobID}
}

func Polling(elapsed time.Duration) Event {
	return Event{Kind: EnrichPolling, ElapsedSeconds: int64(elapsed / time.Second)}
}

func EnrichDone(assigned int) Event {
	return Event{Kind: EnrichComplete, AssignedCount: assigned}
}

func EnrichFailed(err error) Event {
	return Event{Kind: EnrichError, Message: err.Error()}
}
