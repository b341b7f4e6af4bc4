package memory

import (
	"log/slog"
	"sort"
	"time"

	"github.com/sre-tools/remediation-batch/pkg/models"
)

// Scoring weights: category match dominates since it's the strongest
// relevance signal, service and severity refine it, and a handful of small
// bonuses reward memories more likely to be trustworthy and applicable.
const (
	categoryMatchScore = 10.0
	serviceMatchScore  = 5.0
	severityMatchScore = 2.0
	liveSourceBonus    = 2.0
	successBonus       = 3.0
	freshnessDecayDays = 30.0
)

var confidenceScores = map[string]float64{
	"high":   3.0,
	"medium": 1.5,
	"low":    0.5,
}

// Retrieve returns up to maxResults memory items relevant to finding,
// ranked by descending relevance score. preferLive controls both the live
// source bonus and whether a mock-sourced hit gets a caveat note.
func Retrieve(store *Store, finding models.Finding, maxResults int, preferLive bool) []Retrieved {
	graph := store.LoadGraph()
	if len(graph.Entries) == 0 {
		return nil
	}

	type scored struct {
		score float64
		entry GraphEntry
	}
	var candidates []scored
	for _, entry := range graph.Entries {
		score := scoreEntry(entry, finding, preferLive)
		if score > 0 {
			candidates = append(candidates, scored{score, entry})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	if len(candidates) > maxResults {
		candidates = candidates[:maxResults]
	}

	results := make([]Retrieved, 0, len(candidates))
	for _, c := range candidates {
		content, ok := store.LoadItem(c.entry.ItemID)
		if !ok {
			continue
		}

		note := "[Memory from run " + c.entry.RunID + ", source: " + c.entry.DataSource + "]"
		if c.entry.DataSource == "mock" && preferLive {
			note += " (Note: this memory is from a mock session — actual behavior may differ)"
		}

		results = append(results, Retrieved{
			Content:    content,
			Score:      c.score,
			SourceNote: note,
			DataSource: c.entry.DataSource,
		})
	}

	slog.Info("retrieved memories", "count", len(results), "finding_id", finding.FindingID, "category", finding.Category, "service", finding.ServiceName)
	return results
}

func scoreEntry(entry GraphEntry, finding models.Finding, preferLive bool) float64 {
	score := 0.0

	if entry.Category == string(finding.Category) {
		score += categoryMatchScore
	}
	if entry.ServiceName == finding.ServiceName {
		score += serviceMatchScore
	}

	// Neither category nor service matched: this memory isn't relevant,
	// regardless of any other bonus it might otherwise accrue.
	if score == 0 {
		return 0
	}

	if entry.Severity == string(finding.Severity) {
		score += severityMatchScore
	}
	if entry.Confidence != "" {
		score += confidenceScores[entry.Confidence]
	}
	if preferLive && entry.DataSource == "live" {
		score += liveSourceBonus
	}
	if entry.Outcome == "success" {
		score += successBonus
	}

	if created, err := time.Parse(time.RFC3339, entry.CreatedAt); err == nil {
		ageDays := time.Since(created).Hours() / 24
		if ageDays > 0 {
			decay := 1.0 - ageDays/freshnessDecayDays
			if decay < 0 {
				decay = 0
			}
			score *= 0.5 + 0.5*decay
		}
	}

	return score
}
