package memory

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sre-tools/remediation-batch/pkg/lock"
)

// Store is a filesystem-backed memory store: graph.json holds the metadata
// index, items/<item_id>.md holds each item's rendered narrative.
type Store struct {
	dir       string
	graphPath string
	itemsDir  string
}

// NewStore builds a Store rooted at dir, creating its items/ subdirectory.
func NewStore(dir string) (*Store, error) {
	itemsDir := filepath.Join(dir, "items")
	if err := os.MkdirAll(itemsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create memory items dir: %w", err)
	}
	return &Store{
		dir:       dir,
		graphPath: filepath.Join(dir, "graph.json"),
		itemsDir:  itemsDir,
	}, nil
}

// LoadGraph reads the memory graph from disk, returning an empty graph if
// it doesn't exist yet or fails to parse.
func (s *Store) LoadGraph() Graph {
	var g Graph
	if err := lock.ReadJSON(s.graphPath, &g); err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("could not load memory graph, starting fresh", "error", err)
		}
		return Graph{Version: 1}
	}
	if g.Version == 0 {
		g.Version = 1
	}
	return g
}

// SaveGraph atomically persists graph under a file lock.
func (s *Store) SaveGraph(graph Graph) error {
	return lock.With(s.graphPath, "memory_store", lock.DefaultOptions(), func() error {
		return lock.AtomicWriteJSON(s.graphPath, graph)
	})
}

// SaveItem renders item as markdown and writes it to items/<item_id>.md.
func (s *Store) SaveItem(item Item) error {
	path := s.itemPath(item.ItemID)
	if err := os.WriteFile(path, []byte(renderMarkdown(item)), 0o644); err != nil {
		return fmt.Errorf("write memory item %s: %w", item.ItemID, err)
	}
	slog.Debug("saved memory item", "item_id", item.ItemID)
	return nil
}

// LoadItem reads an item's markdown content, returning "", false if absent.
func (s *Store) LoadItem(itemID string) (string, bool) {
	data, err := os.ReadFile(s.itemPath(itemID))
	if err != nil {
		return "", false
	}
	return string(data), true
}

func (s *Store) itemPath(itemID string) string {
	return filepath.Join(s.itemsDir, itemID+".md")
}

// Upsert saves item's markdown, builds its graph entry, links it to every
// existing entry sharing its category or service, and upserts it into
// graph by item ID. It returns the updated graph; the caller is
// responsible for calling SaveGraph.
func (s *Store) Upsert(item Item, graph Graph) (Graph, error) {
	if err := s.SaveItem(item); err != nil {
		return graph, err
	}

	entry := GraphEntry{
		ItemID:             item.ItemID,
		FindingID:          item.FindingID,
		Category:           item.Category,
		ServiceName:        item.ServiceName,
		Severity:           item.Severity,
		DataSource:         item.DataSource,
		Outcome:            item.Outcome,
		Confidence:         item.Confidence,
		FixApproachSummary: truncate(item.FixApproach, 100),
		CreatedAt:          item.CreatedAt,
		RunID:              item.RunID,
	}

	for _, existing := range graph.Entries {
		if existing.ItemID == entry.ItemID {
			continue
		}
		if existing.Category == entry.Category {
			entry.Relationships = append(entry.Relationships, Relationship{TargetID: existing.ItemID, RelationType: "same_category"})
		}
		if existing.ServiceName == entry.ServiceName {
			entry.Relationships = append(entry.Relationships, Relationship{TargetID: existing.ItemID, RelationType: "same_service"})
		}
	}

	found := false
	for i, e := range graph.Entries {
		if e.ItemID == entry.ItemID {
			graph.Entries[i] = entry
			found = true
			break
		}
	}
	if !found {
		graph.Entries = append(graph.Entries, entry)
	}

	return graph, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func renderMarkdown(item Item) string {
	outcome := "FAILED"
	if item.Outcome == "success" {
		outcome = "SUCCESS"
	}
	confidence := item.Confidence
	if confidence == "" {
		confidence = "unknown"
	}

	files := "- None"
	if len(item.FilesModified) > 0 {
		var b strings.Builder
		for i, f := range item.FilesModified {
			if i > 0 {
				b.WriteString("\n")
			}
			b.WriteString("- `" + f + "`")
		}
		files = b.String()
	}

	tests := "N/A"
	if item.TestsPassed != nil {
		if *item.TestsPassed {
			tests = "Yes"
		} else {
			tests = "No"
		}
	}

	fixApproach := item.FixApproach
	if fixApproach == "" {
		fixApproach = "No fix approach recorded."
	}
	prURL := item.PRURL
	if prURL == "" {
		prURL = "No PR created."
	}
	errMsg := item.ErrorMessage
	if errMsg == "" {
		errMsg = "No errors."
	}

	return fmt.Sprintf(
		"# Memory: %s — %s\n\n## Metadata\n- **Category**: %s\n- **Service**: %s\n- **Severity**: %s\n- **Outcome**: %s\n- **Confidence**: %s\n- **Data Source**: %s\n- **Run ID**: %s\n- **Created**: %s\n\n## Fix Approach\n%s\n\n## Files Modified\n%s\n\n## Test Results\n- **Tests Passed**: %s\n- **Tests Added**: %s\n\n## PR\n%s\n\n## Error\n%s\n",
		item.FindingID, item.Title,
		item.Category, item.ServiceName, item.Severity, outcome, confidence, item.DataSource, item.RunID, item.CreatedAt,
		fixApproach, files, tests, strconv.Itoa(item.TestsAdded), prURL, errMsg,
	)
}
