// Package ingest is the boundary between externally pre-scored findings
// (CSV parsing and priority-scoring are outside this system's scope) and
// the wave-partitioned batch this orchestrator actually runs.
package ingest

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/sre-tools/remediation-batch/pkg/models"
)

// LoadFindings decodes a JSON array of already-prioritized Finding records
// from path. The file is expected to already be deduplicated and scored;
// this is a pure decode boundary, not a validation or enrichment step.
func LoadFindings(path string) ([]models.Finding, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read findings file %s: %w", path, err)
	}

	var findings []models.Finding
	if err := json.Unmarshal(data, &findings); err != nil {
		return nil, fmt.Errorf("decode findings file %s: %w", path, err)
	}
	return findings, nil
}

// CreateWaves groups findings, in the order given, into waves of up to
// waveSize each. Findings are expected to already be priority-sorted, so
// wave 1 contains the highest-priority findings.
func CreateWaves(findings []models.Finding, waveSize int) []models.Wave {
	if len(findings) == 0 {
		return nil
	}

	var waves []models.Wave
	for i := 0; i < len(findings); i += waveSize {
		end := i + waveSize
		if end > len(findings) {
			end = len(findings)
		}
		chunk := findings[i:end]
		waveNumber := i/waveSize + 1

		sessions := make([]models.RemediationSession, len(chunk))
		for j, f := range chunk {
			sessions[j] = models.RemediationSession{
				Finding:    f,
				Status:     models.StatusPending,
				WaveNumber: waveNumber,
				Attempt:    1,
			}
		}

		waves = append(waves, models.Wave{
			WaveNumber: waveNumber,
			Sessions:   sessions,
			Status:     "pending",
		})
	}

	return waves
}
