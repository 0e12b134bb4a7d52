package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"songplays_etl/internal/sink"
)

// Stats summarizes a run.
type Stats struct {
	StartedAt          time.Time             `json:"started_at"`
	TotalExecutionTime string                `json:"total_execution_time"`
	CatalogRecords     int                   `json:"catalog_records_read"`
	EventRecords       int                   `json:"event_records_read"`
	SongPlayEvents     int                   `json:"next_song_events"`
	MatchedEvents      int                   `json:"matched_events"`
	UnresolvedEvents   int                   `json:"unresolved_events"`
	Tables             map[string]TableStats `json:"tables"`
	Error              string                `json:"error,omitempty"`
}

type TableStats struct {
	Path       string `json:"path"`
	Rows       int    `json:"rows"`
	Partitions int    `json:"partitions"`
	Files      int    `json:"files"`
}

func newStats() *Stats {
	return &Stats{StartedAt: time.Now().UTC(), Tables: make(map[string]TableStats)}
}

func (s *Stats) addTable(res sink.WriteResult) {
	files := 0
	for _, f := range res.Files {
		if f != sink.SuccessMarker {
			files++
		}
	}
	s.Tables[res.Table] = TableStats{Path: res.Path, Rows: res.Rows, Partitions: res.Partitions, Files: files}
}

func (s *Stats) finish(err error) {
	s.TotalExecutionTime = time.Since(s.StartedAt).String()
	if err != nil {
		s.Error = err.Error()
	}
}

// WriteFile stores the stats as indented JSON.
func (s *Stats) WriteFile(path string) error {
	statsJSON, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize stats: %w", err)
	}
	if err := os.WriteFile(path, statsJSON, 0o644); err != nil {
		return fmt.Errorf("failed to write stats file: %w", err)
	}
	return nil
}
