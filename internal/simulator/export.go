package simulator

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/alanyoungcy/mevsim/internal/domain"
)

// Export formats.
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
)

// resultsDoc is the JSON export layout.
type resultsDoc struct {
	Simulation domain.SimulationStats          `json:"simulation"`
	Strategies map[string]domain.StrategyStats `json:"strategies"`
}

// ExportResults writes the current statistics in every requested format to
// the storage directory and, when object storage is configured, uploads
// each file. It returns the local paths written. Unknown formats are
// rejected before anything is written.
func (s *Simulator) ExportResults(ctx context.Context, formats []string) ([]string, error) {
	for _, f := range formats {
		if f != FormatCSV && f != FormatJSON {
			return nil, fmt.Errorf("simulator: export: %w: unknown format %q", domain.ErrConfiguration, f)
		}
	}
	cfg := s.Config()
	dir := cfg.Data.Storage.Directory
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("simulator: export: %w", err)
	}

	s.mu.Lock()
	blobs := s.collab.Blobs
	s.mu.Unlock()

	snap := s.Snapshot()
	paths := make([]string, 0, len(formats))
	for _, f := range formats {
		var buf bytes.Buffer
		var contentType string
		switch f {
		case FormatCSV:
			contentType = "text/csv"
			if err := WriteCSV(&buf, snap); err != nil {
				return paths, err
			}
		case FormatJSON:
			contentType = "application/json"
			if err := WriteJSON(&buf, snap); err != nil {
				return paths, err
			}
		}
		name := fmt.Sprintf("mevsim_results_%s.%s", s.runID, f)
		path := filepath.Join(dir, name)
		if err := writeFileAtomic(path, buf.Bytes()); err != nil {
			return paths, fmt.Errorf("simulator: export %s: %w", f, err)
		}
		paths = append(paths, path)

		if blobs != nil {
			if err := blobs.Put(ctx, "exports/"+name, bytes.NewReader(buf.Bytes()), contentType); err != nil {
				return paths, fmt.Errorf("simulator: upload %s: %w", name, err)
			}
		}
	}
	s.logger.InfoContext(ctx, "results exported", slog.Any("paths", paths))
	return paths, nil
}

// WriteJSON encodes snap as {"simulation": ..., "strategies": ...}.
func WriteJSON(w io.Writer, snap domain.StatsSnapshot) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(resultsDoc{Simulation: snap.Simulation, Strategies: snap.Strategies}); err != nil {
		return fmt.Errorf("simulator: encode json: %w", err)
	}
	return nil
}

// ReadJSON decodes a document written by WriteJSON.
func ReadJSON(r io.Reader) (domain.StatsSnapshot, error) {
	var doc resultsDoc
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return domain.StatsSnapshot{}, fmt.Errorf("simulator: decode json: %w", err)
	}
	return domain.StatsSnapshot{Simulation: doc.Simulation, Strategies: doc.Strategies}, nil
}

// WriteCSV writes key,value rows for the simulation statistics followed by
// strategy,field,value rows for each strategy. Values are JSON literals so
// every field survives a round trip exactly.
func WriteCSV(w io.Writer, snap domain.StatsSnapshot) error {
	cw := csv.NewWriter(w)

	simFields, err := fieldsOf(snap.Simulation)
	if err != nil {
		return err
	}
	rows := [][]string{{"key", "value"}}
	for _, k := range sortedKeys(simFields) {
		rows = append(rows, []string{k, string(simFields[k])})
	}

	rows = append(rows, []string{"strategy", "field", "value"})
	names := make([]string, 0, len(snap.Strategies))
	for n := range snap.Strategies {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		fields, err := fieldsOf(snap.Strategies[n])
		if err != nil {
			return err
		}
		for _, k := range sortedKeys(fields) {
			rows = append(rows, []string{n, k, string(fields[k])})
		}
	}

	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("simulator: write csv: %w", err)
	}
	return nil
}

// ReadCSV parses a document written by WriteCSV.
func ReadCSV(r io.Reader) (domain.StatsSnapshot, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	rows, err := cr.ReadAll()
	if err != nil {
		return domain.StatsSnapshot{}, fmt.Errorf("simulator: read csv: %w", err)
	}

	sim := map[string]json.RawMessage{}
	strategies := map[string]map[string]json.RawMessage{}
	for i, row := range rows {
		switch len(row) {
		case 2:
			if row[0] == "key" && row[1] == "value" {
				continue
			}
			sim[row[0]] = json.RawMessage(row[1])
		case 3:
			if row[0] == "strategy" && row[1] == "field" {
				continue
			}
			if strategies[row[0]] == nil {
				strategies[row[0]] = map[string]json.RawMessage{}
			}
			strategies[row[0]][row[1]] = json.RawMessage(row[2])
		default:
			return domain.StatsSnapshot{}, fmt.Errorf("simulator: read csv: row %d has %d fields", i+1, len(row))
		}
	}

	var snap domain.StatsSnapshot
	if err := refill(sim, &snap.Simulation); err != nil {
		return domain.StatsSnapshot{}, err
	}
	snap.Strategies = make(map[string]domain.StrategyStats, len(strategies))
	for name, fields := range strategies {
		var st domain.StrategyStats
		if err := refill(fields, &st); err != nil {
			return domain.StatsSnapshot{}, fmt.Errorf("strategy %q: %w", name, err)
		}
		snap.Strategies[name] = st
	}
	return snap, nil
}

func fieldsOf(v any) (map[string]json.RawMessage, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("simulator: flatten %T: %w", v, err)
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("simulator: flatten %T: %w", v, err)
	}
	return m, nil
}

func refill(fields map[string]json.RawMessage, dst any) error {
	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("simulator: rebuild %T: %w", dst, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("simulator: rebuild %T: %w", dst, err)
	}
	return nil
}

func sortedKeys(m map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// writeFileAtomic writes data to a temporary file beside path and renames
// it into place.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// blobKey turns s3://bucket/key into key. Other paths are not blob paths.
func blobKey(path string) (string, bool) {
	rest, ok := strings.CutPrefix(path, "s3://")
	if !ok {
		return "", false
	}
	if i := strings.Index(rest, "/"); i >= 0 {
		return rest[i+1:], true
	}
	return rest, true
}
