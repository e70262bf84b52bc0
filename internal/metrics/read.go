package metrics

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"natprobe/internal/model"
)

// ReadCSV loads ping samples from a CSV file. A non-empty sessionID keeps only
// that session's rows.
func ReadCSV(path, sessionID string) ([]model.Metric, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return readCSV(file, sessionID)
}

func readCSV(r io.Reader, sessionID string) ([]model.Metric, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	var items []model.Metric
	for line := 1; ; line++ {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return items, nil
		}
		if err != nil {
			return nil, err
		}
		if line == 1 && len(rec) > 0 && rec[0] == header[0] {
			continue
		}
		if len(rec) < len(header) {
			return nil, fmt.Errorf("invalid record at line %d", line)
		}
		if sessionID != "" && rec[1] != sessionID {
			continue
		}

		m, err := parseRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		items = append(items, m)
	}
}

func parseRecord(rec []string) (model.Metric, error) {
	ts, err := time.Parse(time.RFC3339Nano, rec[0])
	if err != nil {
		return model.Metric{}, fmt.Errorf("invalid timestamp: %w", err)
	}
	rtt, err := strconv.ParseFloat(rec[3], 64)
	if err != nil {
		return model.Metric{}, fmt.Errorf("invalid rtt: %w", err)
	}
	return model.Metric{
		Timestamp: ts,
		SessionID: rec[1],
		PeerID:    rec[2],
		RTTMs:     rtt,
	}, nil
}
