package metrics

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"natprobe/internal/model"
)

var header = []string{"timestamp", "session_id", "peer_id", "rtt_ms"}

// WriteCSV writes metrics to CSV with a fixed column order.
func WriteCSV(w io.Writer, items []model.Metric) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(header); err != nil {
		return err
	}
	return writeRecords(writer, items)
}

// AppendCSV appends samples to path, writing the header only when the file is new or empty.
func AppendCSV(path string, items []model.Metric) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	writer := csv.NewWriter(file)
	if info.Size() == 0 {
		if err := writer.Write(header); err != nil {
			return err
		}
	}
	return writeRecords(writer, items)
}

func writeRecords(writer *csv.Writer, items []model.Metric) error {
	for _, m := range items {
		record := []string{
			m.Timestamp.UTC().Format(time.RFC3339Nano),
			m.SessionID,
			m.PeerID,
			strconv.FormatFloat(m.RTTMs, 'f', 3, 64),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
