package metrics

import (
	"math"
	"sort"
	"time"

	"natprobe/internal/model"
)

// Summary is an RTT statistics snapshot over a set of ping samples.
type Summary struct {
	Count    int       `json:"count"`
	Peers    int       `json:"peers"`
	From     time.Time `json:"from"`
	To       time.Time `json:"to"`
	AvgRTTMs float64   `json:"avg_rtt_ms"`
	P95RTTMs float64   `json:"p95_rtt_ms"`
	MinRTTMs float64   `json:"min_rtt_ms"`
	MaxRTTMs float64   `json:"max_rtt_ms"`
}

// Summarize computes summary metrics for items at or after since.
func Summarize(items []model.Metric, since time.Time) Summary {
	return summarize(window(items, since))
}

// SummarizeBy groups items at or after since by key and summarises each
// group. Keys are returned sorted.
func SummarizeBy(items []model.Metric, since time.Time, key func(model.Metric) string) ([]string, map[string]Summary) {
	groups := map[string][]model.Metric{}
	for _, m := range window(items, since) {
		k := key(m)
		groups[k] = append(groups[k], m)
	}

	keys := make([]string, 0, len(groups))
	out := make(map[string]Summary, len(groups))
	for k, g := range groups {
		keys = append(keys, k)
		out[k] = summarize(g)
	}
	sort.Strings(keys)
	return keys, out
}

// ByPeer and BySession are grouping keys for SummarizeBy.
func ByPeer(m model.Metric) string    { return m.PeerID }
func BySession(m model.Metric) string { return m.SessionID }

func window(items []model.Metric, since time.Time) []model.Metric {
	filtered := make([]model.Metric, 0, len(items))
	for _, m := range items {
		if !m.Timestamp.Before(since) {
			filtered = append(filtered, m)
		}
	}
	return filtered
}

func summarize(items []model.Metric) Summary {
	if len(items) == 0 {
		return Summary{}
	}

	values := make([]float64, len(items))
	peers := map[string]struct{}{}
	s := Summary{
		Count:    len(items),
		From:     items[0].Timestamp,
		To:       items[0].Timestamp,
		MinRTTMs: math.MaxFloat64,
	}
	var sum float64
	for i, m := range items {
		values[i] = m.RTTMs
		peers[m.PeerID] = struct{}{}
		sum += m.RTTMs
		s.MinRTTMs = math.Min(s.MinRTTMs, m.RTTMs)
		s.MaxRTTMs = math.Max(s.MaxRTTMs, m.RTTMs)
		if m.Timestamp.Before(s.From) {
			s.From = m.Timestamp
		}
		if m.Timestamp.After(s.To) {
			s.To = m.Timestamp
		}
	}
	sort.Float64s(values)

	s.Peers = len(peers)
	s.AvgRTTMs = sum / float64(len(items))
	s.P95RTTMs = percentile(values, 0.95)
	return s
}

// percentile uses the nearest-rank method on sorted values.
func percentile(values []float64, p float64) float64 {
	switch {
	case len(values) == 0:
		return 0
	case p <= 0:
		return values[0]
	case p >= 1:
		return values[len(values)-1]
	}
	idx := int(math.Ceil(p*float64(len(values)))) - 1
	return values[max(0, min(idx, len(values)-1))]
}
