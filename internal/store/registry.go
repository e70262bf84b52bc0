package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"natprobe/internal/model"
)

// Snapshot is the persisted form of the bootstrap health registry.
type Snapshot struct {
	Nodes       []model.BootstrapPeerRecord `json:"nodes" yaml:"nodes"`
	LastUpdated time.Time                   `json:"last_updated" yaml:"last_updated"`
}

// Registry tracks the believed status of the configured bootstrap peers.
// It is owned by a single session goroutine and is not safe for concurrent use.
type Registry struct {
	records []model.BootstrapPeerRecord
	now     func() time.Time
}

// NewRegistry creates an empty registry. A nil now defaults to time.Now.
func NewRegistry(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{now: now}
}

// Add registers a bootstrap peer with unknown status. Records are kept in
// insertion order.
func (r *Registry) Add(address, peerID string) {
	r.records = append(r.records, model.BootstrapPeerRecord{
		Address: address,
		PeerID:  peerID,
		Status:  model.StatusUnknown,
	})
}

// Len returns the number of registered peers.
func (r *Registry) Len() int {
	return len(r.records)
}

// Upsert applies a status update to the first record whose peer id equals
// peerID. Every call re-applies the transition, so repeated updates to the
// same status increment the matching counter again. Peers that were not
// registered up front are ignored; the return value reports whether a record
// matched.
func (r *Registry) Upsert(peerID string, status model.PeerStatus) bool {
	if peerID == "" {
		return false
	}
	for i := range r.records {
		rec := &r.records[i]
		if rec.PeerID != peerID {
			continue
		}
		rec.Status = status
		switch status {
		case model.StatusActive:
			seen := r.now().UTC()
			rec.LastSeen = &seen
			rec.SuccessCount++
		case model.StatusInactive:
			rec.FailureCount++
		}
		return true
	}
	return false
}

// Get returns a copy of the record for peerID.
func (r *Registry) Get(peerID string) (model.BootstrapPeerRecord, bool) {
	for _, rec := range r.records {
		if peerID != "" && rec.PeerID == peerID {
			return rec, true
		}
	}
	return model.BootstrapPeerRecord{}, false
}

// Snapshot returns a copy of every record stamped with the current time.
func (r *Registry) Snapshot() Snapshot {
	nodes := make([]model.BootstrapPeerRecord, len(r.records))
	copy(nodes, r.records)
	return Snapshot{Nodes: nodes, LastUpdated: r.now().UTC()}
}

// LoadSnapshot loads a persisted snapshot. If the file is missing, returns an empty snapshot.
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Snapshot{}, nil
		}
		return nil, err
	}

	var snap Snapshot
	if isYAML(path) {
		err = yaml.Unmarshal(data, &snap)
	} else {
		err = json.Unmarshal(data, &snap)
	}
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// SaveSnapshot overwrites path with snap. The format is YAML for .yaml/.yml
// paths and indented JSON otherwise.
func SaveSnapshot(path string, snap Snapshot) error {
	if snap.Nodes == nil {
		snap.Nodes = []model.BootstrapPeerRecord{}
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(&snap)
	} else {
		data, err = json.MarshalIndent(&snap, "", "  ")
	}
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o644)
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
