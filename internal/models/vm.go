// Package models defines the shared data types exchanged between the
// registry, the poller, and the dashboard view model.
package models

import (
	"encoding/json"
	"errors"
	"time"
)

// NetworkCounters holds the cumulative network counters reported by an agent.
// Counters are monotonically non-decreasing while the VM is online and are
// meaningless once the VM goes offline.
type NetworkCounters struct {
	BytesSent   uint64 `json:"bytes_sent"`
	BytesRecv   uint64 `json:"bytes_recv"`
	PacketsSent uint64 `json:"packets_sent"`
	PacketsRecv uint64 `json:"packets_recv"`
}

// VMSnapshot is a point-in-time report for one VM. LastUpdated is the time of
// the most recent agent report, not the time the dashboard fetched it.
type VMSnapshot struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	OS      string          `json:"os,omitempty"`
	CPU     float64         `json:"cpu"`
	Memory  float64         `json:"memory"`
	Disk    float64         `json:"disk"`
	Network NetworkCounters `json:"network"`
	// Status is the agent-reported status string. It is surfaced for display
	// only; the classifier derives state from metrics and staleness.
	Status      string    `json:"status,omitempty"`
	LastUpdated time.Time `json:"last_updated"`
	User        string    `json:"user,omitempty"`
}

// ErrMissingID marks a snapshot that cannot be keyed into any store.
var ErrMissingID = errors.New("snapshot has no id")

// wireVM mirrors the registry JSON. Some deployments key records by "_id"
// (the Mongo-era schema), newer ones by "id"; both are accepted.
type wireVM struct {
	ID          string          `json:"id"`
	MongoID     string          `json:"_id"`
	Name        string          `json:"name"`
	OS          string          `json:"os"`
	CPU         *float64        `json:"cpu"`
	Memory      *float64        `json:"memory"`
	Disk        *float64        `json:"disk"`
	Network     NetworkCounters `json:"network"`
	Status      string          `json:"status"`
	LastUpdated string          `json:"last_updated"`
	User        string          `json:"user"`
}

// UnmarshalJSON decodes a registry record, treating absent metric fields as
// zero and tolerating either id key. A missing or unparseable last_updated
// leaves LastUpdated as the zero time, which downstream classification treats
// as offline. A record with no id at all decodes with ID == ""; callers that
// need a key must check for it.
func (v *VMSnapshot) UnmarshalJSON(data []byte) error {
	var w wireVM
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	id := w.ID
	if id == "" {
		id = w.MongoID
	}

	v.ID = id
	v.Name = w.Name
	v.OS = w.OS
	v.CPU = deref(w.CPU)
	v.Memory = deref(w.Memory)
	v.Disk = deref(w.Disk)
	v.Network = w.Network
	v.Status = w.Status
	v.User = w.User
	v.LastUpdated = time.Time{}
	if w.LastUpdated != "" {
		if ts, err := time.Parse(time.RFC3339, w.LastUpdated); err == nil {
			v.LastUpdated = ts
		}
	}
	return nil
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

// FleetSummary aggregates the whole fleet for the overview cards.
type FleetSummary struct {
	Total     int     `json:"total"`
	Running   int     `json:"running"`
	Idle      int     `json:"idle"`
	Critical  int     `json:"critical"`
	Offline   int     `json:"offline"`
	AvgCPU    float64 `json:"avgCpu"`
	AvgMemory float64 `json:"avgMemory"`
	AvgDisk   float64 `json:"avgDisk"`
}
