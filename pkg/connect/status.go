package connect

import "strings"

// TaskStatus is the state of a connector or one of its tasks, as reported by
// Kafka Connect.
type TaskStatus string

const (
	// StatusUnassigned means the connector is not known to Kafka Connect yet
	StatusUnassigned TaskStatus = "UNASSIGNED"
	// StatusPaused means the connector has been paused
	StatusPaused TaskStatus = "PAUSED"
	// StatusRunning means the connector is running
	StatusRunning TaskStatus = "RUNNING"
	// StatusStopped means the connector has been stopped
	StatusStopped TaskStatus = "STOPPED"
	// StatusFailed means the connector has failed
	StatusFailed TaskStatus = "FAILED"
	// StatusUnknown means the status could not be determined
	StatusUnknown TaskStatus = "UNKNOWN"
)

// severity orders statuses for aggregation; higher wins.
var severity = map[TaskStatus]int{
	StatusRunning:    0,
	StatusUnassigned: 1,
	StatusPaused:     2,
	StatusStopped:    3,
	StatusFailed:     4,
	StatusUnknown:    5,
}

// ParseTaskStatus maps a Kafka Connect state string. An empty state is
// UNASSIGNED; anything unrecognised, RESTARTING included, is UNKNOWN.
func ParseTaskStatus(s string) TaskStatus {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return StatusUnassigned
	}
	st := TaskStatus(s)
	if _, ok := severity[st]; !ok {
		return StatusUnknown
	}
	return st
}

// String returns the status name
func (s TaskStatus) String() string { return string(s) }

// AggregateStatus folds the statuses of several connectors into one, the
// worst reported status winning: UNKNOWN, FAILED, STOPPED, PAUSED,
// UNASSIGNED, RUNNING. No statuses yields UNASSIGNED.
func AggregateStatus(statuses ...TaskStatus) TaskStatus {
	if len(statuses) == 0 {
		return StatusUnassigned
	}
	worst := statuses[0]
	for _, s := range statuses[1:] {
		if rank(s) > rank(worst) {
			worst = s
		}
	}
	return worst
}

func rank(s TaskStatus) int {
	if r, ok := severity[s]; ok {
		return r
	}
	return severity[StatusUnknown]
}
