package types

import "time"

// TimelineDataStream is one regularly-sampled series of watt values. The Nth
// value is the sample at Timeline.Start + N*Timeline.IntervalSeconds; nil
// marks a gap (no record covered that instant).
type TimelineDataStream struct {
	Label   string `json:"label"`
	Values  []*int `json:"values"`
	Stepped bool   `json:"stepped"`
	Dashed  bool   `json:"dashed"`
}

// HasValues reports whether the stream contains at least one non-nil sample.
func (s TimelineDataStream) HasValues() bool {
	for _, v := range s.Values {
		if v != nil {
			return true
		}
	}
	return false
}

// Timeline is a reconstruction of historical DER state as regular samples
// relative to Start.
type Timeline struct {
	Start           time.Time            `json:"start"`
	IntervalSeconds int                  `json:"intervalSeconds"`
	Streams         []TimelineDataStream `json:"streams"`
}

// StepSummary pairs a step name with its derived status for reporting.
type StepSummary struct {
	Name   string     `json:"name"`
	Status StepStatus `json:"status"`
}

// RunnerStatus is the point-in-time status snapshot returned by the status
// endpoint.
type RunnerStatus struct {
	TestProcedureName     string                 `json:"testProcedureName,omitempty"`
	StatusSummary         string                 `json:"statusSummary"`
	Steps                 []StepSummary          `json:"steps,omitempty"`
	CheckResults          map[string]CheckResult `json:"checkResults,omitempty"`
	Timeline              *Timeline              `json:"timeline,omitempty"`
	RequestHistory        []RequestEntry         `json:"requestHistory,omitempty"`
	LastClientInteraction ClientInteraction      `json:"lastClientInteraction"`
}

// InitResponseBody is returned by the init endpoint.
type InitResponseBody struct {
	Status        string    `json:"status"`
	TestProcedure string    `json:"testProcedure"`
	Timestamp     time.Time `json:"timestamp"`
	IsStarted     bool      `json:"isStarted"`
}

// StartResponseBody is returned by the start endpoint.
type StartResponseBody struct {
	Status        string    `json:"status"`
	TestProcedure string    `json:"testProcedure"`
	Timestamp     time.Time `json:"timestamp"`
}
