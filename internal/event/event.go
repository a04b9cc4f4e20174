// Package event defines the run event record shape shared by the
// in-memory ledger and the durable event store.
//
// JSON field names are camelCase: the newline-delimited record file is
// the interchange format with the pre-existing ledger tooling, which
// reads and writes camelCase keys. Changing a tag here is a wire format
// break.
package event

import (
	"fmt"

	"github.com/google/uuid"
)

// Intent classifies what kind of change a run was asked to make.
type Intent string

const (
	IntentFeature  Intent = "feature"
	IntentRefactor Intent = "refactor"
	IntentFix      Intent = "fix"
	IntentChore    Intent = "chore"
	IntentDocs     Intent = "docs"
	IntentTest     Intent = "test"
)

// Severity grades a rule violation.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Violation records a single rule violation observed during a run.
type Violation struct {
	RuleID        string   `json:"ruleId"`
	Description   string   `json:"description"`
	Severity      Severity `json:"severity"`
	AutoCorrected bool     `json:"autoCorrected"`
}

// DiffSummary aggregates the size of the change a run produced.
type DiffSummary struct {
	LinesAdded   int `json:"linesAdded"`
	LinesRemoved int `json:"linesRemoved"`
	FilesChanged int `json:"filesChanged"`
}

// TestResults captures the test run outcome attached to a run event.
type TestResults struct {
	Ran     bool `json:"ran"`
	Passed  int  `json:"passed"`
	Failed  int  `json:"failed"`
	Skipped int  `json:"skipped"`
}

// RunEvent is one immutable record of an agent task execution.
//
// Timestamp is epoch milliseconds and is caller-supplied: the store
// never assigns wall-clock time, so replayed or imported histories keep
// their original ordering.
type RunEvent struct {
	EventID          string      `json:"eventId"`
	TaskID           string      `json:"taskId"`
	GuidanceHash     string      `json:"guidanceHash"`
	RetrievedRuleIDs []string    `json:"retrievedRuleIds"`
	ToolsUsed        []string    `json:"toolsUsed"`
	FilesTouched     []string    `json:"filesTouched"`
	DiffSummary      DiffSummary `json:"diffSummary"`
	TestResults      TestResults `json:"testResults"`
	Violations       []Violation `json:"violations"`
	OutcomeAccepted  bool        `json:"outcomeAccepted"`
	ReworkLines      int         `json:"reworkLines"`
	Intent           Intent      `json:"intent"`
	Timestamp        int64       `json:"timestamp"`
	DurationMS       int64       `json:"durationMs"`
}

// NewEventID returns a fresh unique event id.
func NewEventID() string {
	return uuid.NewString()
}

// Validate checks structural invariants. It does not enforce an intent
// whitelist: callers may carry custom intents, the enum above only
// names the common ones.
func (e RunEvent) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("event missing eventId")
	}
	if e.TaskID == "" {
		return fmt.Errorf("event %s missing taskId", e.EventID)
	}
	if e.Timestamp < 0 {
		return fmt.Errorf("event %s has negative timestamp %d", e.EventID, e.Timestamp)
	}
	if e.ReworkLines < 0 {
		return fmt.Errorf("event %s has negative reworkLines %d", e.EventID, e.ReworkLines)
	}
	if e.DurationMS < 0 {
		return fmt.Errorf("event %s has negative durationMs %d", e.EventID, e.DurationMS)
	}
	for i, v := range e.Violations {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("event %s violation %d: %w", e.EventID, i, err)
		}
	}
	return nil
}

// Validate checks a violation's required fields.
func (v Violation) Validate() error {
	if v.RuleID == "" {
		return fmt.Errorf("violation missing ruleId")
	}
	switch v.Severity {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return nil
	default:
		return fmt.Errorf("violation %s has unknown severity %q", v.RuleID, v.Severity)
	}
}
