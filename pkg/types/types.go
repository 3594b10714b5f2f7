// Package types defines the public domain types for the Banksia CSIP-AUS
// conformance test harness.
package types

import "time"

// CSIPAusVersion identifies which revision of CSIP-AUS a test run is
// communicating with.
type CSIPAusVersion string

// CSIPAusVersion values enumerate the supported CSIP-AUS revisions.
const (
	CSIPAusV11 CSIPAusVersion = "v1.1"
	CSIPAusV12 CSIPAusVersion = "v1.2"
	CSIPAusV13 CSIPAusVersion = "v1.3-beta/storage"
)

// StepStatus is the derived progress state of a single test-procedure step.
// It is always computed from the step's timestamps, never stored.
type StepStatus string

// StepStatus values enumerate the derived step progress states.
const (
	StepPending  StepStatus = "PENDING"
	StepActive   StepStatus = "ACTIVE"
	StepResolved StepStatus = "RESOLVED"
)

// EventType classifies what kind of trigger a step listens for.
type EventType string

// EventType values enumerate the supported step triggers. The *-request-received
// types match proxied client requests by HTTP method; "wait" fires after a
// fixed delay from the moment the step was enabled.
const (
	EventGETRequestReceived    EventType = "GET-request-received"
	EventPOSTRequestReceived   EventType = "POST-request-received"
	EventPUTRequestReceived    EventType = "PUT-request-received"
	EventDELETERequestReceived EventType = "DELETE-request-received"
	EventWait                  EventType = "wait"
)

// RequestEventTypes maps HTTP methods to their request-received event type.
var RequestEventTypes = map[string]EventType{
	"GET":    EventGETRequestReceived,
	"POST":   EventPOSTRequestReceived,
	"PUT":    EventPUTRequestReceived,
	"DELETE": EventDELETERequestReceived,
}

// ActionType identifies an operation a listener performs when it fires.
type ActionType string

// ActionType values enumerate the full action vocabulary.
const (
	ActionEnableSteps           ActionType = "enable-steps"
	ActionRemoveSteps           ActionType = "remove-steps"
	ActionFinishTest            ActionType = "finish-test"
	ActionSetDefaultDERControl  ActionType = "set-default-der-control"
	ActionCreateDERControl      ActionType = "create-der-control"
	ActionCreateDERProgram      ActionType = "create-der-program"
	ActionCancelActiveControls  ActionType = "cancel-active-der-controls"
	ActionSetCommsRate          ActionType = "set-comms-rate"
	ActionRegisterEndDevice     ActionType = "register-end-device"
	ActionCommunicationsStatus  ActionType = "communications-status"
	ActionEDEVRegistrationLinks ActionType = "edev-registration-links"
)

// AllActionTypes is the canonical action vocabulary. The action engine's
// registered handlers are checked 1:1 against this list at startup.
var AllActionTypes = []ActionType{
	ActionEnableSteps,
	ActionRemoveSteps,
	ActionFinishTest,
	ActionSetDefaultDERControl,
	ActionCreateDERControl,
	ActionCreateDERProgram,
	ActionCancelActiveControls,
	ActionSetCommsRate,
	ActionRegisterEndDevice,
	ActionCommunicationsStatus,
	ActionEDEVRegistrationLinks,
}

// CheckType identifies a boolean assertion about server/database state.
type CheckType string

// CheckType values enumerate the full check vocabulary.
const (
	CheckAllStepsComplete            CheckType = "all-steps-complete"
	CheckEndDeviceContents           CheckType = "end-device-contents"
	CheckDERSettingsContents         CheckType = "der-settings-contents"
	CheckDERCapabilityContents       CheckType = "der-capability-contents"
	CheckDERStatusContents           CheckType = "der-status-contents"
	CheckReadingsSiteActivePower     CheckType = "readings-site-active-power"
	CheckReadingsSiteReactivePower   CheckType = "readings-site-reactive-power"
	CheckReadingsSiteVoltage         CheckType = "readings-site-voltage"
	CheckReadingsDERActivePower      CheckType = "readings-der-active-power"
	CheckReadingsDERReactivePower    CheckType = "readings-der-reactive-power"
	CheckReadingsDERVoltage          CheckType = "readings-der-voltage"
	CheckAllNotificationsTransmitted CheckType = "all-notifications-transmitted"
	CheckSubscriptionContents        CheckType = "subscription-contents"
	CheckResponseContents            CheckType = "response-contents"
)

// AllCheckTypes is the canonical check vocabulary, kept 1:1 with the check
// engine's registered handlers.
var AllCheckTypes = []CheckType{
	CheckAllStepsComplete,
	CheckEndDeviceContents,
	CheckDERSettingsContents,
	CheckDERCapabilityContents,
	CheckDERStatusContents,
	CheckReadingsSiteActivePower,
	CheckReadingsSiteReactivePower,
	CheckReadingsSiteVoltage,
	CheckReadingsDERActivePower,
	CheckReadingsDERReactivePower,
	CheckReadingsDERVoltage,
	CheckAllNotificationsTransmitted,
	CheckSubscriptionContents,
	CheckResponseContents,
}

// Event binds a step to its trigger. Parameters depend on the type:
// request-received events carry "endpoint" (and optionally
// "serve_request_first"); wait events carry "duration_seconds". Parameter
// values may be literals or unresolved variable expressions.
type Event struct {
	Type       EventType      `yaml:"type" json:"type"`
	Parameters map[string]any `yaml:"parameters,omitempty" json:"parameters,omitempty"`
	Checks     []Check        `yaml:"checks,omitempty" json:"checks,omitempty"`
}

// Action is one operation executed when a listener fires. Parameter values
// may be literals or unresolved variable expressions.
type Action struct {
	Type       ActionType     `yaml:"type" json:"type"`
	Parameters map[string]any `yaml:"parameters,omitempty" json:"parameters,omitempty"`
}

// Check is one boolean assertion evaluated against the active test procedure
// and the reference server database.
type Check struct {
	Type       CheckType      `yaml:"type" json:"type"`
	Parameters map[string]any `yaml:"parameters,omitempty" json:"parameters,omitempty"`
}

// CheckResult is the outcome of running a single check.
type CheckResult struct {
	// Passed is true if the check is considered successful.
	Passed bool `json:"passed"`
	// Description is a human readable elaboration of what the check
	// considered. Empty when the check has nothing to add.
	Description string `json:"description,omitempty"`
}

// Step couples an event with the ordered actions it triggers.
type Step struct {
	Event   Event    `yaml:"event" json:"event"`
	Actions []Action `yaml:"actions,omitempty" json:"actions,omitempty"`
}

// Preconditions gate and prime a test procedure before its first step runs.
type Preconditions struct {
	// Checks must all pass before the procedure may start.
	Checks []Check `yaml:"checks,omitempty" json:"checks,omitempty"`
	// InitActions fire when the procedure is initialised.
	InitActions []Action `yaml:"init_actions,omitempty" json:"init_actions,omitempty"`
	// Actions fire when the procedure is started.
	Actions []Action `yaml:"actions,omitempty" json:"actions,omitempty"`
	// ImmediateStart starts the procedure as part of initialisation.
	ImmediateStart bool `yaml:"immediate_start,omitempty" json:"immediate_start,omitempty"`
}

// TestProcedure is the immutable declarative definition of one conformance
// test. StepOrder preserves declaration order; Steps is keyed by step name.
type TestProcedure struct {
	Description   string          `yaml:"description" json:"description"`
	Category      string          `yaml:"category,omitempty" json:"category,omitempty"`
	Classes       []string        `yaml:"classes,omitempty" json:"classes,omitempty"`
	Preconditions *Preconditions  `yaml:"preconditions,omitempty" json:"preconditions,omitempty"`
	Steps         map[string]Step `yaml:"steps" json:"steps"`
	StepOrder     []string        `yaml:"-" json:"-"`
	// Criteria are the checks used to determine overall pass/fail at
	// finalisation.
	Criteria []Check `yaml:"criteria,omitempty" json:"criteria,omitempty"`
}

// ClientCertificateType distinguishes how the device under test presented
// itself at initialisation.
type ClientCertificateType string

// ClientCertificateType values.
const (
	CertAggregator ClientCertificateType = "Aggregator"
	CertDevice     ClientCertificateType = "Device"
)

// ClientInteractionType classifies entries in the client interaction log.
type ClientInteractionType string

// ClientInteractionType values.
const (
	InteractionRunnerStart    ClientInteractionType = "RUNNER_START"
	InteractionProcedureInit  ClientInteractionType = "TEST_PROCEDURE_INIT"
	InteractionProcedureStart ClientInteractionType = "TEST_PROCEDURE_START"
	InteractionProxiedRequest ClientInteractionType = "PROXIED_REQUEST"
)

// ClientInteraction records one interaction between the device under test
// and the harness.
type ClientInteraction struct {
	Type      ClientInteractionType `json:"type"`
	Timestamp time.Time             `json:"timestamp"`
}

// RequestEntry records a single proxied request and which step (if any) it
// advanced.
type RequestEntry struct {
	URL       string    `json:"url"`
	Path      string    `json:"path"`
	Method    string    `json:"method"`
	Status    int       `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	// StepName is the step this request resolved, or "IGNORED" / "INIT".
	StepName string `json:"stepName"`
}
