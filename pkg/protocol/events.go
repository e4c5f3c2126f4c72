// Package protocol names the event kinds shared between the scheduler and
// the agent loop, so a span label or a log line always spells a given
// concept the same way (spec §3 "Event", §4.5 "Event scheduler").
package protocol

// Event file "type" values (spec §3, §6 event file schema).
const (
	EventImmediate = "immediate"
	EventOneShot   = "one-shot"
	EventPeriodic  = "periodic"
)

// Agent run lifecycle labels used in telemetry span names and log fields
// (internal/telemetry, internal/agent).
const (
	AgentEventRunStarted   = "run.started"
	AgentEventRunCompleted = "run.completed"
	AgentEventRunFailed    = "run.failed"
	AgentEventRunAborted   = "run.aborted"
	AgentEventToolCall     = "tool.call"
	AgentEventToolResult   = "tool.result"
)
