package tools

// Result is the unified return type from tool execution (spec §4.3
// "tool_result"). ForLLM becomes the tool_result content part; ForUser, if
// set, is additionally surfaced via the chat queue; Silent suppresses that
// surfacing entirely.
type Result struct {
	ForLLM  string `json:"for_llm"`
	ForUser string `json:"for_user,omitempty"`
	Silent  bool   `json:"silent"`
	IsError bool   `json:"is_error"`
	Err     error  `json:"-"`

	// DurationMS is recorded on the tool's telemetry span.
	DurationMS int64 `json:"-"`
}

func NewResult(forLLM string) *Result {
	return &Result{ForLLM: forLLM}
}

func SilentResult(forLLM string) *Result {
	return &Result{ForLLM: forLLM, Silent: true}
}

func ErrorResult(message string) *Result {
	return &Result{ForLLM: message, IsError: true}
}

func UserResult(content string) *Result {
	return &Result{ForLLM: content, ForUser: content}
}

func (r *Result) WithError(err error) *Result {
	r.Err = err
	return r
}
