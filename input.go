package conduit

// AgentInputType discriminates the variants of [AgentInput].
type AgentInputType string

const (
	InputClaudeJSONL      AgentInputType = "claude_jsonl"
	InputCodexPrompt      AgentInputType = "codex_prompt"
	InputOpencodeQuestion AgentInputType = "opencode_question"
)

// AgentInput is the sum type of messages a caller can push to a running
// session. A Runner never emits these itself — only the recording wrapper
// (record.Runner) splices them onto a tape (invariant).
type AgentInput struct {
	Type AgentInputType

	ClaudeJSONL      string
	CodexPrompt      CodexPromptInput
	OpencodeQuestion OpencodeQuestionInput
}

type CodexPromptInput struct {
	Text   string
	Images []string
	Model  string
}

// OpencodeQuestionInput answers a pending AskUserQuestion tool call.
// Nil Answers rejects the question.
type OpencodeQuestionInput struct {
	RequestID string
	Answers   [][]string
}
