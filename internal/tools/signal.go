package tools

// Signal metadata keys a system tool may set on its ToolResponse.Metadata
// to tell the Orchestrator loop (§4.2) what happened beyond the plain
// success/content result: a terminal completion, a suspension point
// awaiting external input, or a subtype lock. These are the ten named
// system tools' only way to talk back to the loop, since Execute itself
// only returns a ToolResponse.
const (
	// MetaTerminal, when true, signals the dispatch should end after this
	// iteration (say_to_user{finished_task:true}, task_fully_completed).
	MetaTerminal = "terminal"

	// MetaSuspend names the reason the loop should suspend at the next
	// suspension point (e.g. "ask_user", "tx_approval").
	MetaSuspend = "suspend"

	// MetaSubtypeLocked, when true, signals set_agent_subtype has fixed
	// the subtype for the remainder of the session (§4.2's subtype lock).
	MetaSubtypeLocked = "subtype_locked"
)
