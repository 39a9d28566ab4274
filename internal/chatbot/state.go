package chatbot

// State is where the session loop currently is.
type State int

const (
	StateIdle State = iota
	StateAwaitingReply
	StateRenderingReply
	StateExecutingActions
	StateCommand
	StateTerminated
)

var stateNames = [...]string{
	StateIdle:             "idle",
	StateAwaitingReply:    "awaiting_reply",
	StateRenderingReply:   "rendering_reply",
	StateExecutingActions: "executing_actions",
	StateCommand:          "command",
	StateTerminated:       "terminated",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// setState records a transition and drives the renderer. The "Thinking…"
// spinner lives exactly as long as StateAwaitingReply.
func (cb *ChatBot) setState(next State) {
	prev := cb.state
	if prev == next {
		return
	}
	cb.state = next

	if prev == StateAwaitingReply {
		cb.renderer.Idle()
	}
	if next == StateAwaitingReply {
		cb.renderer.Busy("Thinking…")
	}

	cb.logger.Debug("State transition", "from", prev.String(), "to", next.String(), "session_id", cb.conv.ID)
	if cb.onTransition != nil {
		cb.onTransition(prev, next)
	}
}

// State returns the current loop state.
func (cb *ChatBot) State() State {
	return cb.state
}
