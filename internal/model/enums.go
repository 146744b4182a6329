package model

type CommandStatus string

const (
	CommandStatusPending CommandStatus = "pending"
	CommandStatusRunning CommandStatus = "running"
	CommandStatusDone    CommandStatus = "done"
	CommandStatusError   CommandStatus = "error"
)

func (s CommandStatus) IsTerminal() bool {
	return s == CommandStatusDone || s == CommandStatusError
}

// CanTransition reports whether a command may move from s to next.
// The only legal path is pending -> running -> done|error.
func (s CommandStatus) CanTransition(next CommandStatus) bool {
	switch s {
	case CommandStatusPending:
		return next == CommandStatusRunning
	case CommandStatusRunning:
		return next.IsTerminal()
	default:
		return false
	}
}

type PairingStatus string

const (
	PairingStatusPending  PairingStatus = "pending"
	PairingStatusClaimed  PairingStatus = "claimed"
	PairingStatusExpired  PairingStatus = "expired"
	PairingStatusNotFound PairingStatus = "not_found"
)

type ChatMessageType string

const (
	ChatMessageText     ChatMessageType = "text"
	ChatMessageCommand  ChatMessageType = "command"
	ChatMessageResponse ChatMessageType = "response"
	ChatMessageError    ChatMessageType = "error"
)

var ChatMessageTypes = []string{
	string(ChatMessageText),
	string(ChatMessageCommand),
	string(ChatMessageResponse),
	string(ChatMessageError),
}
