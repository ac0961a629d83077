package sim

import "time"

// Event bus topics.
const (
	// TopicTick carries the *model.Snapshot published after every mutation.
	TopicTick = "market:tick"
	// TopicNotice carries a Notice for each user-facing outcome.
	TopicNotice = "market:notice"
)

// NoticeLevel classifies a Notice.
type NoticeLevel string

const (
	NoticeSuccess NoticeLevel = "success"
	NoticeError   NoticeLevel = "error"
)

// Notice is a short human-readable message about an order outcome.
type Notice struct {
	Level   NoticeLevel `json:"level"`
	Message string      `json:"message"`
	Time    time.Time   `json:"time"`
}
