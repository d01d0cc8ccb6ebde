package ws

import (
	"github.com/ip150-bridge/backend/internal/panel"
)

type MessageType string

const (
	MsgSnapshot MessageType = "snapshot"
	MsgDelta    MessageType = "delta"
)

type WSMessage struct {
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload"`
}

type SnapshotPayload struct {
	Status panel.Snapshot `json:"status"`
}

type DeltaPayload struct {
	Changes panel.Delta `json:"changes"`
}
