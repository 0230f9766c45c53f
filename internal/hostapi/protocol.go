// Package hostapi exposes the voice controller to the host application over
// a WebSocket control channel.
//
// The host sends [Command] frames (enable, disable, assistant_speaking,
// toggle, retry) and receives [Event] frames (transcript, notice, state,
// toggle). All frames are JSON text messages. A plain
// GET /v1/voice/status returns the current status for pollers.
package hostapi

import (
	"github.com/voxmemo/voxmemo/internal/fault"
	"github.com/voxmemo/voxmemo/internal/voice"
)

// Command types sent by the host.
const (
	CmdEnable            = "enable"
	CmdDisable           = "disable"
	CmdAssistantSpeaking = "assistant_speaking"
	CmdToggle            = "toggle"
	CmdRetry             = "retry"
)

// Event types sent to the host.
const (
	EvtTranscript = "transcript"
	EvtNotice     = "notice"
	EvtState      = "state"
	EvtToggle     = "toggle"
	EvtError      = "error"
)

// Command is a host to daemon frame.
type Command struct {
	Type     string `json:"type"`
	Speaking bool   `json:"speaking,omitempty"`
	Enabled  bool   `json:"enabled,omitempty"`
}

// Event is a daemon to host frame. Only the fields relevant to Type are set.
type Event struct {
	Type    string        `json:"type"`
	Text    string        `json:"text,omitempty"`
	Kind    fault.Kind    `json:"kind,omitempty"`
	Message string        `json:"message,omitempty"`
	Status  *voice.Status `json:"status,omitempty"`
	Enabled *bool         `json:"enabled,omitempty"`
}

func transcriptEvent(text string) Event { return Event{Type: EvtTranscript, Text: text} }

func noticeEvent(n fault.Notice) Event {
	return Event{Type: EvtNotice, Kind: n.Kind, Message: n.Message}
}

func stateEvent(s voice.Status) Event { return Event{Type: EvtState, Status: &s} }

func toggleEvent(on bool) Event { return Event{Type: EvtToggle, Enabled: &on} }

func errorEvent(msg string) Event { return Event{Type: EvtError, Message: msg} }
