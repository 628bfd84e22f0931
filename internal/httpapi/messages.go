package httpapi

import "github.com/yapit-tts/yapit-sub000/internal/dispatcher"

// envelope is decoded first to discriminate on type before parsing the
// rest of a client→server message, per spec.md §6.
type envelope struct {
	Type string `json:"type"`
}

// synthesizeMessage is the client→server `synthesize` message shape from
// spec.md §6. block_indices and texts are parallel arrays: the client
// already holds each block's extracted text (from the document-upload
// processing step, out of this component's scope) and hands it over
// alongside the index so the dispatcher never has to look it up.
type synthesizeMessage struct {
	Type          string                 `json:"type"`
	DocumentID    string                 `json:"document_id"`
	BlockIndices  []int                  `json:"block_indices"`
	Texts         []string               `json:"texts"`
	Cursor        int                    `json:"cursor"`
	Model         string                 `json:"model"`
	Voice         string                 `json:"voice"`
	SynthesisMode string                 `json:"synthesis_mode"`
	Params        map[string]interface{} `json:"params,omitempty"`
	Codec         string                 `json:"codec,omitempty"`
}

func (m *synthesizeMessage) mode() dispatcher.SynthesisMode {
	if dispatcher.SynthesisMode(m.SynthesisMode) == dispatcher.ModeServer {
		return dispatcher.ModeServer
	}
	return dispatcher.ModeBrowser
}

// cursorMovedMessage is the client→server `cursor_moved` message shape.
type cursorMovedMessage struct {
	Type       string `json:"type"`
	DocumentID string `json:"document_id"`
	Cursor     int    `json:"cursor"`
}

// errorMessage is the connection-level server→client `error` message,
// used for conditions not tied to a single block (e.g. rate limiting,
// malformed input).
type errorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func newErrorMessage(msg string) errorMessage {
	return errorMessage{Type: "error", Error: msg}
}
