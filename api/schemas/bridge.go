package schemas

import "encoding/json"

// ProtocolVersion is the bridge wire format version.
const ProtocolVersion = 1

// MessageKind discriminates bridge messages.
type MessageKind string

const (
	// KindEval asks the page realm to evaluate code.
	KindEval MessageKind = "eval"
	// KindResponse carries the outcome of an eval back to the privileged realm.
	KindResponse MessageKind = "response"
	// KindReady announces that the page realm has its DOM helper available.
	KindReady MessageKind = "ready"
	// KindSubmit carries a user request typed into the in-page overlay.
	KindSubmit MessageKind = "submit"
	// KindStatus pushes loop status to the in-page overlay.
	KindStatus MessageKind = "status"
)

// SenderTag identifies which realm posted a message. Both realms see every
// post on the shared bus, so each side filters on the other's tag.
type SenderTag string

const (
	SenderContent SenderTag = "content"
	SenderPage    SenderTag = "page"
)

// BridgeMessage is the single wire shape for all bridge traffic. Which fields
// are meaningful depends on Kind.
type BridgeMessage struct {
	Version int         `json:"v"`
	Kind    MessageKind `json:"type"`
	Sender  SenderTag   `json:"sender"`
	Nonce   string      `json:"nonce,omitempty"`

	// eval / response
	ID      uint64          `json:"id,omitempty"`
	Code    string          `json:"code,omitempty"`
	Capture bool            `json:"capture,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`

	// submit
	Text string `json:"text,omitempty"`

	// status
	Status *LoopStatus `json:"status,omitempty"`
}

// Envelope is a message as observed on a channel, together with the identity
// of the window (or realm) that posted it.
type Envelope struct {
	Origin  string
	Message BridgeMessage
}
