package websocket

// MessageType identifies which variant of Message is populated, following
// the same int-enum-plus-payload convention both example codebases use in
// preference to a hand-rolled tagged union.
type MessageType int

const (
	MessageText MessageType = iota
	MessageBinary
	MessagePing
	MessagePong
	MessageClose
)

func (t MessageType) String() string {
	switch t {
	case MessageText:
		return "text"
	case MessageBinary:
		return "binary"
	case MessagePing:
		return "ping"
	case MessagePong:
		return "pong"
	case MessageClose:
		return "close"
	default:
		return "unknown"
	}
}

// Message is a fully reassembled, extension-decoded application message
// (spec.md §3). Exactly one of the fields below is meaningful for a given
// Type: Text for MessageText, Data for MessageBinary/MessagePing/MessagePong,
// and CloseCode/CloseReason for MessageClose.
type Message struct {
	Type MessageType

	// Text holds the payload for MessageText, already validated as UTF-8.
	Text string

	// Data holds the payload for MessageBinary, MessagePing, and MessagePong.
	Data []byte

	// CloseCode and CloseReason describe a MessageClose. HasCloseCode is
	// false when the peer sent a zero-length close frame (spec.md §4,
	// "no status code present" — distinct from CloseNoStatusReceived,
	// which this engine never reports as a literal wire value).
	CloseCode    CloseCode
	HasCloseCode bool
	CloseReason  string
}

// TextMessage constructs a MessageText.
func TextMessage(s string) Message { return Message{Type: MessageText, Text: s} }

// BinaryMessage constructs a MessageBinary.
func BinaryMessage(b []byte) Message { return Message{Type: MessageBinary, Data: b} }
