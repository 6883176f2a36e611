package websocket

// Extension is the small pipeline hook spec.md §5 describes: a negotiated
// per-message transform that claims an RSV bit on the wire. permessage-
// deflate (deflate.go) is the only extension this engine ships, but the
// interface is kept narrow enough for another to slot in beside it.
type Extension interface {
	// Name is the extension token as it appears in Sec-WebSocket-Extensions.
	Name() string

	// ClaimsRSV1 reports whether this extension sets RSV1 on outbound
	// first-fragments and expects it on inbound ones. permessage-deflate is
	// the only RSV1 user; RSV2/RSV3 have no defined extension in this
	// engine and are rejected unconditionally by the frame codec.
	ClaimsRSV1() bool

	// Encode transforms an outbound message payload before framing. It is
	// called once per message (not per fragment) with the full payload.
	Encode(payload []byte) ([]byte, error)

	// Decode reverses Encode on a fully reassembled inbound message payload.
	Decode(payload []byte) ([]byte, error)
}

// extensionPipeline runs the negotiated extensions over a message payload,
// applied in order on encode and unwound in reverse on decode. This engine
// only ever negotiates one (permessage-deflate), but the ordering
// guarantee is cheap to keep and matches how a second extension would
// have to compose.
type extensionPipeline struct {
	exts []Extension
}

func newExtensionPipeline(exts []Extension) extensionPipeline {
	return extensionPipeline{exts: exts}
}

func (p extensionPipeline) rsv1Claimed() bool {
	for _, e := range p.exts {
		if e.ClaimsRSV1() {
			return true
		}
	}
	return false
}

func (p extensionPipeline) encode(payload []byte) ([]byte, error) {
	var err error
	for _, e := range p.exts {
		payload, err = e.Encode(payload)
		if err != nil {
			return nil, &ExtensionError{Name: e.Name(), Reason: err.Error()}
		}
	}
	return payload, nil
}

func (p extensionPipeline) decode(payload []byte) ([]byte, error) {
	var err error
	for i := len(p.exts) - 1; i >= 0; i-- {
		e := p.exts[i]
		payload, err = e.Decode(payload)
		if err != nil {
			return nil, &ExtensionError{Name: e.Name(), Reason: err.Error()}
		}
	}
	return payload, nil
}
