package task

// BodyKind discriminates the payload shape of a request body.
type BodyKind int

const (
	BodyNone BodyKind = iota
	BodyText
	BodyBytes
)

// Body is an optional request payload: absent, a UTF-8 string, or raw bytes.
// Any other shape is rejected at construction time.
type Body struct {
	Kind BodyKind
	Text string
	Raw  []byte
}

// NewBody converts an arbitrary value into a Body. Accepted shapes are
// nil, string and []byte.
func NewBody(v any) (Body, error) {
	switch b := v.(type) {
	case nil:
		return Body{Kind: BodyNone}, nil
	case string:
		return Body{Kind: BodyText, Text: b}, nil
	case []byte:
		raw := make([]byte, len(b))
		copy(raw, b)
		return Body{Kind: BodyBytes, Raw: raw}, nil
	default:
		return Body{}, invalid("body", "must be absent, a string or raw bytes")
	}
}

// IsZero reports whether the body is absent.
func (b Body) IsZero() bool { return b.Kind == BodyNone }

func (b Body) clone() Body {
	if b.Kind != BodyBytes {
		return b
	}
	raw := make([]byte, len(b.Raw))
	copy(raw, b.Raw)
	return Body{Kind: BodyBytes, Raw: raw}
}
