package types

// ------------------------
// Serial / telemetry link
// ------------------------

// Parity selects the UART parity mode for a telemetry link.
type Parity uint8

const (
	ParityNone Parity = iota
	ParityEven
	ParityOdd
)

func (p Parity) String() string {
	switch p {
	case ParityEven:
		return "even"
	case ParityOdd:
		return "odd"
	default:
		return "none"
	}
}

func (p Parity) MarshalJSON() ([]byte, error) { return []byte(`"` + p.String() + `"`), nil }

// SerialInfo is the static capability detail for a telemetry link.
type SerialInfo struct {
	Bus  string `json:"bus"`
	Baud uint32 `json:"baud"` // 0 if unspecified
}

type SerialSetBaud struct {
	Baud uint32 `json:"baud"`
}

type SerialSetFormat struct {
	DataBits uint8  `json:"data_bits"`
	StopBits uint8  `json:"stop_bits"`
	Parity   Parity `json:"parity"`
}

// SerialSessionOpen requests a bidirectional ring-buffer session on a link.
// Sizes are in bytes and must be powers of two; zero takes the link default.
type SerialSessionOpen struct {
	RXSize int `json:"rx_size,omitempty"`
	TXSize int `json:"tx_size,omitempty"`
}

// SerialSessionOpened carries the shared-ring handles for an open session.
// The RX ring holds bytes arriving from the link, TX holds bytes to send.
type SerialSessionOpened struct {
	SessionID uint32 `json:"session_id"`
	RXHandle  uint32 `json:"rx_handle"`
	TXHandle  uint32 `json:"tx_handle"`
}
