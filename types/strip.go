package types

// ------------------------
// RGB LED strip (ws2811)
// ------------------------

type StripInfo struct {
	Pin        int    `json:"pin"`
	LEDs       int    `json:"leds"`
	BitCellNs  uint32 `json:"bit_cell_ns"` // pulse cell period, nominally 1250
	ColorOrder string `json:"color_order"` // wire order, "rgb" for ws2811
}

// StripValue is the retained per-strip counter snapshot.
type StripValue struct {
	Frames    uint32 `json:"frames"`    // completed transfers
	Underruns uint32 `json:"underruns"` // refill deadlines missed mid-transfer
	Busy      bool   `json:"busy"`      // transfer currently in flight
}

// Controls

type StripSet struct {
	Index int   `json:"index"`
	R     uint8 `json:"r"`
	G     uint8 `json:"g"`
	B     uint8 `json:"b"`
}

type StripSetAll struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

// StripShow triggers a transfer of the current pixel contents.
type StripShow struct{}
