package ws2811

// encodeHalf encodes source bytes into the even slots of dst, most
// significant bit first, 16 slots per source byte. A 0 bit stores mask (the
// early fall), a 1 bit stores zero. Odd slots are owned by the device's
// one-time fill and are never written here.
//
// When the source runs out mid-half the remaining even slots are set to
// mask, so the tail clocks out as 0 bits instead of replaying stale slots
// from an earlier, longer frame.
//
// Returns the advanced cursor and whether the stream end has been reached.
func encodeHalf(dst []byte, src []byte, cursor int, mask byte) (int, bool) {
	i := 0
	for ; i+16 <= len(dst) && cursor < len(src); i += 16 {
		p := src[cursor]
		cursor++
		for j := 0; j < 8; j++ {
			if p&0x80 == 0 {
				dst[i+j*2] = mask
			} else {
				dst[i+j*2] = 0
			}
			p <<= 1
		}
	}
	for ; i < len(dst); i += 2 {
		dst[i] = mask
	}
	return cursor, cursor >= len(src)
}

// idleFill rewrites every even slot as a 0 bit. Used while draining so a
// circular engine replays harmless zero cells rather than pixel data.
func idleFill(dst []byte, mask byte) {
	for i := 0; i < len(dst); i += 2 {
		dst[i] = mask
	}
}
