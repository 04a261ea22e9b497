package audio

import "encoding/binary"

// ToS16LE returns p as signed 16-bit little-endian PCM. S16LE input is
// returned as is; U8 samples are re-centred on zero and widened.
func ToS16LE(p []byte, enc Encoding) []byte {
	if enc != EncodingU8 {
		return p
	}
	out := make([]byte, 2*len(p))
	for i, b := range p {
		binary.LittleEndian.PutUint16(out[2*i:], uint16((int16(b)-128)<<8))
	}
	return out
}

// Remix converts interleaved S16LE frames from one channel count to
// another. Only mono and stereo are supported; other combinations and equal
// counts return pcm unchanged. Trailing partial frames are dropped.
func Remix(pcm []byte, from, to int) []byte {
	switch {
	case from == 1 && to == 2:
		out := make([]byte, len(pcm)/2*4)
		for i := 0; i+1 < len(pcm); i += 2 {
			copy(out[2*i:], pcm[i:i+2])
			copy(out[2*i+2:], pcm[i:i+2])
		}
		return out
	case from == 2 && to == 1:
		out := make([]byte, len(pcm)/4*2)
		for i := range len(out) / 2 {
			l := int32(int16(binary.LittleEndian.Uint16(pcm[4*i:])))
			r := int32(int16(binary.LittleEndian.Uint16(pcm[4*i+2:])))
			// The mean of two int16 values always fits.
			binary.LittleEndian.PutUint16(out[2*i:], uint16(int16((l+r)/2)))
		}
		return out
	}
	return pcm
}
