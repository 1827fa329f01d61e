package audio

import "encoding/binary"

func makePCM16WAV(samples []int16, sampleRate int, channels int) []byte {
	return makeWAV(samples, sampleRate, channels, []byte("LIST\x04\x00\x00\x00INFO"))
}

// makeWAV writes a 16-bit PCM file with an optional extra chunk between the
// fmt and data chunks.
func makeWAV(samples []int16, sampleRate int, channels int, extra []byte) []byte {
	const fmtChunkSize = 16
	dataSize := len(samples) * 2
	riffSize := 4 + (8 + fmtChunkSize) + len(extra) + (8 + dataSize)

	out := make([]byte, 0, 8+riffSize)
	out = append(out, "RIFF"...)
	out = binary.LittleEndian.AppendUint32(out, uint32(riffSize))
	out = append(out, "WAVE"...)

	out = append(out, "fmt "...)
	out = binary.LittleEndian.AppendUint32(out, fmtChunkSize)
	out = binary.LittleEndian.AppendUint16(out, 1)
	out = binary.LittleEndian.AppendUint16(out, uint16(channels))
	out = binary.LittleEndian.AppendUint32(out, uint32(sampleRate))
	out = binary.LittleEndian.AppendUint32(out, uint32(sampleRate*channels*2))
	out = binary.LittleEndian.AppendUint16(out, uint16(channels*2))
	out = binary.LittleEndian.AppendUint16(out, 16)

	out = append(out, extra...)

	out = append(out, "data"...)
	out = binary.LittleEndian.AppendUint32(out, uint32(dataSize))
	for _, s := range samples {
		out = binary.LittleEndian.AppendUint16(out, uint16(s))
	}

	return out
}
