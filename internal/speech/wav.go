package speech

import (
	"bytes"
	"encoding/binary"
	"mime"
	"strconv"
	"strings"
)

const (
	defaultSampleRate = 24000
	bitsPerSample     = 16
	channels          = 1
)

// WrapPCM prepends a RIFF/WAVE header to 16-bit little-endian mono PCM.
func WrapPCM(pcm []byte, sampleRate int) []byte {
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(&buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}

// isWAV reports whether data already carries a RIFF/WAVE header.
func isWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

// sampleRate reads the rate parameter of a mime type such as
// "audio/L16;codec=pcm;rate=24000".
func sampleRate(mimeType string) int {
	_, params, err := mime.ParseMediaType(mimeType)
	if err != nil {
		// Gemini omits the space mime expects in some responses.
		for _, p := range strings.Split(mimeType, ";") {
			if k, v, ok := strings.Cut(strings.TrimSpace(p), "="); ok && k == "rate" {
				if n, err := strconv.Atoi(v); err == nil && n > 0 {
					return n
				}
			}
		}
		return defaultSampleRate
	}
	if n, err := strconv.Atoi(params["rate"]); err == nil && n > 0 {
		return n
	}
	return defaultSampleRate
}
