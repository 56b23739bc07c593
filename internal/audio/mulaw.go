package audio

import "github.com/zaf/g711"

// DecodeMULaw expands 8-bit mu-law samples into PCM16LE.
func DecodeMULaw(data []byte) []byte {
	return g711.DecodeUlaw(data)
}

// EncodeMULaw compresses PCM16LE samples into 8-bit mu-law.
func EncodeMULaw(pcm []byte) []byte {
	return g711.EncodeUlaw(pcm)
}

// ToPCM16 converts a chunk payload to PCM16LE. MP3 payloads cannot be
// decoded here and return nil.
func ToPCM16(c Chunk) []byte {
	switch c.Encoding {
	case EncodingPCM16:
		out := make([]byte, len(c.Data))
		copy(out, c.Data)
		return out
	case EncodingMULaw:
		return DecodeMULaw(c.Data)
	default:
		return nil
	}
}
