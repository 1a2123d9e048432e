package encoding

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
)

// maxFrameBytes bounds decoded frame size, comfortably above any frame the
// renderer produces.
const maxFrameBytes = 1 << 24

// EncodeFrameRLE encodes raw frame pixels into base64(varint pairs). The
// pairs are (byte_value, run_len) repeated. Rendered frames are dominated by
// pitch-colored runs, which is what makes this worthwhile.
func EncodeFrameRLE(pixels []byte) string {
	var buf bytes.Buffer
	var tmp [binary.MaxVarintLen64]byte

	i := 0
	for i < len(pixels) {
		b := pixels[i]
		run := 1
		for j := i + 1; j < len(pixels) && pixels[j] == b; j++ {
			run++
		}

		n := binary.PutUvarint(tmp[:], uint64(b))
		buf.Write(tmp[:n])
		n = binary.PutUvarint(tmp[:], uint64(run))
		buf.Write(tmp[:n])

		i += run
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func DecodeFrameRLE(b64 string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	var out []byte
	for i := 0; i < len(raw); {
		b, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		run, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		if b > 0xFF {
			return nil, fmt.Errorf("pixel value too large: %d", b)
		}
		if uint64(len(out))+run > maxFrameBytes {
			return nil, fmt.Errorf("decoded frame too large: %d", uint64(len(out))+run)
		}
		for k := 0; k < int(run); k++ {
			out = append(out, byte(b))
		}
	}
	return out, nil
}
