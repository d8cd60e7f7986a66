package docdb

import (
	"encoding/binary"
	"fmt"
	"math"
)

func ensureCapacity(buf []byte, minCap int) []byte {
	c := cap(buf)
	if minCap > c {
		if c < 16 {
			c = 16
		}
		for minCap > c {
			c <<= 1
		}
		old := buf
		buf = make([]byte, len(old), c)
		copy(buf, old)
	}
	return buf
}

func grow(buf []byte, n int) (int, []byte) {
	off := len(buf)
	newLen := off + n
	buf = ensureCapacity(buf, newLen)
	return off, buf[:newLen]
}

func appendRaw(buf []byte, chunk []byte) []byte {
	n := len(chunk)
	off, buf := grow(buf, n)
	copy(buf[off:], chunk)
	return buf
}

func appendUvarint(buf []byte, v uint64) []byte {
	off, buf := grow(buf, binary.MaxVarintLen64)
	off += binary.PutUvarint(buf[off:], v)
	return buf[:off]
}

func appendVarbytes(buf []byte, v []byte) []byte {
	n := len(v)
	off, buf := grow(buf, binary.MaxVarintLen64+n)
	off += binary.PutUvarint(buf[off:], uint64(n))
	copy(buf[off:], v)
	return buf[:off+n]
}

// byteDecoder reads the uvarint/length-prefixed fields written by
// appendUvarint/appendVarbytes (recordcodec.go's record header,
// index.go's serialized index rows).
type byteDecoder struct {
	Orig []byte
	Buf  []byte
}

func makeByteDecoder(buf []byte) byteDecoder {
	return byteDecoder{buf, buf}
}

func (d *byteDecoder) Off() int {
	return len(d.Orig) - len(d.Buf)
}

func (d *byteDecoder) Uvarint() (uint64, error) {
	v, n := binary.Uvarint(d.Buf)
	if n <= 0 {
		return 0, decodeErrf(d.Orig, d.Off(), "invalid uvarint")
	}
	d.Buf = d.Buf[n:]
	return v, nil
}

func (d *byteDecoder) Uvarinti() (int, error) {
	v, err := d.Uvarint()
	if v > math.MaxInt {
		return 0, decodeErrf(d.Orig, d.Off(), "value does not fit into int: %d", v)
	}
	return int(v), err
}

func (d *byteDecoder) Raw(n int) ([]byte, error) {
	if len(d.Buf) < n {
		return nil, decodeErrf(d.Orig, d.Off(), "not enough data: %d bytes remaining, %d wanted", len(d.Buf), n)
	}
	v := d.Buf[:n]
	d.Buf = d.Buf[n:]
	return v, nil
}

func (d *byteDecoder) VarBytes() ([]byte, error) {
	n, err := d.Uvarinti()
	if err != nil {
		return nil, err
	}
	return d.Raw(n)
}

// decodeErrf reports a malformed-encoding failure found while decoding a
// key or value byte buffer, with a truncated hex preview for context.
func decodeErrf(data []byte, off int, format string, args ...any) error {
	return engineErrf(EngineEncoding, "", nil, nil, "%s (at byte %d of %s)", fmt.Sprintf(format, args...), off, truncatedHex(data))
}
