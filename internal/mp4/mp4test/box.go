package mp4test

import "encoding/binary"

// writer accumulates big-endian box fields.
type writer struct {
	buf []byte
}

func (w *writer) u8(v uint8) *writer {
	w.buf = append(w.buf, v)
	return w
}

func (w *writer) u16(v uint16) *writer {
	w.buf = binary.BigEndian.AppendUint16(w.buf, v)
	return w
}

func (w *writer) u32(v uint32) *writer {
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
	return w
}

func (w *writer) bytes(b []byte) *writer {
	w.buf = append(w.buf, b...)
	return w
}

func (w *writer) zeros(n int) *writer {
	w.buf = append(w.buf, make([]byte, n)...)
	return w
}

func box(typ string, children ...[]byte) []byte {
	size := 8
	for _, c := range children {
		size += len(c)
	}
	w := &writer{buf: make([]byte, 0, size)}
	w.u32(uint32(size)).bytes([]byte(typ))
	for _, c := range children {
		w.bytes(c)
	}
	return w.buf
}

func fullBox(typ string, version uint8, flags uint32, children ...[]byte) []byte {
	head := (&writer{}).u8(version).u8(uint8(flags >> 16)).u8(uint8(flags >> 8)).u8(uint8(flags)).buf
	return box(typ, append([][]byte{head}, children...)...)
}

var identityMatrix = []uint32{0x00010000, 0, 0, 0, 0x00010000, 0, 0, 0, 0x40000000}

func matrix(w *writer) {
	for _, v := range identityMatrix {
		w.u32(v)
	}
}

// descriptor encodes an MPEG-4 descriptor with a single-byte size.
func descriptor(tag uint8, body ...[]byte) []byte {
	n := 0
	for _, b := range body {
		n += len(b)
	}
	w := (&writer{}).u8(tag).u8(uint8(n))
	for _, b := range body {
		w.bytes(b)
	}
	return w.buf
}
