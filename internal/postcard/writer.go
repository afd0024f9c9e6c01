package postcard

// Writer accumulates postcard-encoded data.
type Writer struct {
	buf []byte
}

// Bytes returns the encoded data.
func (w *Writer) Bytes() []byte { return w.buf }

// PutUvarint appends an unsigned LEB128 varint.
func (w *Writer) PutUvarint(v uint64) {
	for v >= continueBit {
		w.buf = append(w.buf, byte(v)|continueBit)
		v >>= dataBitsPerByte
	}
	w.buf = append(w.buf, byte(v))
}

// PutString appends a varint-length-prefixed string.
func (w *Writer) PutString(s string) {
	w.PutUvarint(uint64(len(s)))
	w.buf = append(w.buf, s...)
}
