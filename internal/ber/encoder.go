package ber

// BEREncoder appends BER encoded values to a buffer.
type BEREncoder struct {
	buf []byte
}

// NewBEREncoder creates an encoder with the given initial capacity.
func NewBEREncoder(capacity int) *BEREncoder {
	if capacity <= 0 {
		capacity = 64
	}
	return &BEREncoder{buf: make([]byte, 0, capacity)}
}

// Bytes returns the encoded bytes.
func (e *BEREncoder) Bytes() []byte {
	return e.buf
}

// Len returns the number of encoded bytes.
func (e *BEREncoder) Len() int {
	return len(e.buf)
}

func (e *BEREncoder) writeLength(length int) {
	if length <= MaxShortFormLength {
		e.buf = append(e.buf, byte(length))
		return
	}
	n := lengthOctets(length)
	e.buf = append(e.buf, byte(LengthLongFormBit|n))
	for i := n - 1; i >= 0; i-- {
		e.buf = append(e.buf, byte(length>>(i*8)))
	}
}

func lengthOctets(length int) int {
	n := 0
	for ; length > 0; length >>= 8 {
		n++
	}
	return n
}

// WriteOctetString writes a primitive OCTET STRING.
func (e *BEREncoder) WriteOctetString(v []byte) error {
	e.buf = append(e.buf, ClassUniversal|TypePrimitive|TagOctetString)
	e.writeLength(len(v))
	e.buf = append(e.buf, v...)
	return nil
}

// WriteEnumerated writes an ENUMERATED in minimal two's complement form.
func (e *BEREncoder) WriteEnumerated(v int64) error {
	content := encodeInteger(v)
	e.buf = append(e.buf, ClassUniversal|TypePrimitive|TagEnumerated)
	e.writeLength(len(content))
	e.buf = append(e.buf, content...)
	return nil
}

// encodeInteger returns the shortest two's complement form of v.
func encodeInteger(v int64) []byte {
	n := 8
	for n > 1 {
		top := byte(v >> ((n - 1) * 8))
		next := byte(v >> ((n - 2) * 8))
		if (top == 0x00 && next&0x80 == 0) || (top == 0xFF && next&0x80 != 0) {
			n--
			continue
		}
		break
	}
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = byte(v >> ((n - 1 - i) * 8))
	}
	return out
}

// BeginSequence writes a SEQUENCE tag and reserves room for its length.
// The returned position must be passed to EndSequence once the contents
// have been written.
func (e *BEREncoder) BeginSequence() int {
	return e.beginConstructed(TagSequence)
}

// EndSequence patches the length of the SEQUENCE started at pos.
func (e *BEREncoder) EndSequence(pos int) error {
	return e.endConstructed(pos, TagSequence)
}

// BeginSet writes a SET tag and reserves room for its length.
func (e *BEREncoder) BeginSet() int {
	return e.beginConstructed(TagSet)
}

// EndSet patches the length of the SET started at pos.
func (e *BEREncoder) EndSet(pos int) error {
	return e.endConstructed(pos, TagSet)
}

// beginConstructed appends the tag and a one byte length placeholder and
// returns the position of the placeholder.
func (e *BEREncoder) beginConstructed(number byte) int {
	e.buf = append(e.buf, ClassUniversal|TypeConstructed|number, 0)
	return len(e.buf) - 1
}

// endConstructed rewrites the placeholder at pos with the real length,
// shifting the contents right when the long form is needed.
func (e *BEREncoder) endConstructed(pos int, number byte) error {
	if pos <= 0 || pos >= len(e.buf) || e.buf[pos-1] != ClassUniversal|TypeConstructed|number {
		return ErrInvalidLength
	}
	contentLen := len(e.buf) - pos - 1
	if contentLen <= MaxShortFormLength {
		e.buf[pos] = byte(contentLen)
		return nil
	}

	n := lengthOctets(contentLen)
	e.buf = append(e.buf, make([]byte, n)...)
	copy(e.buf[pos+1+n:], e.buf[pos+1:pos+1+contentLen])
	e.buf[pos] = byte(LengthLongFormBit | n)
	for i := 0; i < n; i++ {
		e.buf[pos+1+i] = byte(contentLen >> ((n - 1 - i) * 8))
	}
	return nil
}
