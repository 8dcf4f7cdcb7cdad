package ber

// BERDecoder reads BER encoded values from a byte slice.
type BERDecoder struct {
	data   []byte
	offset int
}

// NewBERDecoder creates a new BER decoder for the given data.
func NewBERDecoder(data []byte) *BERDecoder {
	return &BERDecoder{data: data}
}

// Offset returns the current read position in the data.
func (d *BERDecoder) Offset() int {
	return d.offset
}

// Remaining returns the number of bytes remaining to be read.
func (d *BERDecoder) Remaining() int {
	return len(d.data) - d.offset
}

// readLength reads a definite length and checks that its contents are
// present.
func (d *BERDecoder) readLength(start int) (int, error) {
	if d.offset >= len(d.data) {
		return 0, NewDecodeError(start, "cannot read length", ErrUnexpectedEOF)
	}
	first := d.data[d.offset]
	d.offset++

	length := int(first)
	if first&LengthLongFormBit != 0 {
		n := int(first &^ LengthLongFormBit)
		if n == 0 {
			return 0, NewDecodeError(start, "indefinite length encoding", ErrIndefiniteLength)
		}
		if n > 4 {
			return 0, NewDecodeError(start, "length value overflow", ErrInvalidLength)
		}
		if d.offset+n > len(d.data) {
			return 0, NewDecodeError(start, "truncated length encoding", ErrUnexpectedEOF)
		}
		var l uint64
		for i := 0; i < n; i++ {
			l = l<<8 | uint64(d.data[d.offset])
			d.offset++
		}
		if l > maxLength {
			return 0, NewDecodeError(start, "length value overflow", ErrInvalidLength)
		}
		length = int(l)
	}

	if length > d.Remaining() {
		return 0, NewDecodeError(start, "truncated value", ErrUnexpectedEOF)
	}
	return length, nil
}

// expect reads the identifier octet, which must equal tag, and the length.
func (d *BERDecoder) expect(tag byte) (int, error) {
	start := d.offset
	if d.offset >= len(d.data) {
		return 0, NewDecodeError(start, "cannot read tag", ErrUnexpectedEOF)
	}
	if got := d.data[d.offset]; got != tag {
		return 0, &TagMismatchError{Offset: start, Expected: tag, Actual: got}
	}
	d.offset++
	return d.readLength(start)
}

// ReadOctetString reads a primitive OCTET STRING. The returned slice is a
// copy.
func (d *BERDecoder) ReadOctetString() ([]byte, error) {
	length, err := d.expect(ClassUniversal | TypePrimitive | TagOctetString)
	if err != nil {
		return nil, err
	}
	value := make([]byte, length)
	copy(value, d.data[d.offset:])
	d.offset += length
	return value, nil
}

// ReadEnumerated reads an ENUMERATED value.
func (d *BERDecoder) ReadEnumerated() (int64, error) {
	start := d.offset
	length, err := d.expect(ClassUniversal | TypePrimitive | TagEnumerated)
	if err != nil {
		return 0, err
	}
	if length == 0 || length > 8 {
		return 0, NewDecodeError(start, "enumerated must have 1 to 8 bytes", ErrInvalidInteger)
	}

	var v int64
	if d.data[d.offset]&0x80 != 0 {
		v = -1
	}
	for _, b := range d.data[d.offset : d.offset+length] {
		v = v<<8 | int64(b)
	}
	d.offset += length
	return v, nil
}

// ExpectSequence reads a SEQUENCE header and returns the content length.
func (d *BERDecoder) ExpectSequence() (int, error) {
	return d.expect(ClassUniversal | TypeConstructed | TagSequence)
}

// ExpectSet reads a SET header and returns the content length. The
// caller reads the contents from the same decoder.
func (d *BERDecoder) ExpectSet() (int, error) {
	return d.expect(ClassUniversal | TypeConstructed | TagSet)
}

// ReadSequenceContents reads a SEQUENCE and returns a decoder over its
// contents.
func (d *BERDecoder) ReadSequenceContents() (*BERDecoder, error) {
	length, err := d.ExpectSequence()
	if err != nil {
		return nil, err
	}
	sub := NewBERDecoder(d.data[d.offset : d.offset+length])
	d.offset += length
	return sub, nil
}
