package ldap

import (
	"github.com/KilimcininKorOglu/obarepl/internal/ber"
)

// Attribute represents an LDAP attribute with its values
type Attribute struct {
	// Type is the attribute type name
	Type string
	// Values contains the attribute values
	Values [][]byte
}

// NewAttribute builds an attribute from string values.
func NewAttribute(attrType string, values ...string) Attribute {
	byteValues := make([][]byte, len(values))
	for i, v := range values {
		byteValues[i] = []byte(v)
	}
	return Attribute{Type: attrType, Values: byteValues}
}

// StringValues returns the attribute values as strings.
func (a Attribute) StringValues() []string {
	result := make([]string, len(a.Values))
	for i, v := range a.Values {
		result[i] = string(v)
	}
	return result
}

// EncodeAttributes encodes a list of attributes as consecutive
// PartialAttribute sequences, with no enclosing SEQUENCE OF.
// An empty list encodes to an empty byte slice.
//
// PartialAttribute ::= SEQUENCE {
//
//	type       AttributeDescription,
//	vals       SET OF value AttributeValue
//
// }
func EncodeAttributes(attrs []Attribute) ([]byte, error) {
	encoder := ber.NewBEREncoder(128)
	for _, attr := range attrs {
		if err := encodeAttribute(encoder, attr); err != nil {
			return nil, err
		}
	}
	return encoder.Bytes(), nil
}

// ParseAttributes decodes the output of EncodeAttributes.
func ParseAttributes(data []byte) ([]Attribute, error) {
	decoder := ber.NewBERDecoder(data)
	var attrs []Attribute

	for decoder.Remaining() > 0 {
		attr, err := parseAttribute(decoder)
		if err != nil {
			return nil, err
		}
		attrs = append(attrs, attr)
	}

	return attrs, nil
}

// parseAttribute parses a single attribute from the decoder
func parseAttribute(decoder *ber.BERDecoder) (Attribute, error) {
	attr := Attribute{}

	attrDecoder, err := decoder.ReadSequenceContents()
	if err != nil {
		return attr, NewParseError(decoder.Offset(), "failed to read attribute sequence", err)
	}

	typeBytes, err := attrDecoder.ReadOctetString()
	if err != nil {
		return attr, NewParseError(decoder.Offset(), "failed to read attribute type", err)
	}
	if len(typeBytes) == 0 {
		return attr, NewParseError(decoder.Offset(), "attribute without type", ErrEmptyAttributeType)
	}
	attr.Type = string(typeBytes)

	valSetLen, err := attrDecoder.ExpectSet()
	if err != nil {
		return attr, NewParseError(decoder.Offset(), "failed to read attribute values set", err)
	}

	valSetEnd := attrDecoder.Offset() + valSetLen
	var values [][]byte

	for attrDecoder.Offset() < valSetEnd && attrDecoder.Remaining() > 0 {
		valueBytes, err := attrDecoder.ReadOctetString()
		if err != nil {
			return attr, NewParseError(decoder.Offset(), "failed to read attribute value", err)
		}
		values = append(values, valueBytes)
	}

	if attrDecoder.Remaining() > 0 {
		return attr, NewParseError(decoder.Offset(), "unexpected data in attribute", ErrTrailingData)
	}

	attr.Values = values
	return attr, nil
}

// encodeAttribute encodes a single attribute
func encodeAttribute(encoder *ber.BEREncoder, attr Attribute) error {
	if attr.Type == "" {
		return ErrEmptyAttributeType
	}

	attrPos := encoder.BeginSequence()

	if err := encoder.WriteOctetString([]byte(attr.Type)); err != nil {
		return err
	}

	valSetPos := encoder.BeginSet()
	for _, value := range attr.Values {
		if err := encoder.WriteOctetString(value); err != nil {
			return err
		}
	}
	if err := encoder.EndSet(valSetPos); err != nil {
		return err
	}

	return encoder.EndSequence(attrPos)
}
