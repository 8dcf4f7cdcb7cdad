package ldap

import (
	"github.com/KilimcininKorOglu/obarepl/internal/ber"
)

// ModifyOperation represents the type of modification operation
type ModifyOperation int

const (
	// ModifyOperationAdd adds values to an attribute
	ModifyOperationAdd ModifyOperation = 0
	// ModifyOperationDelete deletes values from an attribute
	ModifyOperationDelete ModifyOperation = 1
	// ModifyOperationReplace replaces all values of an attribute
	ModifyOperationReplace ModifyOperation = 2
	// ModifyOperationIncrement increments an integer attribute (RFC 4525)
	ModifyOperationIncrement ModifyOperation = 3
)

// String returns the string representation of the modify operation
func (m ModifyOperation) String() string {
	switch m {
	case ModifyOperationAdd:
		return "Add"
	case ModifyOperationDelete:
		return "Delete"
	case ModifyOperationReplace:
		return "Replace"
	case ModifyOperationIncrement:
		return "Increment"
	default:
		return "Unknown"
	}
}

// Valid reports whether m is a known operation.
func (m ModifyOperation) Valid() bool {
	return m >= ModifyOperationAdd && m <= ModifyOperationIncrement
}

// Modification represents a single change applied to an entry
// Change ::= SEQUENCE {
//
//	operation       ENUMERATED { add(0), delete(1), replace(2), increment(3) },
//	modification    PartialAttribute
//
// }
type Modification struct {
	// Operation is the type of modification
	Operation ModifyOperation
	// Attribute contains the attribute type and values for the modification
	Attribute Attribute
}

// NewModification builds a modification with string values.
func NewModification(op ModifyOperation, attrType string, values ...string) Modification {
	return Modification{Operation: op, Attribute: NewAttribute(attrType, values...)}
}

// EncodeModifications encodes the changes as consecutive Change sequences.
// This is the form replicated Modify and ModifyDN operations carry.
func EncodeModifications(mods []Modification) ([]byte, error) {
	encoder := ber.NewBEREncoder(256)
	for _, mod := range mods {
		if err := encodeModification(encoder, mod); err != nil {
			return nil, err
		}
	}
	return encoder.Bytes(), nil
}

// ParseModifications decodes the output of EncodeModifications.
func ParseModifications(data []byte) ([]Modification, error) {
	decoder := ber.NewBERDecoder(data)
	var mods []Modification

	for decoder.Remaining() > 0 {
		mod, err := parseModification(decoder)
		if err != nil {
			return nil, err
		}
		mods = append(mods, mod)
	}

	return mods, nil
}

// parseModification parses a single modification from the decoder
func parseModification(decoder *ber.BERDecoder) (Modification, error) {
	mod := Modification{}

	changeDecoder, err := decoder.ReadSequenceContents()
	if err != nil {
		return mod, NewParseError(decoder.Offset(), "failed to read change sequence", err)
	}

	operation, err := changeDecoder.ReadEnumerated()
	if err != nil {
		return mod, NewParseError(decoder.Offset(), "failed to read operation", err)
	}

	mod.Operation = ModifyOperation(operation)
	if !mod.Operation.Valid() {
		return mod, NewParseError(decoder.Offset(), "unknown operation", ErrInvalidModifyOperation)
	}

	attr, err := parseAttribute(changeDecoder)
	if err != nil {
		return mod, err
	}
	mod.Attribute = attr

	return mod, nil
}

// encodeModification encodes a single modification
func encodeModification(encoder *ber.BEREncoder, mod Modification) error {
	if !mod.Operation.Valid() {
		return ErrInvalidModifyOperation
	}

	changePos := encoder.BeginSequence()

	if err := encoder.WriteEnumerated(int64(mod.Operation)); err != nil {
		return err
	}

	if err := encodeAttribute(encoder, mod.Attribute); err != nil {
		return err
	}

	return encoder.EndSequence(changePos)
}
