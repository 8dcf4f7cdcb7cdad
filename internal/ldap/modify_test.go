package ldap

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"
)

// replaceDescription is the BER form of a single
// "replace description: new value" change.
const replaceDescription = "301f0a0102301a040b6465736372697074696f6e310b04096e65772076616c7565"

func TestEncodeModifications(t *testing.T) {
	mods := []Modification{
		NewModification(ModifyOperationReplace, "description", "new value"),
	}

	data, err := EncodeModifications(mods)
	if err != nil {
		t.Fatalf("EncodeModifications failed: %v", err)
	}

	expected, _ := hex.DecodeString(replaceDescription)
	if !bytes.Equal(data, expected) {
		t.Errorf("expected %x, got %x", expected, data)
	}
}

func TestParseModifications(t *testing.T) {
	data, _ := hex.DecodeString(replaceDescription)

	mods, err := ParseModifications(data)
	if err != nil {
		t.Fatalf("ParseModifications failed: %v", err)
	}
	if len(mods) != 1 {
		t.Fatalf("expected 1 modification, got %d", len(mods))
	}
	if mods[0].Operation != ModifyOperationReplace {
		t.Errorf("expected Replace, got %s", mods[0].Operation)
	}
	if mods[0].Attribute.Type != "description" {
		t.Errorf("expected description, got %q", mods[0].Attribute.Type)
	}
	values := mods[0].Attribute.StringValues()
	if len(values) != 1 || values[0] != "new value" {
		t.Errorf("unexpected values %v", values)
	}
}

func TestModificationsRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		mods []Modification
	}{
		{"empty", nil},
		{"single add", []Modification{NewModification(ModifyOperationAdd, "cn", "a", "b")}},
		{"delete all values", []Modification{NewModification(ModifyOperationDelete, "mail")}},
		{
			"mixed",
			[]Modification{
				NewModification(ModifyOperationReplace, "sn", "Smith"),
				NewModification(ModifyOperationIncrement, "uidNumber", "1"),
				NewModification(ModifyOperationAdd, "description", string(bytes.Repeat([]byte("x"), 300))),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := EncodeModifications(tt.mods)
			if err != nil {
				t.Fatalf("EncodeModifications failed: %v", err)
			}
			if len(tt.mods) == 0 && len(data) != 0 {
				t.Fatalf("expected empty encoding, got %x", data)
			}

			decoded, err := ParseModifications(data)
			if err != nil {
				t.Fatalf("ParseModifications failed: %v", err)
			}
			if len(decoded) != len(tt.mods) {
				t.Fatalf("expected %d modifications, got %d", len(tt.mods), len(decoded))
			}
			for i := range tt.mods {
				if decoded[i].Operation != tt.mods[i].Operation {
					t.Errorf("mod %d: operation %s, want %s", i, decoded[i].Operation, tt.mods[i].Operation)
				}
				if decoded[i].Attribute.Type != tt.mods[i].Attribute.Type {
					t.Errorf("mod %d: type %q, want %q", i, decoded[i].Attribute.Type, tt.mods[i].Attribute.Type)
				}
				if len(decoded[i].Attribute.Values) != len(tt.mods[i].Attribute.Values) {
					t.Errorf("mod %d: %d values, want %d", i, len(decoded[i].Attribute.Values), len(tt.mods[i].Attribute.Values))
				}
			}
		})
	}
}

func TestEncodeModificationsInvalidOperation(t *testing.T) {
	_, err := EncodeModifications([]Modification{{Operation: ModifyOperation(9), Attribute: NewAttribute("cn", "x")}})
	if !errors.Is(err, ErrInvalidModifyOperation) {
		t.Errorf("expected ErrInvalidModifyOperation, got %v", err)
	}
}

func TestParseModificationsErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"truncated", replaceDescription[:20]},
		{"unknown operation", "300a0a0107300504016131 00"},
		{"not a sequence", "0401ff"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := hex.DecodeString(stripSpaces(tt.data))
			if err != nil {
				t.Fatalf("bad test data: %v", err)
			}
			if _, err := ParseModifications(data); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestAttributesRoundTrip(t *testing.T) {
	attrs := []Attribute{
		NewAttribute("objectClass", "top", "person"),
		NewAttribute("cn", "John Doe"),
		{Type: "userCertificate;binary", Values: [][]byte{{0x00, 0xff, 0x10}}},
	}

	data, err := EncodeAttributes(attrs)
	if err != nil {
		t.Fatalf("EncodeAttributes failed: %v", err)
	}

	decoded, err := ParseAttributes(data)
	if err != nil {
		t.Fatalf("ParseAttributes failed: %v", err)
	}
	if len(decoded) != len(attrs) {
		t.Fatalf("expected %d attributes, got %d", len(attrs), len(decoded))
	}
	if !bytes.Equal(decoded[2].Values[0], attrs[2].Values[0]) {
		t.Errorf("binary value mismatch: %x", decoded[2].Values[0])
	}
	if got := decoded[0].StringValues(); len(got) != 2 || got[1] != "person" {
		t.Errorf("unexpected objectClass values %v", got)
	}
}

func TestEncodeAttributesEmptyType(t *testing.T) {
	if _, err := EncodeAttributes([]Attribute{{Type: ""}}); !errors.Is(err, ErrEmptyAttributeType) {
		t.Errorf("expected ErrEmptyAttributeType, got %v", err)
	}
}

func stripSpaces(s string) string {
	return string(bytes.ReplaceAll([]byte(s), []byte(" "), nil))
}
