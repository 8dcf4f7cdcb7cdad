// Package ber implements the subset of ASN.1 BER (ITU-T X.690) that
// replicated LDAP changes are written in: octet strings, enumerations and
// definite length SEQUENCE and SET values.
//
// Encoding:
//
//	enc := ber.NewBEREncoder(64)
//	pos := enc.BeginSequence()
//	enc.WriteEnumerated(2)
//	enc.WriteOctetString([]byte("mail"))
//	enc.EndSequence(pos)
//	data := enc.Bytes()
//
// Decoding:
//
//	dec := ber.NewBERDecoder(data)
//	seq, err := dec.ReadSequenceContents()
//	op, err := seq.ReadEnumerated()
//	attr, err := seq.ReadOctetString()
package ber
