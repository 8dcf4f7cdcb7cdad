// Package protocol implements the replication message codec.
//
// Every message starts with a one byte tag (MsgType). The rest of the
// layout depends on the protocol version negotiated between the two peers,
// V1 to V8. Layouts are grouped into three wire families, WireV1,
// WireV2V3 and WireV4Plus, and each message kind keeps one encode/decode
// pair per family in a layoutTable. A kind without a layout at a version
// encodes to nil and is dropped by the session instead of being sent.
//
// Update messages (Add, Delete, Modify, ModifyDN) carry their own header:
//
//	legacy tag: tag csn assured dn NUL uuid NUL
//	modern tag: tag version csn dn NUL uuid NUL assured mode level
//
// so they are always decoded with the version found in the message. A
// legacy tag always yields V1. Control messages without a version byte
// are decoded with the version of the session.
//
// CSNs use the 28 character hexadecimal form up to V6 and the 14 byte
// binary form from V7.
//
// Decoding is all or nothing: GenerateMsg either returns a complete
// message or an error matching ErrMalformedMessage.
//
//	msg, err := protocol.GenerateMsg(frame, protocol.V8)
//	if err != nil {
//	    // drop the frame
//	}
//	switch m := msg.(type) {
//	case *protocol.ModifyMsg:
//	    mods, err := m.Modifications()
//	    ...
//	}
package protocol
