// Package ldap implements the directory entry change model carried inside
// replication update messages.
//
// Update messages treat the operation payload as an opaque byte blob. This
// package produces and interprets those blobs:
//
//   - EncodeModifications / ParseModifications handle the list of changes of
//     a Modify or ModifyDN operation, each encoded as
//     Change ::= SEQUENCE { operation ENUMERATED, modification PartialAttribute }
//   - EncodeAttributes / ParseAttributes handle the attribute list of an Add
//     operation and the change-log include attributes of every update.
//
// Elements are written back to back with no enclosing SEQUENCE OF, so an
// empty list encodes to zero bytes:
//
//	mods := []ldap.Modification{
//	    ldap.NewModification(ldap.ModifyOperationReplace, "description", "new value"),
//	}
//	data, err := ldap.EncodeModifications(mods)
//	if err != nil {
//	    // handle error
//	}
//	decoded, err := ldap.ParseModifications(data)
//
// The BER primitives come from the ber package.
package ldap
