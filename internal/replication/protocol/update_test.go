package protocol

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KilimcininKorOglu/obarepl/internal/ldap"
	"github.com/KilimcininKorOglu/obarepl/internal/replication/csn"
)

var allVersions = []ProtocolVersion{V1, V2, V3, V4, V5, V6, V7, V8}

func testMods() []ldap.Modification {
	return []ldap.Modification{
		ldap.NewModification(ldap.ModifyOperationReplace, "description", "new value"),
		ldap.NewModification(ldap.ModifyOperationAdd, "mail", "a@example.com", "b@example.com"),
	}
}

func testEcl() UpdateOption {
	return WithEclIncludes([]ldap.Attribute{ldap.NewAttribute("uid", "jdoe")})
}

// checkHeader verifies the fields every update carries at version v.
func checkHeader(t *testing.T, want, got UpdateMsg, v ProtocolVersion) {
	t.Helper()
	assert.Equal(t, v, got.Version())
	assert.Equal(t, want.CSN(), got.CSN())
	assert.Equal(t, want.DN(), got.DN())
	assert.Equal(t, want.EntryUUID(), got.EntryUUID())
	assert.Equal(t, want.IsAssured(), got.IsAssured())
	if v == V1 {
		assert.Equal(t, DefaultAssuredMode, got.AssuredMode())
		assert.Equal(t, byte(DefaultSafeDataLevel), got.SafeDataLevel())
	} else {
		assert.Equal(t, want.AssuredMode(), got.AssuredMode())
		assert.Equal(t, want.SafeDataLevel(), got.SafeDataLevel())
	}
}

func checkEcl(t *testing.T, want, got UpdateMsg, v ProtocolVersion) {
	t.Helper()
	gotEcl, err := got.EclIncludes()
	require.NoError(t, err)
	if v < V4 {
		assert.Empty(t, gotEcl)
		return
	}
	wantEcl, err := want.EclIncludes()
	require.NoError(t, err)
	assert.Equal(t, wantEcl, gotEcl)
}

func TestModifyRoundTrip(t *testing.T) {
	c := csn.New(0x18b2f3c4d5e, 7, 12)
	orig, err := NewModifyMsg(c, "uid=jdoe,ou=people,dc=example,dc=com", uuid.NewString(), testMods(),
		WithAssured(AssuredSafeRead, 3), testEcl())
	require.NoError(t, err)

	for _, v := range allVersions {
		t.Run(v.String(), func(t *testing.T) {
			data := orig.Bytes(v)
			require.NotNil(t, data)

			msg, err := GenerateMsg(data, v)
			require.NoError(t, err)
			got, ok := msg.(*ModifyMsg)
			require.True(t, ok, "got %T", msg)

			checkHeader(t, orig, got, v)
			checkEcl(t, orig, got, v)
			assert.Equal(t, orig.EncodedMods(), got.EncodedMods())

			mods, err := got.Modifications()
			require.NoError(t, err)
			assert.Equal(t, testMods(), mods)
		})
	}
}

func TestAddRoundTrip(t *testing.T) {
	attrs := []ldap.Attribute{
		ldap.NewAttribute("objectClass", "top", "person"),
		ldap.NewAttribute("cn", "John Doe"),
		ldap.NewAttribute("sn", "Doe"),
	}
	orig, err := NewAddMsg(csn.New(1000, 1, 2), "cn=John Doe,dc=example,dc=com", uuid.NewString(),
		uuid.NewString(), attrs, testEcl())
	require.NoError(t, err)

	for _, v := range allVersions {
		t.Run(v.String(), func(t *testing.T) {
			msg, err := GenerateMsg(orig.Bytes(v), v)
			require.NoError(t, err)
			got, ok := msg.(*AddMsg)
			require.True(t, ok, "got %T", msg)

			checkHeader(t, orig, got, v)
			checkEcl(t, orig, got, v)
			assert.Equal(t, orig.ParentEntryUUID(), got.ParentEntryUUID())

			decoded, err := got.Attributes()
			require.NoError(t, err)
			assert.Equal(t, attrs, decoded)
		})
	}
}

func TestDeleteRoundTrip(t *testing.T) {
	orig, err := NewSubtreeDeleteMsg(csn.New(42, 3, 9), "ou=people,dc=example,dc=com", uuid.NewString(),
		WithAssured(AssuredSafeData, 2), testEcl())
	require.NoError(t, err)
	require.True(t, orig.IsSubtreeDelete())

	for _, v := range allVersions {
		t.Run(v.String(), func(t *testing.T) {
			msg, err := GenerateMsg(orig.Bytes(v), v)
			require.NoError(t, err)
			got, ok := msg.(*DeleteMsg)
			require.True(t, ok, "got %T", msg)

			checkHeader(t, orig, got, v)
			checkEcl(t, orig, got, v)
			assert.Equal(t, v >= V4, got.IsSubtreeDelete())
		})
	}
}

func TestModifyDNRoundTrip(t *testing.T) {
	rename := Rename{
		NewRDN:          "uid=jsmith",
		NewSuperior:     "ou=admins,dc=example,dc=com",
		NewSuperiorUUID: uuid.NewString(),
		DeleteOldRDN:    true,
	}
	mods := []ldap.Modification{ldap.NewModification(ldap.ModifyOperationReplace, "uid", "jsmith")}
	orig, err := NewModifyDNMsg(csn.New(77, 0, 4), "uid=jdoe,ou=people,dc=example,dc=com", uuid.NewString(),
		rename, mods, testEcl())
	require.NoError(t, err)

	for _, v := range allVersions {
		t.Run(v.String(), func(t *testing.T) {
			msg, err := GenerateMsg(orig.Bytes(v), v)
			require.NoError(t, err)
			got, ok := msg.(*ModifyDNMsg)
			require.True(t, ok, "got %T", msg)

			checkHeader(t, orig, got, v)
			checkEcl(t, orig, got, v)
			assert.Equal(t, rename, got.Rename())

			gotMods, err := got.Modifications()
			require.NoError(t, err)
			if v == V1 {
				assert.Empty(t, gotMods)
			} else {
				assert.Equal(t, mods, gotMods)
			}
		})
	}
}

func TestLegacyTagDecodesAsV1(t *testing.T) {
	orig, err := NewModifyMsg(csn.New(5, 5, 5), "dc=example,dc=com", "uuid", testMods())
	require.NoError(t, err)

	data := orig.Bytes(V1)
	assert.Equal(t, byte(MsgTypeModifyV1), data[0])

	// The caller's idea of the version does not matter for a legacy tag.
	for _, v := range []ProtocolVersion{V1, V4, V8} {
		msg, err := GenerateMsg(data, v)
		require.NoError(t, err)
		assert.Equal(t, V1, msg.(UpdateMsg).Version())
	}
}

func TestModernTagUsesHeaderVersion(t *testing.T) {
	orig, err := NewDeleteMsg(csn.New(5, 5, 5), "dc=example,dc=com", "uuid")
	require.NoError(t, err)

	msg, err := GenerateMsg(orig.Bytes(V7), V2)
	require.NoError(t, err)
	assert.Equal(t, V7, msg.(UpdateMsg).Version())
}

func TestEmptyModifyV4(t *testing.T) {
	orig, err := NewModifyMsg(csn.New(1, 1, 1), "dc=example,dc=com", "uuid", nil)
	require.NoError(t, err)

	data := orig.Bytes(V4)
	// Zero length modifications then a zero length change-log section.
	assert.True(t, bytes.HasSuffix(data, []byte("0\x000\x00")), "got %q", data)

	msg, err := GenerateMsg(data, V4)
	require.NoError(t, err)
	got := msg.(*ModifyMsg)
	assert.Empty(t, got.EncodedMods())
	mods, err := got.Modifications()
	require.NoError(t, err)
	assert.Empty(t, mods)
}

func TestTruncatedUpdatesAreMalformed(t *testing.T) {
	mod, err := NewModifyMsg(csn.New(9, 9, 9), "dc=example,dc=com", "uuid", testMods(), testEcl())
	require.NoError(t, err)
	add, err := NewAddMsg(csn.New(9, 9, 9), "dc=example,dc=com", "uuid", "parent",
		[]ldap.Attribute{ldap.NewAttribute("cn", "x")})
	require.NoError(t, err)
	mdn, err := NewModifyDNMsg(csn.New(9, 9, 9), "cn=a,dc=example,dc=com", "uuid",
		Rename{NewRDN: "cn=b"}, testMods())
	require.NoError(t, err)

	for _, m := range []UpdateMsg{mod, add, mdn} {
		data := m.Bytes(V8)
		for n := 1; n < len(data); n++ {
			msg, err := GenerateMsg(data[:n], V8)
			require.Error(t, err, "%s truncated to %d bytes", m.Type(), n)
			assert.ErrorIs(t, err, ErrMalformedMessage)
			assert.Nil(t, msg)
		}
	}
}

func TestUpdateConstructorErrors(t *testing.T) {
	_, err := NewModifyMsg(csn.CSN{}, "dc=example,dc=com", "uuid", nil)
	assert.ErrorIs(t, err, ErrMissingCSN)

	_, err = NewDeleteMsg(csn.New(1, 1, 1), "", "uuid")
	assert.ErrorIs(t, err, ErrMissingDN)

	_, err = NewDeleteMsg(csn.New(1, 1, 1), "dc=x", "uuid", WithAssured(AssuredMode(7), 1))
	assert.ErrorIs(t, err, ErrInvalidAssuredMode)
}

func TestEncodingCacheFollowsVersion(t *testing.T) {
	m, err := NewModifyMsg(csn.New(3, 2, 1), "dc=example,dc=com", "uuid", testMods())
	require.NoError(t, err)

	v3 := m.Bytes(V3)
	assert.Same(t, &v3[0], &m.Bytes(V3)[0])

	v8 := m.Bytes(V8)
	assert.NotEqual(t, v3, v8)
	assert.Equal(t, byte(V8), v8[1])

	again := m.Bytes(V3)
	assert.Equal(t, v3, again)
	assert.Equal(t, byte(V3), again[1])
}

func TestUpdateSize(t *testing.T) {
	small, err := NewModifyMsg(csn.New(1, 1, 1), "dc=x", "uuid", nil)
	require.NoError(t, err)
	large, err := NewModifyMsg(csn.New(1, 1, 1), "dc=x", "uuid", testMods())
	require.NoError(t, err)

	assert.Equal(t, HeaderSizeEstimate, small.Size())
	assert.Greater(t, large.Size(), small.Size())
	assert.Equal(t, len(large.EncodedMods())+HeaderSizeEstimate, large.Size())
}
