package votehash

import (
	"bytes"
	"errors"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/scrutin-io/scrutin-node/types"
	"github.com/scrutin-io/scrutin-node/util"
)

func testSessionID(b byte) types.SessionID {
	var id types.SessionID
	for i := range id {
		id[i] = b
	}
	return id
}

func TestSaltRandomness(t *testing.T) {
	c := qt.New(t)

	s1, err := Salt()
	c.Assert(err, qt.IsNil)
	c.Assert(s1, qt.HasLen, DigestLen)

	s2, err := Salt()
	c.Assert(err, qt.IsNil)
	c.Assert(bytes.Equal(s1, s2), qt.IsFalse)
}

func TestNullifierDeterminism(t *testing.T) {
	c := qt.New(t)

	voter := []byte("voter-1")
	session := testSessionID(0x01)
	secret := util.RandomBytes(DigestLen)

	n1, err := Nullifier(voter, session, secret)
	c.Assert(err, qt.IsNil)
	n2, err := Nullifier(voter, session, secret)
	c.Assert(err, qt.IsNil)
	c.Assert(n1.Equal(n2), qt.IsTrue)

	// A different secret detaches the nullifier entirely.
	otherSecret := util.RandomBytes(DigestLen)
	n3, err := Nullifier(voter, session, otherSecret)
	c.Assert(err, qt.IsNil)
	c.Assert(n1.Equal(n3), qt.IsFalse)

	// Same voter, different session.
	n4, err := Nullifier(voter, testSessionID(0x02), secret)
	c.Assert(err, qt.IsNil)
	c.Assert(n1.Equal(n4), qt.IsFalse)
}

func TestNullifierInvalidInput(t *testing.T) {
	c := qt.New(t)

	_, err := Nullifier(nil, testSessionID(0x01), util.RandomBytes(DigestLen))
	c.Assert(errors.Is(err, types.ErrInvalidInput), qt.IsTrue)

	_, err = Nullifier([]byte("voter"), testSessionID(0x01), []byte("short"))
	c.Assert(errors.Is(err, types.ErrInvalidInput), qt.IsTrue)
}

func TestCommitmentBinding(t *testing.T) {
	c := qt.New(t)

	salt := util.RandomBytes(DigestLen)
	nullifier := util.RandomBytes(DigestLen)

	base, err := Commitment("YES", salt, nullifier)
	c.Assert(err, qt.IsNil)
	c.Assert(base, qt.HasLen, DigestLen)

	// Deterministic for identical inputs.
	again, err := Commitment("YES", salt, nullifier)
	c.Assert(err, qt.IsNil)
	c.Assert(base.Equal(again), qt.IsTrue)

	// Changing any single input changes the commitment.
	other, err := Commitment("NO", salt, nullifier)
	c.Assert(err, qt.IsNil)
	c.Assert(base.Equal(other), qt.IsFalse)

	saltFlip := append([]byte(nil), salt...)
	saltFlip[0] ^= 0x01
	other, err = Commitment("YES", saltFlip, nullifier)
	c.Assert(err, qt.IsNil)
	c.Assert(base.Equal(other), qt.IsFalse)

	nullFlip := append([]byte(nil), nullifier...)
	nullFlip[DigestLen-1] ^= 0x80
	other, err = Commitment("YES", salt, nullFlip)
	c.Assert(err, qt.IsNil)
	c.Assert(base.Equal(other), qt.IsFalse)
}

func TestChoiceTag(t *testing.T) {
	c := qt.New(t)

	tag, err := ChoiceTag("YES")
	c.Assert(err, qt.IsNil)
	c.Assert(tag, qt.HasLen, ChoiceTagLen)

	_, err = ChoiceTag("")
	c.Assert(errors.Is(err, types.ErrInvalidInput), qt.IsTrue)

	_, err = ChoiceTag(string(bytes.Repeat([]byte{'a'}, ChoiceTagLen+1)))
	c.Assert(errors.Is(err, types.ErrInvalidInput), qt.IsTrue)
}

func TestCheckCommitmentFormat(t *testing.T) {
	c := qt.New(t)

	c.Assert(CheckCommitmentFormat(util.RandomBytes(DigestLen)), qt.IsNil)

	err := CheckCommitmentFormat(util.RandomBytes(DigestLen - 1))
	c.Assert(errors.Is(err, types.ErrInvalidInput), qt.IsTrue)
}
