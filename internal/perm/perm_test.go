package perm

import "testing"

func TestLevelChain(t *testing.T) {
	if !Own.AtLeast(Write) {
		t.Errorf("own should imply write")
	}
	if !Write.AtLeast(Read) {
		t.Errorf("write should imply read")
	}
	if Read.AtLeast(Write) {
		t.Errorf("read should not imply write")
	}
	if Deny.AtLeast(Read) {
		t.Errorf("deny should not imply read")
	}
}

func TestParseRoundTrip(t *testing.T) {
	for _, l := range []Level{Deny, Read, Write, Maintain, Own} {
		if got := Parse(l.String()); got != l {
			t.Errorf("Parse(%q) = %v, want %v", l.String(), got, l)
		}
	}
	if got := Parse("sudo"); got != Deny {
		t.Errorf("unknown level should normalize to deny, got %v", got)
	}
}

func TestAllows(t *testing.T) {
	p := Permissions{Owner: "alice", Anyone: Read}

	if !p.Allows("alice", Own) {
		t.Errorf("owner should hold own")
	}
	if !p.Allows("bob", Read) {
		t.Errorf("anyone=read should grant read to bob")
	}
	if p.Allows("bob", Write) {
		t.Errorf("anyone=read should not grant write to bob")
	}

	anon := Permissions{Anyone: Write}
	if !anon.Allows("anyone-at-all", Write) {
		t.Errorf("ownerless doc with anyone=write should grant write")
	}
	if anon.Allows("anyone-at-all", Maintain) {
		t.Errorf("anyone=write should not grant maintain")
	}
}
