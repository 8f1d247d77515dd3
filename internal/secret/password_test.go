package secret

import "testing"

func TestSetStringAndLen(t *testing.T) {
	p := New()
	if !p.IsEmpty() {
		t.Fatal("new password should be empty")
	}
	if err := p.SetString("hunter2"); err != nil {
		t.Fatalf("SetString: %v", err)
	}
	if p.Len() != len("hunter2") {
		t.Errorf("Len = %d, want %d", p.Len(), len("hunter2"))
	}
}

func TestSetStringTooLong(t *testing.T) {
	p := New()
	big := make([]byte, MaxLength+1)
	for i := range big {
		big[i] = 'a'
	}
	if err := p.SetString(string(big)); err == nil {
		t.Fatal("expected error for oversized password")
	}
}

func TestClearZeroesBuffer(t *testing.T) {
	p := New()
	_ = p.SetString("secretvalue")
	p.Clear()
	if !p.IsEmpty() {
		t.Fatal("password not empty after Clear")
	}
	for i, b := range p.buf {
		if b != 0 {
			t.Fatalf("buffer not zeroed at index %d", i)
		}
	}
}

func TestAppendAndDeleteLast(t *testing.T) {
	p := New()
	for _, c := range []byte("abc") {
		if err := p.AppendByte(c); err != nil {
			t.Fatalf("AppendByte: %v", err)
		}
	}
	if p.Len() != 3 {
		t.Fatalf("Len = %d, want 3", p.Len())
	}
	p.DeleteLast()
	if p.Len() != 2 {
		t.Fatalf("Len = %d, want 2", p.Len())
	}
	dep := p.Deploy()
	defer dep.Release()
	if dep.String() != "ab" {
		t.Fatalf("plaintext = %q, want %q", dep.String(), "ab")
	}
}

func TestEqualConstantTime(t *testing.T) {
	a, _ := NewFromString("correct-horse")
	b, _ := NewFromString("correct-horse")
	c, _ := NewFromString("wrong-horse")

	if !a.Equal(b) {
		t.Error("identical passwords should be equal")
	}
	if a.Equal(c) {
		t.Error("different passwords should not be equal")
	}

	d, _ := NewFromString("short")
	if a.Equal(d) {
		t.Error("different-length passwords should not be equal")
	}
}

func TestDeployReleaseScoping(t *testing.T) {
	p, _ := NewFromString("scoped-secret")
	dep := p.Deploy()
	if dep.String() != "scoped-secret" {
		t.Fatalf("deployed plaintext mismatch: %q", dep.String())
	}
	dep.Release()

	// Revealed copy must be zeroed; the source Password is untouched.
	for i, b := range dep.plaintext {
		if b != 0 {
			t.Fatalf("deployment plaintext not zeroed at %d", i)
		}
	}
	if p.Len() != len("scoped-secret") {
		t.Fatal("releasing a deployment must not affect the source password")
	}
}

func TestDeployAfterReleasePanics(t *testing.T) {
	p, _ := NewFromString("x")
	dep := p.Deploy()
	dep.Release()

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic using a released deployment")
		}
	}()
	_ = dep.Bytes()
}

func TestRandomFillProducesRequestedLength(t *testing.T) {
	p := New()
	if err := p.RandomFill(24); err != nil {
		t.Fatalf("RandomFill: %v", err)
	}
	if p.Len() != 24 {
		t.Fatalf("Len = %d, want 24", p.Len())
	}
}

func TestQualityScoreOrdering(t *testing.T) {
	weak, _ := NewFromString("aaaa")
	strong, _ := NewFromString("Tr0ub4dor&3xtraLong!")

	if weak.QualityScore() >= strong.QualityScore() {
		t.Errorf("expected weak (%d) < strong (%d)", weak.QualityScore(), strong.QualityScore())
	}
}

func TestSetBytesTooLong(t *testing.T) {
	p := New()
	big := make([]byte, MaxLength+10)
	if err := p.SetBytes(big); err == nil {
		t.Fatal("expected error for oversized byte slice")
	}
}
