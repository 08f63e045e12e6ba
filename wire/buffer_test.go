package wire

import "testing"

func TestBufferReadWriteRoundTrip(t *testing.T) {
	b := NewBufferSize(32)
	if err := b.WriteUint8(0xAB); err != nil {
		t.Fatalf("WriteUint8: %v", err)
	}
	if err := b.WriteUint16(0x1234); err != nil {
		t.Fatalf("WriteUint16: %v", err)
	}
	if err := b.WriteUint32(0xDEADBEEF); err != nil {
		t.Fatalf("WriteUint32: %v", err)
	}
	if err := b.WriteBytes([]byte("hello")); err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}

	rb := NewBuffer(b.Bytes())
	u8, err := rb.ReadUint8()
	if err != nil || u8 != 0xAB {
		t.Fatalf("ReadUint8() = %x, %v, want 0xAB", u8, err)
	}
	u16, err := rb.ReadUint16()
	if err != nil || u16 != 0x1234 {
		t.Fatalf("ReadUint16() = %x, %v, want 0x1234", u16, err)
	}
	u32, err := rb.ReadUint32()
	if err != nil || u32 != 0xDEADBEEF {
		t.Fatalf("ReadUint32() = %x, %v, want 0xDEADBEEF", u32, err)
	}
	raw, err := rb.ReadBytes(5)
	if err != nil || string(raw) != "hello" {
		t.Fatalf("ReadBytes() = %q, %v, want hello", raw, err)
	}
}

func TestBufferOverflow(t *testing.T) {
	b := NewBufferSize(1)
	if err := b.WriteUint16(1); err != ErrOverflow {
		t.Errorf("WriteUint16 past capacity = %v, want ErrOverflow", err)
	}
}

func TestBufferTruncated(t *testing.T) {
	b := NewBuffer([]byte{0x01})
	if _, err := b.ReadUint16(); err != ErrTruncated {
		t.Errorf("ReadUint16 past limit = %v, want ErrTruncated", err)
	}
}

func TestBufferPatchUint16(t *testing.T) {
	b := NewBufferSize(4)
	_ = b.WriteUint16(0)
	_ = b.WriteUint16(0)
	if err := b.PatchUint16(0, 0x9999); err != nil {
		t.Fatalf("PatchUint16: %v", err)
	}
	rb := NewBuffer(b.Bytes())
	v, _ := rb.ReadUint16()
	if v != 0x9999 {
		t.Errorf("patched value = %x, want 0x9999", v)
	}
}

func TestBufferSeekAndSkip(t *testing.T) {
	b := NewBuffer([]byte{1, 2, 3, 4, 5})
	if err := b.Skip(2); err != nil {
		t.Fatalf("Skip: %v", err)
	}
	v, _ := b.ReadUint8()
	if v != 3 {
		t.Errorf("after Skip(2), ReadUint8() = %d, want 3", v)
	}
	if err := b.Seek(0); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	v, _ = b.ReadUint8()
	if v != 1 {
		t.Errorf("after Seek(0), ReadUint8() = %d, want 1", v)
	}
	if err := b.Seek(100); err != ErrOverflow {
		t.Errorf("Seek out of range = %v, want ErrOverflow", err)
	}
}

func TestBufferTruncate(t *testing.T) {
	b := NewBufferSize(8)
	_ = b.WriteUint32(1)
	mark := b.Position()
	_ = b.WriteUint32(2)
	b.Truncate(mark)
	if b.Position() != mark || b.Limit() != mark {
		t.Errorf("Truncate() left position=%d limit=%d, want %d", b.Position(), b.Limit(), mark)
	}
}
