package memmap

import (
	"testing"
	"unsafe"
)

func TestNewAnonymous(t *testing.T) {
	t.Run("zero initialized", func(t *testing.T) {
		r, err := NewAnonymous("test", 4096)
		if err != nil {
			t.Fatalf("NewAnonymous failed: %v", err)
		}
		defer r.Release()

		if r.Size() != 4096 {
			t.Errorf("expected size 4096, got %d", r.Size())
		}
		for i, b := range r.Bytes() {
			if b != 0 {
				t.Fatalf("expected zeroed memory, byte %d is %#x", i, b)
			}
		}
	})

	t.Run("word aligned", func(t *testing.T) {
		r, err := NewAnonymous("test", 128)
		if err != nil {
			t.Fatalf("NewAnonymous failed: %v", err)
		}
		defer r.Release()

		addr := uintptr(unsafe.Pointer(&r.Bytes()[0]))
		if addr%unsafe.Sizeof(uintptr(0)) != 0 {
			t.Errorf("region start %#x is not word aligned", addr)
		}
	})

	t.Run("rejects non-positive size", func(t *testing.T) {
		if _, err := NewAnonymous("test", 0); err == nil {
			t.Error("expected error for size 0")
		}
		if _, err := NewAnonymous("test", -1); err == nil {
			t.Error("expected error for negative size")
		}
	})
}

func TestRegion_DontNeed(t *testing.T) {
	t.Run("full range", func(t *testing.T) {
		r, err := NewAnonymous("test", 64*1024)
		if err != nil {
			t.Fatalf("NewAnonymous failed: %v", err)
		}
		defer r.Release()

		data := r.Bytes()
		for i := range data {
			data[i] = 0xff
		}
		// Contents after the advice are unspecified (kernel may discard),
		// so only check the call succeeds and the mapping stays usable.
		if err := r.DontNeed(0, r.Size()); err != nil {
			t.Fatalf("DontNeed failed: %v", err)
		}
		_ = r.Bytes()[0]
		_ = r.Bytes()[r.Size()-1]
	})

	t.Run("sub-page range is a no-op", func(t *testing.T) {
		r, err := NewAnonymous("test", 4096)
		if err != nil {
			t.Fatalf("NewAnonymous failed: %v", err)
		}
		defer r.Release()

		r.Bytes()[100] = 0xab
		if err := r.DontNeed(64, 128); err != nil {
			t.Fatalf("DontNeed failed: %v", err)
		}
		// No whole page inside [64, 192), so nothing may be discarded.
		if r.Bytes()[100] != 0xab {
			t.Error("sub-page advice discarded data")
		}
	})

	t.Run("rejects out of range", func(t *testing.T) {
		r, err := NewAnonymous("test", 4096)
		if err != nil {
			t.Fatalf("NewAnonymous failed: %v", err)
		}
		defer r.Release()

		if err := r.DontNeed(0, 8192); err == nil {
			t.Error("expected error for advise range past the mapping")
		}
		if err := r.DontNeed(-1, 16); err == nil {
			t.Error("expected error for negative offset")
		}
	})
}

func TestRegion_Release(t *testing.T) {
	r, err := NewAnonymous("test", 4096)
	if err != nil {
		t.Fatalf("NewAnonymous failed: %v", err)
	}

	if r.Released() {
		t.Error("fresh region reports released")
	}
	if err := r.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if !r.Released() {
		t.Error("region does not report released")
	}

	// Second release is a no-op.
	if err := r.Release(); err != nil {
		t.Fatalf("second Release failed: %v", err)
	}

	defer func() {
		if recover() == nil {
			t.Error("expected panic on Bytes after Release")
		}
	}()
	_ = r.Bytes()
}
