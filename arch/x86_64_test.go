package arch_test

import (
	"golang.org/x/sys/unix"
	"testing"

	"tracewright/arch"
)

func TestParseRegisterCaseInsensitive(t *testing.T) {
	for _, name := range []string{"rax", "RAX", "Rax", "rAx"} {
		reg, ok := arch.ParseRegister(name)
		if !ok {
			t.Fatalf("ParseRegister(%q) = _, false, want true", name)
		}
		if reg != arch.RAX {
			t.Fatalf("ParseRegister(%q) = %v, want RAX", name, reg)
		}
	}
}

func TestParseRegisterUnknown(t *testing.T) {
	if _, ok := arch.ParseRegister("notareg"); ok {
		t.Fatal("ParseRegister(\"notareg\") = _, true, want false")
	}
}

func TestGetSetRoundTrip(t *testing.T) {
	var regs unix.PtraceRegs
	arch.RAX.Set(&regs, 0xdeadbeef)
	if got := arch.RAX.Get(&regs); got != 0xdeadbeef {
		t.Fatalf("RAX = %#x, want 0xdeadbeef", got)
	}
	if regs.Rax != 0xdeadbeef {
		t.Fatalf("regs.Rax = %#x, want the same value as through the Register accessor", regs.Rax)
	}
}

func TestPCRegisterIsRIP(t *testing.T) {
	var regs unix.PtraceRegs
	regs.Rip = 0x400100
	if got := arch.PCRegister.Get(&regs); got != 0x400100 {
		t.Fatalf("PCRegister.Get = %#x, want 0x400100", got)
	}
}

func TestDwarfNumberUnmappedRegisters(t *testing.T) {
	for _, r := range []arch.Register{arch.OrigRax, arch.RIP, arch.RFLAGS, arch.FSBase, arch.GSBase} {
		if _, ok := arch.DwarfNumber(r); ok {
			t.Errorf("DwarfNumber(%v) should be unmapped", r)
		}
	}
	if n, ok := arch.DwarfNumber(arch.RAX); !ok || n != 0 {
		t.Errorf("DwarfNumber(RAX) = %d, %v, want 0, true", n, ok)
	}
}

func TestRegisterStringUppercase(t *testing.T) {
	if got := arch.RAX.String(); got != "RAX" {
		t.Errorf("RAX.String() = %q, want %q", got, "RAX")
	}
}
