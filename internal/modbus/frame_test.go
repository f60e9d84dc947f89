package modbus

import "testing"

func TestMakeReadHoldingVector(t *testing.T) {
	got := MakeReadHolding(0x11, 0x0000, 0x000A)
	want := "11030000000AC5CD"
	if got != want {
		t.Fatalf("MakeReadHolding() = %s, want %s", got, want)
	}
}

func TestMakeWriteSingleShape(t *testing.T) {
	got := MakeWriteSingle(0x11, 0x0008, 0x0032)
	if len(got) != 16 {
		t.Fatalf("expected 16 hex chars, got %d (%s)", len(got), got)
	}
	b := hexToBytes(got)
	crc := crc16(b[:6])
	given := uint16(b[6]) | uint16(b[7])<<8
	if crc != given {
		t.Fatalf("trailing CRC mismatch: calc=%04X given=%04X", crc, given)
	}
}

func TestParseReadResponseEcho(t *testing.T) {
	hex := "110314012C009600D200C80064006400640000005A03E8"
	b := hexToBytes(hex)
	c := crc16(b)
	full := hex + bytesToHex([]byte{byte(c), byte(c >> 8)})

	resp, err := ParseReadResponse(full)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if resp.Slave != 0x11 || resp.Function != 0x03 {
		t.Fatalf("unexpected header: %+v", resp)
	}
	if len(resp.Regs) != 10 {
		t.Fatalf("expected 10 registers, got %d", len(resp.Regs))
	}

	// Flipping the last byte must flip the CRC check.
	flipped := full[:len(full)-1] + flipHexNibble(full[len(full)-1])
	if _, err := ParseReadResponse(flipped); err != ErrCRCMismatch {
		t.Fatalf("expected crc_mismatch after flip, got %v", err)
	}
}

func flipHexNibble(c byte) string {
	v := hexVal(c)
	return string(hexDigits[(v+1)%16])
}

func TestParseExceptionResponse(t *testing.T) {
	hex := "11830200"
	b := hexToBytes(hex)
	c := crc16(b)
	full := hex + bytesToHex([]byte{byte(c), byte(c >> 8)})

	resp, err := ParseExceptionResponse(full)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if resp.Slave != 0x11 || resp.FunctionWithMSB != 0x83 || resp.Code != 0x02 {
		t.Fatalf("unexpected exception: %+v", resp)
	}
	if ExceptionName(resp.Code) != "Illegal Data Address" {
		t.Fatalf("unexpected exception name: %s", ExceptionName(resp.Code))
	}
}

func TestExceptionNameUnknown(t *testing.T) {
	if ExceptionName(0x7F) == "" {
		t.Fatalf("expected non-empty generic name")
	}
}

func TestParseReadResponseTooShort(t *testing.T) {
	if _, err := ParseReadResponse("1103"); err != ErrTooShort {
		t.Fatalf("expected too_short, got %v", err)
	}
}
