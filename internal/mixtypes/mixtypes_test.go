package mixtypes

import (
	"strings"
	"testing"
)

func TestParseDestinationAddress_RoundTrip(t *testing.T) {
	var want DestinationAddress
	for i := range want {
		want[i] = byte(i)
	}

	got, err := ParseDestinationAddress(hexString(want))
	if err != nil {
		t.Fatalf("ParseDestinationAddress: %v", err)
	}
	if got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func hexString(a DestinationAddress) string {
	const hextable = "0123456789abcdef"
	buf := make([]byte, len(a)*2)
	for i, b := range a {
		buf[i*2] = hextable[b>>4]
		buf[i*2+1] = hextable[b&0xf]
	}
	return string(buf)
}

func TestParseDestinationAddress_WrongLength(t *testing.T) {
	_, err := ParseDestinationAddress("abcd")
	if err == nil {
		t.Fatal("ParseDestinationAddress with a too-short string succeeded, want an error")
	}
}

func TestParseDestinationAddress_InvalidHex(t *testing.T) {
	_, err := ParseDestinationAddress(strings.Repeat("zz", AddressSize))
	if err == nil {
		t.Fatal("ParseDestinationAddress with invalid hex succeeded, want an error")
	}
}

func TestAuthToken_ZeroValue(t *testing.T) {
	var tok AuthToken
	if !tok.Zero() {
		t.Error("zero-value AuthToken.Zero() = false, want true")
	}
	if tok.LogValue().String() != "<none>" {
		t.Errorf("zero-value AuthToken.LogValue() = %q, want <none>", tok.LogValue().String())
	}
}

func TestAuthToken_LogValueNeverExposesRawBytes(t *testing.T) {
	tok := NewAuthToken([]byte("super-secret-credential"))
	if tok.Zero() {
		t.Fatal("NewAuthToken produced a zero token")
	}
	rendered := tok.LogValue().String()
	if strings.Contains(rendered, "super-secret-credential") {
		t.Fatal("AuthToken.LogValue leaked the raw credential")
	}
}

func TestNewBufferResponse_Capacity(t *testing.T) {
	resp := NewBufferResponse()
	// A capacity-1 buffer must accept one send without a waiting receiver.
	resp <- [][]byte{[]byte("x")}
	select {
	case got := <-resp:
		if len(got) != 1 {
			t.Errorf("got %d messages, want 1", len(got))
		}
	default:
		t.Fatal("BufferResponse did not hold its buffered send")
	}
}
