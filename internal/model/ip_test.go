package model

import "testing"

func TestDottedQuad(t *testing.T) {
	if got := DottedQuad(0xC0A80101); got != "192.168.1.1" {
		t.Fatalf("DottedQuad(0xC0A80101) = %q, want 192.168.1.1", got)
	}
}

func TestIsPrivateIP(t *testing.T) {
	cases := []struct {
		ip      uint32
		private bool
	}{
		{0x0A000001, true},  // 10.0.0.1
		{0xC0A80001, true},  // 192.168.0.1
		{0xAC100001, true},  // 172.16.0.1
		{0x7F000001, true},  // 127.0.0.1
		{0xCB007112, false}, // 203.0.113.18
	}

	for _, c := range cases {
		if got := IsPrivateIP(c.ip); got != c.private {
			t.Errorf("IsPrivateIP(%#x) = %v, want %v", c.ip, got, c.private)
		}
	}
}
