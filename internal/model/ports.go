package model

// SafePorts is the whitelist of common TCP service ports consulted by
// the enricher and by several threat rules.
var SafePorts = map[uint16]bool{
	80: true, 443: true, 22: true, 53: true, 25: true, 587: true,
	993: true, 995: true, 21: true, 110: true, 143: true,
	8080: true, 8443: true, 9418: true,
}

// SuspiciousPorts are ports strongly associated with backdoors/reverse
// shells, regardless of SafePorts membership.
var SuspiciousPorts = map[uint16]bool{
	1337: true, 31337: true, 4444: true, 5555: true,
	6667: true, 12345: true, 54321: true,
}

// WellKnownDNSResolvers are public DNS resolver addresses (as dotted
// quads) exempted from the destination-rarity rule.
var WellKnownDNSResolvers = map[string]bool{
	"8.8.8.8":         true,
	"8.8.4.4":         true,
	"1.1.1.1":         true,
	"1.0.0.1":         true,
	"208.67.222.222":  true,
	"9.9.9.9":         true,
	"149.112.112.112": true,
}
