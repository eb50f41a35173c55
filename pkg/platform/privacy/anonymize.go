// Package privacy masks personal data before it reaches logs or audit trails.
package privacy

import (
	"math"
	"net/netip"
	"strconv"
)

// AnonymizeIP masks a client address to its network: /24 for IPv4 and /48 for
// IPv6. Returns "unknown" for an empty value and "invalid" when unparseable.
func AnonymizeIP(ip string) string {
	if ip == "" || ip == "unknown" {
		return "unknown"
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return "invalid"
	}
	addr = addr.Unmap()
	bits := 48
	if addr.Is4() {
		bits = 24
	}
	prefix, err := addr.WithZone("").Prefix(bits)
	if err != nil {
		return "invalid"
	}
	return prefix.Masked().Addr().String()
}

// CoarsenCoordinate rounds a latitude or longitude to 3 decimals (about 110 m),
// enough to debug a geofence decision without logging a precise position.
func CoarsenCoordinate(deg float64) string {
	return strconv.FormatFloat(math.Round(deg*1000)/1000, 'f', 3, 64)
}
