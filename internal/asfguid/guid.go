// Package asfguid converts RFC4122 GUID strings into the mixed-endian
// wire format Microsoft's Advanced Systems Format uses for every object
// and stream-type identifier (the first three fields byte-swapped, the
// last two left as-is). Shared by internal/demux/asf (reading) and
// internal/mux/asfmux (writing) so both sides of the format agree on
// one set of constants.
package asfguid

import "github.com/google/uuid"

// Wire converts a canonical GUID string to its 16-byte ASF wire
// encoding.
func Wire(s string) [16]byte {
	u := uuid.MustParse(s)
	var w [16]byte
	w[0], w[1], w[2], w[3] = u[3], u[2], u[1], u[0]
	w[4], w[5] = u[5], u[4]
	w[6], w[7] = u[7], u[6]
	copy(w[8:], u[8:16])
	return w
}

// Well-known ASF object, stream-type, and error-correction GUIDs
// (Microsoft's published Advanced Systems Format specification).
var (
	HeaderObject               = Wire("75B22630-668E-11CF-A6D9-00AA0062CE6C")
	FileProperties             = Wire("8CABDCA1-A947-11CF-8EE4-00C00C205365")
	StreamProperties           = Wire("B7DC0791-A9B7-11CF-8EE6-00C00C205365")
	HeaderExtension            = Wire("5FBF03B5-A92E-11CF-8EE3-00C00C205365")
	CodecList                  = Wire("86D15240-311D-11D0-A3A4-00A0C90348F6")
	ContentDescription         = Wire("75B22633-668E-11CF-A6D9-00AA0062CE6C")
	ExtendedContentDescription = Wire("D2D0A440-E307-11D2-97F0-00A0C95EA850")
	ExtendedStreamProperties   = Wire("14E6A5CB-C672-4332-8399-A96952065B5A")
	DataObject                 = Wire("75B22636-668E-11CF-A6D9-00AA0062CE6C")
	AudioMedia                 = Wire("F8699E40-5B4D-11CF-A8FD-00805F5C442B")
	VideoMedia                 = Wire("BC19EFC0-5B4D-11CF-A8FD-00805F5C442B")
	AudioSpread                = Wire("BFC3CD50-618F-11CF-8BB2-00AA00B4E220")
	// HeaderExtensionReserved1 is the fixed GUID every Header Extension
	// Object carries in its Reserved1 field (always this value, never a
	// meaningful identifier).
	HeaderExtensionReserved1 = Wire("ABD3D211-A9BA-11CF-8EE6-00C00C205365")
)
