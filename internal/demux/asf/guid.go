package asf

import "github.com/jmylchreest/media-extract/internal/asfguid"

// Local aliases keep the rest of this package's GUID comparisons
// unqualified, matching the plain identifier style the bit-packed
// parsing code below already uses.
var (
	guidHeaderObject               = asfguid.HeaderObject
	guidFileProperties             = asfguid.FileProperties
	guidStreamProperties           = asfguid.StreamProperties
	guidHeaderExtension            = asfguid.HeaderExtension
	guidCodecList                  = asfguid.CodecList
	guidContentDescription         = asfguid.ContentDescription
	guidExtendedContentDescription = asfguid.ExtendedContentDescription
	guidExtendedStreamProperties   = asfguid.ExtendedStreamProperties
	guidDataObject                 = asfguid.DataObject
	guidAudioMedia                 = asfguid.AudioMedia
	guidVideoMedia                 = asfguid.VideoMedia
)
