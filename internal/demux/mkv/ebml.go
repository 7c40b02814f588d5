package mkv

// EBML/Matroska element IDs this demuxer understands (spec §4.4). IDs
// retain their marker bit, matching how they're written on the wire.
const (
	idEBMLHeader = 0x1A45DFA3

	idSegment = 0x18538067

	idSegmentInfo    = 0x1549A966
	idTimestampScale = 0x2AD7B1
	idDuration       = 0x4489

	idTracks           = 0x1654AE6B
	idTrackEntry       = 0xAE
	idTrackNumber      = 0xD7
	idTrackType        = 0x83
	idCodecID          = 0x86
	idCodecPrivate     = 0x63A2
	idAudio            = 0xE1
	idSamplingFreq     = 0xB5
	idChannels         = 0x9F
	idBitDepth         = 0x6264
	idVideo            = 0xE0
	idPixelWidth       = 0xB0
	idPixelHeight      = 0xBA
	idContentEncodings = 0x6D80
	idContentEncoding  = 0x6240
	idContentCompress  = 0x5034
	idContentCompAlgo  = 0x4254

	idCues        = 0x1C53BB6B
	idChapters    = 0x1043A770
	idTags        = 0x1254C367
	idAttachments = 0x1941A469

	idCluster     = 0x1F43B675
	idTimestamp   = 0xE7
	idSimpleBlock = 0xA3
	idBlockGroup  = 0xA0
	idBlock       = 0xA1
	idBlockDur    = 0x9B
)

const (
	trackTypeVideo = 1
	trackTypeAudio = 2
)

// lacing modes packed into a SimpleBlock/Block's flags byte (bits 1-2).
const (
	lacingNone  = 0x00
	lacingXiph  = 0x02
	lacingFixed = 0x04
	lacingEBML  = 0x06
)
