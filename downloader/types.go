package downloader

import (
	"io"

	"github.com/abema/go-mp4"
)

func init() {
	mp4.AddBoxDef((*Alac)(nil))
}

// SongInfo holds a demuxed fragmented track ready for decryption and remuxing
type SongInfo struct {
	r             io.ReadSeeker
	alacParam     *Alac
	samples       []SampleInfo
	totalDataSize int64
}

// Duration calculates the total duration of the song in media timescale units
func (s *SongInfo) Duration() (ret uint64) {
	for i := range s.samples {
		ret += uint64(s.samples[i].duration)
	}
	return
}

// Alac represents ALAC codec parameters
type Alac struct {
	mp4.FullBox `mp4:"extend"`

	FrameLength       uint32 `mp4:"size=32"`
	CompatibleVersion uint8  `mp4:"size=8"`
	BitDepth          uint8  `mp4:"size=8"`
	Pb                uint8  `mp4:"size=8"`
	Mb                uint8  `mp4:"size=8"`
	Kb                uint8  `mp4:"size=8"`
	NumChannels       uint8  `mp4:"size=8"`
	MaxRun            uint16 `mp4:"size=16"`
	MaxFrameBytes     uint32 `mp4:"size=32"`
	AvgBitRate        uint32 `mp4:"size=32"`
	SampleRate        uint32 `mp4:"size=32"`
}

// GetType returns the box type for ALAC
func (*Alac) GetType() mp4.BoxType {
	return BoxTypeAlac()
}

// BoxTypeAlac returns the ALAC box type
func BoxTypeAlac() mp4.BoxType {
	return mp4.StrToBoxType("alac")
}

// SampleInfo contains information about individual samples
type SampleInfo struct {
	data      []byte
	duration  uint32
	descIndex uint32
}
