package downloader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/abema/go-mp4"
	"github.com/stretchr/testify/require"

	"go-alac-dl/applemusic"
)

const (
	testTimescale      = 44100
	testSampleDuration = 4096
)

// fixtureSong is the catalog song the fixtures describe
func fixtureSong() *applemusic.Song {
	song := &applemusic.Song{ID: "1624945512", Type: "songs"}
	song.Attributes.Name = "Never Gonna Give You Up"
	song.Attributes.ArtistName = "Rick Astley"
	song.Attributes.AlbumName = "Whenever You Need Somebody"
	song.Attributes.ReleaseDate = "1987-07-27"
	song.Attributes.TrackNumber = 1
	song.Attributes.DiscNumber = 1
	song.Attributes.GenreNames = []string{"Pop"}
	song.Attributes.DurationInMillis = 213573
	song.Relationships.Albums.Data = []applemusic.AlbumRef{{
		ID:         "1624945511",
		Type:       "albums",
		Attributes: &applemusic.AlbumAttributes{TrackCount: 10, RecordLabel: "Sony Music"},
	}}
	song.Relationships.Artists.Data = []applemusic.ResourceIdent{{ID: "669771", Type: "artists"}}
	return song
}

type fixtureFragment struct {
	samples [][]byte
	// use a tfhd default size instead of per-sample sizes; all samples must match
	defaultSize bool
}

type boxWriter struct {
	t *testing.T
	w *mp4.Writer
}

func (b *boxWriter) box(bt mp4.BoxType, payload mp4.IImmutableBox, children func()) *mp4.BoxInfo {
	b.t.Helper()
	_, err := b.w.StartBox(&mp4.BoxInfo{Type: bt})
	require.NoError(b.t, err)
	if payload != nil {
		_, err = mp4.Marshal(b.w, payload, mp4.Context{})
		require.NoError(b.t, err)
	}
	if children != nil {
		children()
	}
	info, err := b.w.EndBox()
	require.NoError(b.t, err)
	return info
}

// buildFragmentedALAC writes a minimal fragmented MP4 shaped like the
// encrypted ALAC streams: moov with an enca/alac sample entry and trex
// defaults, then one moof/mdat pair per fragment.
func buildFragmentedALAC(t *testing.T, fragments []fixtureFragment) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fragmented.mp4")
	f, err := os.Create(path)
	require.NoError(t, err)

	b := &boxWriter{t: t, w: mp4.NewWriter(f)}

	b.box(mp4.BoxTypeMoov(), nil, func() {
		b.box(mp4.BoxTypeMvhd(), &mp4.Mvhd{Timescale: testTimescale, Rate: 0x10000, Volume: 0x100, NextTrackID: 2}, nil)
		b.box(mp4.BoxTypeTrak(), nil, func() {
			tkhd := &mp4.Tkhd{TrackID: 1}
			b.box(mp4.BoxTypeTkhd(), tkhd, nil)
			b.box(mp4.BoxTypeMdia(), nil, func() {
				b.box(mp4.BoxTypeMdhd(), &mp4.Mdhd{Timescale: testTimescale}, nil)
				b.box(mp4.BoxTypeHdlr(), &mp4.Hdlr{HandlerType: [4]byte{'s', 'o', 'u', 'n'}, Name: "SoundHandler"}, nil)
				b.box(mp4.BoxTypeMinf(), nil, func() {
					b.box(mp4.BoxTypeSmhd(), &mp4.Smhd{}, nil)
					b.box(mp4.BoxTypeDinf(), nil, func() {
						b.box(mp4.BoxTypeDref(), &mp4.Dref{EntryCount: 0}, nil)
					})
					b.box(mp4.BoxTypeStbl(), nil, func() {
						b.box(mp4.BoxTypeStsd(), &mp4.Stsd{EntryCount: 1}, func() {
							enca := &mp4.AudioSampleEntry{
								SampleEntry: mp4.SampleEntry{
									AnyTypeBox:         mp4.AnyTypeBox{Type: mp4.BoxTypeEnca()},
									DataReferenceIndex: 1,
								},
								ChannelCount: 2,
								SampleSize:   16,
								SampleRate:   testTimescale << 16,
							}
							b.box(mp4.BoxTypeEnca(), enca, func() {
								b.box(BoxTypeAlac(), &Alac{
									FrameLength:   testSampleDuration,
									BitDepth:      16,
									Pb:            40,
									Mb:            10,
									Kb:            14,
									NumChannels:   2,
									MaxRun:        255,
									MaxFrameBytes: 0,
									AvgBitRate:    1411200,
									SampleRate:    testTimescale,
								}, nil)
							})
						})
					})
				})
			})
		})
		b.box(mp4.BoxTypeMvex(), nil, func() {
			b.box(mp4.BoxTypeTrex(), &mp4.Trex{
				TrackID:                       1,
				DefaultSampleDescriptionIndex: 1,
				DefaultSampleDuration:         testSampleDuration,
			}, nil)
		})
	})

	for i, frag := range fragments {
		var data []byte
		for _, s := range frag.samples {
			data = append(data, s...)
		}

		b.box(mp4.BoxTypeMoof(), nil, func() {
			b.box(mp4.BoxTypeMfhd(), &mp4.Mfhd{SequenceNumber: uint32(i + 1)}, nil)
			b.box(mp4.BoxTypeTraf(), nil, func() {
				tfhd := &mp4.Tfhd{TrackID: 1, SampleDescriptionIndex: 1}
				flags := uint32(0x000002)
				if frag.defaultSize {
					flags |= 0x000010
					tfhd.DefaultSampleSize = uint32(len(frag.samples[0]))
				}
				tfhd.SetFlags(flags)
				b.box(mp4.BoxTypeTfhd(), tfhd, nil)

				trun := &mp4.Trun{SampleCount: uint32(len(frag.samples))}
				if frag.defaultSize {
					trun.SetFlags(0x000100)
				} else {
					trun.SetFlags(0x000300)
				}
				for _, s := range frag.samples {
					trun.Entries = append(trun.Entries, mp4.TrunEntry{
						SampleDuration: testSampleDuration,
						SampleSize:     uint32(len(s)),
					})
				}
				b.box(mp4.BoxTypeTrun(), trun, nil)
			})
		})
		b.box(mp4.BoxTypeMdat(), &mp4.Mdat{Data: data}, nil)
	}

	require.NoError(t, f.Close())
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	return raw
}

// fixtureSamples returns n distinct samples of the given size
func fixtureSamples(n, size int, seed byte) [][]byte {
	samples := make([][]byte, n)
	for i := range samples {
		s := make([]byte, size)
		for j := range s {
			s[j] = seed + byte(i*7+j)
		}
		samples[i] = s
	}
	return samples
}
