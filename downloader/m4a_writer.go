package downloader

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/abema/go-mp4"

	"go-alac-dl/applemusic"
)

// samples per stco chunk
const chunkSize uint32 = 5

// m4aWriter remuxes decrypted ALAC samples into a progressive M4A file.
type m4aWriter struct {
	w    *mp4.Writer
	info *SongInfo
}

// WriteM4A writes ftyp, moov with iTunes metadata and a single mdat holding data.
func WriteM4A(w *mp4.Writer, info *SongInfo, meta *applemusic.Song, data []byte) error {
	if len(info.samples) == 0 {
		return errors.New("no samples to write")
	}
	m := &m4aWriter{w: w, info: info}

	err := m.payloadBox(mp4.BoxTypeFtyp(), mp4.Context{}, &mp4.Ftyp{
		MajorBrand: [4]byte{'M', '4', 'A', ' '},
		CompatibleBrands: []mp4.CompatibleBrandElem{
			{CompatibleBrand: [4]byte{'M', '4', 'A', ' '}},
			{CompatibleBrand: [4]byte{'m', 'p', '4', '2'}},
			{CompatibleBrand: mp4.BrandISOM()},
			{CompatibleBrand: [4]byte{0, 0, 0, 0}},
		},
	})
	if err != nil {
		return fmt.Errorf("ftyp: %w", err)
	}

	stco, err := m.writeMoov(meta)
	if err != nil {
		return fmt.Errorf("moov: %w", err)
	}

	if err := m.writeMdat(stco, data); err != nil {
		return fmt.Errorf("mdat: %w", err)
	}
	return nil
}

func (m *m4aWriter) box(bt mp4.BoxType, ctx mp4.Context, body func() error) (*mp4.BoxInfo, error) {
	if _, err := m.w.StartBox(&mp4.BoxInfo{Type: bt, Context: ctx}); err != nil {
		return nil, err
	}
	if body != nil {
		if err := body(); err != nil {
			return nil, err
		}
	}
	return m.w.EndBox()
}

func (m *m4aWriter) payloadBox(bt mp4.BoxType, ctx mp4.Context, payload mp4.IImmutableBox) error {
	_, err := m.box(bt, ctx, func() error {
		_, err := mp4.Marshal(m.w, payload, ctx)
		return err
	})
	return err
}

func (m *m4aWriter) extractOne(parent *mp4.BoxInfo, bt mp4.BoxType) (*mp4.BoxInfo, error) {
	boxes, err := mp4.ExtractBox(m.info.r, parent, mp4.BoxPath{bt})
	if err != nil {
		return nil, err
	}
	if len(boxes) != 1 {
		return nil, fmt.Errorf("expected one %s box, found %d", bt, len(boxes))
	}
	return boxes[0], nil
}

func (m *m4aWriter) copyBoxes(parent *mp4.BoxInfo, types ...mp4.BoxType) error {
	paths := make([]mp4.BoxPath, len(types))
	for i, bt := range types {
		paths[i] = mp4.BoxPath{bt}
	}
	boxes, err := mp4.ExtractBoxes(m.info.r, parent, paths)
	if err != nil {
		return err
	}
	for _, b := range boxes {
		if err := m.w.CopyBox(m.info.r, b); err != nil {
			return err
		}
	}
	return nil
}

// copyWithDuration rewrites a header box from the source with the remuxed duration.
func (m *m4aWriter) copyWithDuration(parent *mp4.BoxInfo, bt mp4.BoxType) error {
	boxes, err := mp4.ExtractBoxWithPayload(m.info.r, parent, mp4.BoxPath{bt})
	if err != nil {
		return err
	}
	if len(boxes) != 1 {
		return fmt.Errorf("expected one %s box, found %d", bt, len(boxes))
	}

	duration := m.info.Duration()
	switch b := boxes[0].Payload.(type) {
	case *mp4.Mvhd:
		b.DurationV0, b.DurationV1 = uint32(duration), duration
	case *mp4.Tkhd:
		b.DurationV0, b.DurationV1 = uint32(duration), duration
		b.SetFlags(0x7)
	case *mp4.Mdhd:
		b.DurationV0, b.DurationV1 = uint32(duration), duration
	default:
		return fmt.Errorf("unexpected %s payload", bt)
	}
	return m.payloadBox(bt, boxes[0].Info.Context, boxes[0].Payload)
}

func (m *m4aWriter) writeMoov(meta *applemusic.Song) (*mp4.BoxInfo, error) {
	moov, err := m.extractOne(nil, mp4.BoxTypeMoov())
	if err != nil {
		return nil, err
	}

	var stco *mp4.BoxInfo
	_, err = m.box(mp4.BoxTypeMoov(), mp4.Context{}, func() error {
		if err := m.copyWithDuration(moov, mp4.BoxTypeMvhd()); err != nil {
			return err
		}
		trak, err := m.extractOne(moov, mp4.BoxTypeTrak())
		if err != nil {
			return err
		}
		_, err = m.box(mp4.BoxTypeTrak(), mp4.Context{}, func() error {
			if err := m.copyWithDuration(trak, mp4.BoxTypeTkhd()); err != nil {
				return err
			}
			mdia, err := m.extractOne(trak, mp4.BoxTypeMdia())
			if err != nil {
				return err
			}
			_, err = m.box(mp4.BoxTypeMdia(), mp4.Context{}, func() error {
				if err := m.copyWithDuration(mdia, mp4.BoxTypeMdhd()); err != nil {
					return err
				}
				if err := m.copyBoxes(mdia, mp4.BoxTypeHdlr()); err != nil {
					return err
				}
				minf, err := m.extractOne(mdia, mp4.BoxTypeMinf())
				if err != nil {
					return err
				}
				_, err = m.box(mp4.BoxTypeMinf(), mp4.Context{}, func() error {
					if err := m.copyBoxes(minf, mp4.BoxTypeSmhd(), mp4.BoxTypeDinf()); err != nil {
						return err
					}
					var err error
					stco, err = m.writeStbl()
					return err
				})
				return err
			})
			return err
		})
		if err != nil {
			return err
		}
		return m.writeUdta(meta)
	})
	return stco, err
}

// writeStbl writes the sample tables and returns the placeholder stco box,
// whose offsets are patched once the mdat position is known.
func (m *m4aWriter) writeStbl() (*mp4.BoxInfo, error) {
	var stco *mp4.BoxInfo
	_, err := m.box(mp4.BoxTypeStbl(), mp4.Context{}, func() error {
		if err := m.writeStsd(); err != nil {
			return err
		}
		if err := m.payloadBox(mp4.BoxTypeStts(), mp4.Context{}, m.stts()); err != nil {
			return err
		}
		if err := m.payloadBox(mp4.BoxTypeStsc(), mp4.Context{}, m.stsc()); err != nil {
			return err
		}
		if err := m.payloadBox(mp4.BoxTypeStsz(), mp4.Context{}, m.stsz()); err != nil {
			return err
		}

		chunks := m.chunkCount()
		var err error
		stco, err = m.box(mp4.BoxTypeStco(), mp4.Context{}, func() error {
			_, err := mp4.Marshal(m.w, &mp4.Stco{EntryCount: chunks, ChunkOffset: make([]uint32, chunks)}, mp4.Context{})
			return err
		})
		return err
	})
	return stco, err
}

func (m *m4aWriter) writeStsd() error {
	p := m.info.alacParam
	_, err := m.box(mp4.BoxTypeStsd(), mp4.Context{}, func() error {
		if _, err := mp4.Marshal(m.w, &mp4.Stsd{EntryCount: 1}, mp4.Context{}); err != nil {
			return err
		}
		_, err := m.box(BoxTypeAlac(), mp4.Context{}, func() error {
			// AudioSampleEntry fields preceding the codec config box
			var entry bytes.Buffer
			entry.Write([]byte{0, 0, 0, 0, 0, 0, 0, 1})
			entry.Write(make([]byte, 8))
			_ = binary.Write(&entry, binary.BigEndian, uint16(p.NumChannels))
			_ = binary.Write(&entry, binary.BigEndian, uint16(p.BitDepth))
			entry.Write([]byte{0, 0})
			_ = binary.Write(&entry, binary.BigEndian, p.SampleRate)
			entry.Write([]byte{0, 0})
			if _, err := m.w.Write(entry.Bytes()); err != nil {
				return err
			}
			return m.payloadBox(BoxTypeAlac(), mp4.Context{}, p)
		})
		return err
	})
	return err
}

func (m *m4aWriter) stts() *mp4.Stts {
	var stts mp4.Stts
	for _, s := range m.info.samples {
		if n := len(stts.Entries); n > 0 && stts.Entries[n-1].SampleDelta == s.duration {
			stts.Entries[n-1].SampleCount++
			continue
		}
		stts.Entries = append(stts.Entries, mp4.SttsEntry{SampleCount: 1, SampleDelta: s.duration})
	}
	stts.EntryCount = uint32(len(stts.Entries))
	return &stts
}

func (m *m4aWriter) stsc() *mp4.Stsc {
	n := uint32(len(m.info.samples))
	var stsc mp4.Stsc
	if full := n / chunkSize; full > 0 {
		stsc.Entries = append(stsc.Entries, mp4.StscEntry{FirstChunk: 1, SamplesPerChunk: chunkSize, SampleDescriptionIndex: 1})
	}
	if rem := n % chunkSize; rem != 0 {
		stsc.Entries = append(stsc.Entries, mp4.StscEntry{FirstChunk: n/chunkSize + 1, SamplesPerChunk: rem, SampleDescriptionIndex: 1})
	}
	stsc.EntryCount = uint32(len(stsc.Entries))
	return &stsc
}

func (m *m4aWriter) stsz() *mp4.Stsz {
	sizes := make([]uint32, len(m.info.samples))
	for i, s := range m.info.samples {
		sizes[i] = uint32(len(s.data))
	}
	return &mp4.Stsz{SampleCount: uint32(len(sizes)), EntrySize: sizes}
}

func (m *m4aWriter) chunkCount() uint32 {
	return (uint32(len(m.info.samples)) + chunkSize - 1) / chunkSize
}

func (m *m4aWriter) writeMdat(stco *mp4.BoxInfo, data []byte) error {
	mdat, err := m.box(mp4.BoxTypeMdat(), mp4.Context{}, func() error {
		_, err := mp4.Marshal(m.w, &mp4.Mdat{Data: data}, mp4.Context{})
		return err
	})
	if err != nil {
		return err
	}

	var offsets mp4.Stco
	offset := mdat.Offset + mdat.HeaderSize
	for i, s := range m.info.samples {
		if uint32(i)%chunkSize == 0 {
			offsets.ChunkOffset = append(offsets.ChunkOffset, uint32(offset))
		}
		offset += uint64(len(s.data))
	}
	offsets.EntryCount = uint32(len(offsets.ChunkOffset))

	if _, err := stco.SeekToPayload(m.w); err != nil {
		return err
	}
	_, err = mp4.Marshal(m.w, &offsets, stco.Context)
	return err
}

// ilstEntry is one iTunes metadata item. Freeform entries are written as
// '----' boxes under the com.apple.iTunes namespace.
type ilstEntry struct {
	tag      mp4.BoxType
	freeform string
	value    any
}

func atom(code string) mp4.BoxType {
	return mp4.StrToBoxType(code)
}

func ilstEntries(meta *applemusic.Song) ([]ilstEntry, error) {
	attrs := meta.Attributes
	cnID, err := strconv.ParseUint(meta.ID, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("catalog id %q: %w", meta.ID, err)
	}

	var albumID string
	var album *applemusic.AlbumAttributes
	if albums := meta.Relationships.Albums.Data; len(albums) > 0 {
		albumID = albums[0].ID
		album = albums[0].Attributes
	}

	entries := []ilstEntry{
		{tag: atom("\251nam"), value: attrs.Name},
		{tag: atom("sonm"), value: attrs.Name},
		{tag: atom("\251alb"), value: attrs.AlbumName},
		{tag: atom("soal"), value: attrs.AlbumName},
		{tag: atom("\251ART"), value: attrs.ArtistName},
		{tag: atom("soar"), value: attrs.ArtistName},
		{tag: atom("\251prf"), value: attrs.ArtistName},
		{freeform: "PERFORMER", value: attrs.ArtistName},
		{freeform: "ITUNESALBUMID", value: albumID},
		{tag: atom("\251wrt"), value: attrs.ComposerName},
		{tag: atom("soco"), value: attrs.ComposerName},
		{tag: atom("\251day"), value: attrs.ReleaseDate},
		{freeform: "RELEASETIME", value: attrs.ReleaseDate},
		{tag: atom("cnID"), value: uint32(cnID)},
		{freeform: "ISRC", value: attrs.ISRC},
	}
	if len(attrs.GenreNames) > 0 {
		entries = append(entries, ilstEntry{tag: atom("\251gen"), value: attrs.GenreNames[0]})
	}

	var trackCount int
	if album != nil {
		var cpil uint8
		if album.IsCompilation {
			cpil = 1
		}
		entries = append(entries,
			ilstEntry{tag: atom("aART"), value: attrs.ArtistName},
			ilstEntry{tag: atom("soaa"), value: attrs.ArtistName},
			ilstEntry{tag: atom("cprt"), value: album.Copyright},
			ilstEntry{tag: atom("cpil"), value: cpil},
			ilstEntry{tag: atom("\251pub"), value: album.RecordLabel},
			ilstEntry{freeform: "LABEL", value: album.RecordLabel},
			ilstEntry{freeform: "UPC", value: album.UPC},
		)
		trackCount = album.TrackCount
	}

	if artists := meta.Relationships.Artists.Data; len(artists) > 0 && artists[0].ID != "" {
		atID, err := strconv.ParseUint(artists[0].ID, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("artist id %q: %w", artists[0].ID, err)
		}
		entries = append(entries, ilstEntry{tag: atom("atID"), value: uint32(atID)})
	}

	trkn := make([]byte, 8)
	binary.BigEndian.PutUint32(trkn, uint32(attrs.TrackNumber))
	binary.BigEndian.PutUint16(trkn[4:], uint16(trackCount))
	disk := make([]byte, 8)
	binary.BigEndian.PutUint32(disk, uint32(attrs.DiscNumber))

	return append(entries,
		ilstEntry{tag: atom("trkn"), value: trkn},
		ilstEntry{tag: atom("disk"), value: disk},
	), nil
}

func dataBox(value any) (*mp4.Data, error) {
	var d mp4.Data
	switch v := value.(type) {
	case string:
		d.DataType = mp4.DataTypeStringUTF8
		d.Data = []byte(v)
	case uint8:
		d.DataType = mp4.DataTypeSignedIntBigEndian
		d.Data = []byte{v}
	case uint32:
		d.DataType = mp4.DataTypeSignedIntBigEndian
		d.Data = binary.BigEndian.AppendUint32(nil, v)
	case []byte:
		d.DataType = mp4.DataTypeBinary
		d.Data = v
	default:
		return nil, fmt.Errorf("unsupported metadata value %T", value)
	}
	return &d, nil
}

func (m *m4aWriter) writeUdta(meta *applemusic.Song) error {
	entries, err := ilstEntries(meta)
	if err != nil {
		return err
	}

	ctx := mp4.Context{UnderUdta: true}
	_, err = m.box(mp4.BoxTypeUdta(), ctx, func() error {
		ctx.UnderIlstMeta = true
		_, err := m.box(mp4.BoxTypeMeta(), ctx, func() error {
			if _, err := mp4.Marshal(m.w, &mp4.Meta{}, ctx); err != nil {
				return err
			}
			err := m.payloadBox(mp4.BoxTypeHdlr(), ctx, &mp4.Hdlr{
				HandlerType: [4]byte{'m', 'd', 'i', 'r'},
				Reserved:    [3]uint32{0x6170706c, 0, 0},
			})
			if err != nil {
				return err
			}

			ctx.UnderIlst = true
			_, err = m.box(mp4.BoxTypeIlst(), ctx, func() error {
				for _, e := range entries {
					if err := m.writeIlstEntry(ctx, e); err != nil {
						return fmt.Errorf("metadata %s%s: %w", e.tag, e.freeform, err)
					}
				}
				return nil
			})
			return err
		})
		return err
	})
	return err
}

func (m *m4aWriter) writeIlstEntry(ctx mp4.Context, e ilstEntry) error {
	data, err := dataBox(e.value)
	if err != nil {
		return err
	}

	if e.freeform == "" {
		_, err := m.box(e.tag, mp4.Context{}, func() error {
			return m.payloadBox(mp4.BoxTypeData(), ctx, data)
		})
		return err
	}

	ctx.UnderIlstFreeMeta = true
	_, err = m.box(mp4.BoxType{'-', '-', '-', '-'}, ctx, func() error {
		if err := m.stringBox(mp4.BoxType{'m', 'e', 'a', 'n'}, ctx, "com.apple.iTunes"); err != nil {
			return err
		}
		if err := m.stringBox(mp4.BoxType{'n', 'a', 'm', 'e'}, ctx, e.freeform); err != nil {
			return err
		}
		return m.payloadBox(mp4.BoxTypeData(), ctx, data)
	})
	return err
}

// stringBox writes a full box whose payload is a bare string.
func (m *m4aWriter) stringBox(bt mp4.BoxType, ctx mp4.Context, s string) error {
	_, err := m.box(bt, ctx, func() error {
		if _, err := m.w.Write([]byte{0, 0, 0, 0}); err != nil {
			return err
		}
		_, err := io.WriteString(m.w, s)
		return err
	})
	return err
}
