package downloader

import (
	"bytes"
	"fmt"

	"github.com/abema/go-mp4"
)

// parseFragments demuxes a fragmented ALAC stream into its samples and codec parameters.
func parseFragments(r *bytes.Reader) (*SongInfo, error) {
	trex, err := mp4.ExtractBoxWithPayload(r, nil, mp4.BoxPath{mp4.BoxTypeMoov(), mp4.BoxTypeMvex(), mp4.BoxTypeTrex()})
	if err != nil {
		return nil, fmt.Errorf("read trex: %w", err)
	}
	if len(trex) != 1 {
		return nil, fmt.Errorf("expected one trex box, found %d", len(trex))
	}
	trexPay := trex[0].Payload.(*mp4.Trex)

	stbl, err := mp4.ExtractBox(r, nil, mp4.BoxPath{
		mp4.BoxTypeMoov(), mp4.BoxTypeTrak(), mp4.BoxTypeMdia(), mp4.BoxTypeMinf(), mp4.BoxTypeStbl(),
	})
	if err != nil {
		return nil, fmt.Errorf("read stbl: %w", err)
	}
	if len(stbl) != 1 {
		return nil, fmt.Errorf("expected one stbl box, found %d", len(stbl))
	}

	enca, err := mp4.ExtractBoxWithPayload(r, stbl[0], mp4.BoxPath{mp4.BoxTypeStsd(), mp4.BoxTypeEnca()})
	if err != nil {
		return nil, fmt.Errorf("read sample entry: %w", err)
	}
	if len(enca) == 0 {
		return nil, fmt.Errorf("no encrypted audio sample entry")
	}

	alac, err := mp4.ExtractBoxWithPayload(r, &enca[0].Info, mp4.BoxPath{BoxTypeAlac()})
	if err != nil {
		return nil, fmt.Errorf("read alac config: %w", err)
	}
	if len(alac) != 1 {
		return nil, fmt.Errorf("expected one alac box, found %d", len(alac))
	}

	info := &SongInfo{r: r, alacParam: alac[0].Payload.(*Alac)}

	moofs, err := mp4.ExtractBox(r, nil, mp4.BoxPath{mp4.BoxTypeMoof()})
	if err != nil {
		return nil, fmt.Errorf("read moof: %w", err)
	}
	if len(moofs) == 0 {
		return nil, fmt.Errorf("stream has no fragments")
	}

	mdats, err := mp4.ExtractBoxWithPayload(r, nil, mp4.BoxPath{mp4.BoxTypeMdat()})
	if err != nil {
		return nil, fmt.Errorf("read mdat: %w", err)
	}
	if len(mdats) != len(moofs) {
		return nil, fmt.Errorf("found %d mdat boxes for %d fragments", len(mdats), len(moofs))
	}

	for i, moof := range moofs {
		samples, err := fragmentSamples(r, moof, mdats[i].Payload.(*mp4.Mdat).Data, trexPay)
		if err != nil {
			return nil, fmt.Errorf("fragment %d: %w", i, err)
		}
		info.samples = append(info.samples, samples...)
	}

	for _, s := range info.samples {
		info.totalDataSize += int64(len(s.data))
	}
	return info, nil
}

// fragmentSamples splits one mdat payload according to its moof's track runs.
// Sample sizes and durations fall back from trun to tfhd to trex defaults.
func fragmentSamples(r *bytes.Reader, moof *mp4.BoxInfo, mdat []byte, trex *mp4.Trex) ([]SampleInfo, error) {
	tfhd, err := mp4.ExtractBoxWithPayload(r, moof, mp4.BoxPath{mp4.BoxTypeTraf(), mp4.BoxTypeTfhd()})
	if err != nil {
		return nil, err
	}
	if len(tfhd) != 1 {
		return nil, fmt.Errorf("expected one tfhd box, found %d", len(tfhd))
	}
	tfhdPay := tfhd[0].Payload.(*mp4.Tfhd)
	descIndex := tfhdPay.SampleDescriptionIndex
	if descIndex != 0 {
		descIndex--
	}

	truns, err := mp4.ExtractBoxWithPayload(r, moof, mp4.BoxPath{mp4.BoxTypeTraf(), mp4.BoxTypeTrun()})
	if err != nil {
		return nil, err
	}
	if len(truns) == 0 {
		return nil, fmt.Errorf("no track runs")
	}

	var samples []SampleInfo
	for _, t := range truns {
		trun := t.Payload.(*mp4.Trun)
		for _, en := range trun.Entries {
			size := trex.DefaultSampleSize
			switch {
			case trun.CheckFlag(0x200):
				size = en.SampleSize
			case tfhdPay.CheckFlag(0x10):
				size = tfhdPay.DefaultSampleSize
			}
			if int(size) > len(mdat) {
				return nil, fmt.Errorf("sample of %d bytes overruns mdat (%d left)", size, len(mdat))
			}

			duration := trex.DefaultSampleDuration
			switch {
			case trun.CheckFlag(0x100):
				duration = en.SampleDuration
			case tfhdPay.CheckFlag(0x8):
				duration = tfhdPay.DefaultSampleDuration
			}

			samples = append(samples, SampleInfo{data: mdat[:size], duration: duration, descIndex: descIndex})
			mdat = mdat[size:]
		}
	}
	if len(mdat) != 0 {
		return nil, fmt.Errorf("offset mismatch: %d trailing mdat bytes", len(mdat))
	}
	return samples, nil
}
