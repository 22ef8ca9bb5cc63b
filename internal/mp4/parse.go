package mp4

import (
	"bytes"
	"errors"
	"fmt"

	gomp4 "github.com/abema/go-mp4"

	"github.com/shiguredo/media-processors/pkg/model"
)

var (
	boxFtyp = gomp4.BoxTypeFtyp()
	boxMoov = gomp4.BoxTypeMoov()
	boxTrak = gomp4.BoxTypeTrak()
	boxTkhd = gomp4.BoxTypeTkhd()
	boxMdia = gomp4.BoxTypeMdia()
	boxMdhd = gomp4.BoxTypeMdhd()
	boxMinf = gomp4.BoxTypeMinf()
	boxStbl = gomp4.BoxTypeStbl()
	boxStsd = gomp4.BoxTypeStsd()
	boxStts = gomp4.BoxTypeStts()
	boxStsc = gomp4.BoxTypeStsc()
	boxStsz = gomp4.BoxTypeStsz()
	boxStco = gomp4.BoxTypeStco()
	boxCo64 = gomp4.BoxTypeCo64()
	boxStss = gomp4.BoxTypeStss()

	boxAvc1 = gomp4.StrToBoxType(string(CodecAVC1))
	boxVp08 = gomp4.StrToBoxType(string(CodecVP08))
	boxVp09 = gomp4.StrToBoxType(string(CodecVP09))
	boxOpus = gomp4.StrToBoxType(string(CodecOpus))
	boxMp4a = gomp4.StrToBoxType(string(CodecMP4A))
	boxAvcC = gomp4.StrToBoxType("avcC")
	boxVpcC = gomp4.StrToBoxType("vpcC")
	boxEsds = gomp4.StrToBoxType("esds")
)

// Parse decodes a complete MP4 file held in memory. The returned Container
// keeps data as the backing store for sample payloads.
func Parse(data []byte) (*Container, error) {
	p := &parser{data: data}
	if _, err := gomp4.ReadBoxStructure(bytes.NewReader(data), p.handle); err != nil {
		var le *LoadError
		if errors.Is(err, ErrNoFtyp) || errors.Is(err, ErrMalformed) || errors.As(err, &le) {
			return nil, err
		}
		if !p.sawBox {
			return nil, fmt.Errorf("%w: %v", ErrNoFtyp, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !p.sawBox {
		return nil, ErrNoFtyp
	}
	if !p.sawMoov {
		return nil, ErrNoMoov
	}

	tracks := make([]*Track, 0, len(p.tracks))
	for i, rt := range p.tracks {
		if rt.id == 0 {
			rt.id = uint32(i + 1)
		}
		t, err := rt.build()
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, t)
	}
	return NewContainer(data, tracks)
}

// parser collects the boxes of the first moov while go-mp4 walks the file.
type parser struct {
	data    []byte
	sawBox  bool
	sawMoov bool
	inMoov  bool
	tracks  []*rawTrack
}

type rawTrack struct {
	id        uint32
	timescale uint32
	entries   []*SampleEntry
	stts      *gomp4.Stts
	stsc      *gomp4.Stsc
	stsz      *gomp4.Stsz
	offsets   []uint64
	stss      *gomp4.Stss
}

func (p *parser) handle(h *gomp4.ReadHandle) (interface{}, error) {
	typ := h.BoxInfo.Type
	depth := len(h.Path)

	if depth == 1 {
		p.inMoov = false
		if !p.sawBox {
			p.sawBox = true
			if typ != boxFtyp {
				return nil, fmt.Errorf("%w: found %q", ErrNoFtyp, typ.String())
			}
			if _, _, err := h.ReadPayload(); err != nil {
				return nil, fmt.Errorf("%w: ftyp: %v", ErrNoFtyp, err)
			}
			return nil, nil
		}
		if typ == boxMoov && !p.sawMoov {
			p.sawMoov = true
			p.inMoov = true
			_, err := h.Expand()
			p.inMoov = false
			return nil, err
		}
		return nil, nil
	}
	if !p.inMoov {
		return nil, nil
	}

	switch depth {
	case 2:
		if typ == boxTrak {
			p.tracks = append(p.tracks, &rawTrack{})
			return h.Expand()
		}
	case 3:
		switch typ {
		case boxTkhd:
			box, err := p.payload(h)
			if err != nil {
				return nil, err
			}
			if tkhd, ok := box.(*gomp4.Tkhd); ok {
				p.track().id = tkhd.TrackID
			}
		case boxMdia:
			return h.Expand()
		}
	case 4:
		switch typ {
		case boxMdhd:
			box, err := p.payload(h)
			if err != nil {
				return nil, err
			}
			if mdhd, ok := box.(*gomp4.Mdhd); ok {
				p.track().timescale = mdhd.Timescale
			}
		case boxMinf:
			return h.Expand()
		}
	case 5:
		if typ == boxStbl {
			return h.Expand()
		}
	case 6:
		return p.handleTable(h)
	case 7:
		return p.handleEntry(h)
	case 8:
		return p.handleEntryChild(h)
	}
	return nil, nil
}

func (p *parser) handleTable(h *gomp4.ReadHandle) (interface{}, error) {
	typ := h.BoxInfo.Type
	if typ == boxStsd {
		return h.Expand()
	}
	switch typ {
	case boxStts, boxStsc, boxStsz, boxStco, boxCo64, boxStss:
	default:
		return nil, nil
	}
	box, err := p.payload(h)
	if err != nil {
		return nil, err
	}
	t := p.track()
	switch b := box.(type) {
	case *gomp4.Stts:
		t.stts = b
	case *gomp4.Stsc:
		t.stsc = b
	case *gomp4.Stsz:
		t.stsz = b
	case *gomp4.Stco:
		t.offsets = make([]uint64, len(b.ChunkOffset))
		for i, off := range b.ChunkOffset {
			t.offsets[i] = uint64(off)
		}
	case *gomp4.Co64:
		t.offsets = append([]uint64(nil), b.ChunkOffset...)
	case *gomp4.Stss:
		t.stss = b
	}
	return nil, nil
}

func (p *parser) handleEntry(h *gomp4.ReadHandle) (interface{}, error) {
	if h.Path[len(h.Path)-2] != boxStsd {
		return nil, nil
	}
	typ := h.BoxInfo.Type
	raw := p.raw(h.BoxInfo)
	t := p.track()

	switch typ {
	case boxAvc1, boxVp08, boxVp09:
		box, err := p.payload(h)
		if err != nil {
			return nil, err
		}
		vse, ok := box.(*gomp4.VisualSampleEntry)
		if !ok {
			return nil, fmt.Errorf("%w: unexpected %s payload", ErrMalformed, typ.String())
		}
		t.entries = append(t.entries, videoEntry(Codec(typ.String()), raw, vse))
		return h.Expand()
	case boxOpus, boxMp4a:
		box, err := p.payload(h)
		if err != nil {
			return nil, err
		}
		ase, ok := box.(*gomp4.AudioSampleEntry)
		if !ok {
			return nil, fmt.Errorf("%w: unexpected %s payload", ErrMalformed, typ.String())
		}
		t.entries = append(t.entries, audioEntry(Codec(typ.String()), raw, ase))
		return h.Expand()
	}
	// Unsupported entries are kept so that sample description indices line up.
	t.entries = append(t.entries, &SampleEntry{Codec: Codec(typ.String()), raw: string(raw)})
	return nil, nil
}

func (p *parser) handleEntryChild(h *gomp4.ReadHandle) (interface{}, error) {
	t := p.track()
	if len(t.entries) == 0 {
		return nil, nil
	}
	e := t.entries[len(t.entries)-1]
	typ := h.BoxInfo.Type
	switch typ {
	case boxAvcC, boxVpcC, boxEsds:
	default:
		return nil, nil
	}
	box, err := p.payload(h)
	if err != nil {
		return nil, err
	}
	switch b := box.(type) {
	case *gomp4.AVCDecoderConfiguration:
		if e.Codec == CodecAVC1 {
			applyAVCC(e, p.body(h.BoxInfo), b)
		}
	case *gomp4.VpcC:
		if e.Codec == CodecVP09 {
			applyVPCC(e, b)
		}
	case *gomp4.Esds:
		if e.Codec == CodecMP4A {
			if err := applyESDS(e, b); err != nil {
				return nil, err
			}
		}
	}
	return nil, nil
}

func (p *parser) track() *rawTrack {
	return p.tracks[len(p.tracks)-1]
}

func (p *parser) payload(h *gomp4.ReadHandle) (gomp4.IBox, error) {
	box, _, err := h.ReadPayload()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, h.BoxInfo.Type.String(), err)
	}
	return box, nil
}

// raw returns the whole encoded box, header included.
func (p *parser) raw(bi gomp4.BoxInfo) []byte {
	end := bi.Offset + bi.Size
	if end > uint64(len(p.data)) {
		end = uint64(len(p.data))
	}
	return p.data[bi.Offset:end]
}

// body returns the box payload without its header.
func (p *parser) body(bi gomp4.BoxInfo) []byte {
	raw := p.raw(bi)
	if bi.HeaderSize > uint64(len(raw)) {
		return nil
	}
	return raw[bi.HeaderSize:]
}

// build flattens the stbl tables into a SampleTable.
func (rt *rawTrack) build() (*Track, error) {
	fail := func(format string, args ...any) error {
		return &LoadError{TrackID: rt.id, Kind: rt.kind(), Detail: fmt.Sprintf(format, args...), Err: ErrMalformed}
	}
	if rt.stts == nil || rt.stsc == nil || rt.stsz == nil || rt.offsets == nil {
		return nil, fail("incomplete sample table")
	}

	count := rt.stsz.SampleCount
	if rt.stsz.SampleSize == 0 && uint32(len(rt.stsz.EntrySize)) < count {
		return nil, fail("stsz has %d sizes for %d samples", len(rt.stsz.EntrySize), count)
	}
	samples := make([]Sample, count)

	// Timestamps.
	var (
		i  uint32
		ts uint64
	)
	for _, e := range rt.stts.Entries {
		for n := uint32(0); n < e.SampleCount && i < count; n++ {
			samples[i].Timestamp = ts
			samples[i].Duration = e.SampleDelta
			ts += uint64(e.SampleDelta)
			i++
		}
	}
	if i < count {
		return nil, fail("stts covers %d of %d samples", i, count)
	}

	// Sizes.
	for i := range samples {
		if rt.stsz.SampleSize != 0 {
			samples[i].Size = rt.stsz.SampleSize
		} else {
			samples[i].Size = rt.stsz.EntrySize[i]
		}
	}

	// Chunks: offsets and sample entries.
	stsc := rt.stsc.Entries
	i = 0
	for chunk := 0; chunk < len(rt.offsets) && i < count; chunk++ {
		chunkNo := uint32(chunk + 1)
		ent := -1
		for j := range stsc {
			if stsc[j].FirstChunk <= chunkNo {
				ent = j
			} else {
				break
			}
		}
		if ent < 0 {
			return nil, fail("chunk %d not covered by stsc", chunkNo)
		}
		sdi := stsc[ent].SampleDescriptionIndex
		if sdi == 0 || int(sdi) > len(rt.entries) {
			return nil, fail("sample description index %d out of range", sdi)
		}
		entry := rt.entries[sdi-1]
		off := rt.offsets[chunk]
		for n := uint32(0); n < stsc[ent].SamplesPerChunk && i < count; n++ {
			samples[i].Offset = off
			samples[i].Entry = entry
			off += uint64(samples[i].Size)
			i++
		}
	}
	if i < count {
		return nil, fail("chunks cover %d of %d samples", i, count)
	}

	// Sync samples. Without stss every sample is a sync sample.
	if rt.stss == nil {
		for i := range samples {
			samples[i].IsSync = true
		}
	} else {
		for _, n := range rt.stss.SampleNumber {
			if n >= 1 && n <= count {
				samples[n-1].IsSync = true
			}
		}
	}

	return &Track{
		ID:        rt.id,
		Timescale: rt.timescale,
		Samples:   NewSampleTable(samples),
	}, nil
}

func (rt *rawTrack) kind() model.TrackKind {
	if len(rt.entries) > 0 {
		return rt.entries[0].Kind()
	}
	return ""
}
