// Package mp4test builds small, well-formed MP4 files in memory for tests.
package mp4test

// Sample is one sample of a fixture track.
type Sample struct {
	Duration uint32
	// Data defaults to four bytes identifying the track and sample.
	Data []byte
	// NonSync marks a delta sample. Samples are sync by default.
	NonSync bool
	// Entry is the 1-based index into the track's entries; zero means 1.
	Entry uint32
}

// Track is a fixture track. Each sample is written as its own chunk unless
// SamplesPerChunk is set.
type Track struct {
	ID              uint32
	Timescale       uint32
	Entries         []Entry
	Samples         []Sample
	SamplesPerChunk int
}

// File describes a fixture file: ftyp, moov, then mdat.
type File struct {
	Tracks []Track
	// OmitFtyp starts the file with moov.
	OmitFtyp bool
	// OmitMoov writes no moov box.
	OmitMoov bool
	// BadOffset points the last chunk of the last track past the end of the file.
	BadOffset bool
	// ExtraMoov appends a second moov with no tracks after mdat.
	ExtraMoov bool
	// Offsets replaces chunk offsets of the last track, keyed by 0-based
	// chunk index.
	Offsets map[int]uint64
	// Co64 writes 64-bit chunk offsets instead of stco.
	Co64 bool
}

// VideoTrack returns an AVC track whose samples have the given durations.
func VideoTrack(timescale uint32, durations ...uint32) Track {
	return uniformTrack(DefaultAVC, timescale, durations)
}

// AudioTrack returns an Opus track whose samples have the given durations.
func AudioTrack(timescale uint32, durations ...uint32) Track {
	return uniformTrack(Opus{Channels: 2, SampleRate: 48000}, timescale, durations)
}

func uniformTrack(e Entry, timescale uint32, durations []uint32) Track {
	t := Track{Timescale: timescale, Entries: []Entry{e}}
	for _, d := range durations {
		t.Samples = append(t.Samples, Sample{Duration: d})
	}
	return t
}

// Build encodes f.
func Build(f File) []byte {
	ftyp := (&writer{}).bytes([]byte("isom")).u32(0x200).
		bytes([]byte("isom")).bytes([]byte("iso2")).bytes([]byte("avc1")).bytes([]byte("mp41")).buf
	var head []byte
	if !f.OmitFtyp {
		head = box("ftyp", ftyp)
	}

	// Payload layout inside mdat.
	var (
		mdat    []byte
		offsets = make([][]uint64, len(f.Tracks))
	)
	for ti, t := range f.Tracks {
		for si, s := range t.Samples {
			offsets[ti] = append(offsets[ti], uint64(len(mdat)))
			mdat = append(mdat, sampleData(ti, si, s)...)
		}
	}

	// moov size does not depend on offset values, so build once to size it.
	var moov []byte
	if !f.OmitMoov {
		moov = buildMoov(f, offsets, 0, 0)
		base := uint64(len(head) + len(moov) + 8)
		moov = buildMoov(f, offsets, base, uint64(len(head)+len(moov)+8+len(mdat)))
	}

	out := append([]byte{}, head...)
	out = append(out, moov...)
	out = append(out, box("mdat", mdat)...)
	if f.ExtraMoov {
		out = append(out, box("moov", mvhd(0))...)
	}
	return out
}

func sampleData(ti, si int, s Sample) []byte {
	if s.Data != nil {
		return s.Data
	}
	return []byte{0xA0 + byte(ti), byte(si >> 16), byte(si >> 8), byte(si)}
}

func buildMoov(f File, offsets [][]uint64, base, fileSize uint64) []byte {
	children := [][]byte{mvhd(uint32(len(f.Tracks) + 1))}
	for ti, t := range f.Tracks {
		id := t.ID
		if id == 0 {
			id = uint32(ti + 1)
		}
		co := chunkOffsets(t, offsets[ti], base)
		if ti == len(f.Tracks)-1 {
			if f.BadOffset && len(co) > 0 {
				co[len(co)-1] = fileSize + 1<<20
			}
			for i, off := range f.Offsets {
				if i < len(co) {
					co[i] = off
				}
			}
		}
		children = append(children, trak(id, t, co, f.Co64))
	}
	return box("moov", children...)
}

func chunkOffsets(t Track, sampleOffsets []uint64, base uint64) []uint64 {
	per := t.SamplesPerChunk
	if per <= 0 {
		per = 1
	}
	var out []uint64
	for i := 0; i < len(sampleOffsets); i += per {
		out = append(out, base+sampleOffsets[i])
	}
	return out
}

func mvhd(nextTrackID uint32) []byte {
	w := &writer{}
	w.u32(0).u32(0).u32(1000).u32(0)
	w.u32(0x00010000).u16(0x0100).zeros(10)
	matrix(w)
	w.zeros(24).u32(nextTrackID)
	return fullBox("mvhd", 0, 0, w.buf)
}

func trak(id uint32, t Track, chunkOffsets []uint64, co64 bool) []byte {
	handler := "vide"
	if len(t.Entries) > 0 {
		handler = t.Entries[0].handler()
	}
	var total uint64
	for _, s := range t.Samples {
		total += uint64(s.Duration)
	}

	tkhd := &writer{}
	tkhd.u32(0).u32(0).u32(id).u32(0).u32(uint32(total))
	tkhd.zeros(8).u16(0).u16(0)
	if handler == "soun" {
		tkhd.u16(0x0100)
	} else {
		tkhd.u16(0)
	}
	tkhd.u16(0)
	matrix(tkhd)
	tkhd.u32(0).u32(0)

	mdhd := (&writer{}).u32(0).u32(0).u32(t.Timescale).u32(uint32(total)).u16(0x55C4).u16(0).buf
	hdlr := (&writer{}).u32(0).bytes([]byte(handler)).zeros(12).bytes([]byte("fixture\x00")).buf

	var mediaHeader []byte
	if handler == "soun" {
		mediaHeader = fullBox("smhd", 0, 0, (&writer{}).u16(0).u16(0).buf)
	} else {
		mediaHeader = fullBox("vmhd", 0, 1, (&writer{}).zeros(8).buf)
	}
	dinf := box("dinf", fullBox("dref", 0, 0, (&writer{}).u32(1).buf, fullBox("url ", 0, 1)))

	return box("trak",
		fullBox("tkhd", 0, 3, tkhd.buf),
		box("mdia",
			fullBox("mdhd", 0, 0, mdhd),
			fullBox("hdlr", 0, 0, hdlr),
			box("minf", mediaHeader, dinf, stbl(t, chunkOffsets, co64)),
		),
	)
}

func stbl(t Track, chunkOffsets []uint64, co64 bool) []byte {
	stsd := (&writer{}).u32(uint32(len(t.Entries)))
	for _, e := range t.Entries {
		stsd.bytes(e.box())
	}

	// stts: run-length encoded durations.
	var stts [][2]uint32
	for _, s := range t.Samples {
		if n := len(stts); n > 0 && stts[n-1][1] == s.Duration {
			stts[n-1][0]++
			continue
		}
		stts = append(stts, [2]uint32{1, s.Duration})
	}
	sttsW := (&writer{}).u32(uint32(len(stts)))
	for _, e := range stts {
		sttsW.u32(e[0]).u32(e[1])
	}

	// stsc: one entry per change of (samples per chunk, description index).
	per := t.SamplesPerChunk
	if per <= 0 {
		per = 1
	}
	var stsc [][3]uint32
	for c := 0; c*per < len(t.Samples); c++ {
		first := c * per
		n := per
		if first+n > len(t.Samples) {
			n = len(t.Samples) - first
		}
		entry := t.Samples[first].Entry
		if entry == 0 {
			entry = 1
		}
		if k := len(stsc); k > 0 && stsc[k-1][1] == uint32(n) && stsc[k-1][2] == entry {
			continue
		}
		stsc = append(stsc, [3]uint32{uint32(c + 1), uint32(n), entry})
	}
	stscW := (&writer{}).u32(uint32(len(stsc)))
	for _, e := range stsc {
		stscW.u32(e[0]).u32(e[1]).u32(e[2])
	}

	stsz := (&writer{}).u32(0).u32(uint32(len(t.Samples)))
	for _, s := range t.Samples {
		stsz.u32(sampleSize(s))
	}

	offsetBox := fullBox("stco", 0, 0, stcoPayload(chunkOffsets))
	if co64 {
		offsetBox = fullBox("co64", 0, 0, co64Payload(chunkOffsets))
	}

	children := [][]byte{
		fullBox("stsd", 0, 0, stsd.buf),
		fullBox("stts", 0, 0, sttsW.buf),
		fullBox("stsc", 0, 0, stscW.buf),
		fullBox("stsz", 0, 0, stsz.buf),
		offsetBox,
	}

	var sync []uint32
	allSync := true
	for i, s := range t.Samples {
		if s.NonSync {
			allSync = false
			continue
		}
		sync = append(sync, uint32(i+1))
	}
	if !allSync {
		stss := (&writer{}).u32(uint32(len(sync)))
		for _, n := range sync {
			stss.u32(n)
		}
		children = append(children, fullBox("stss", 0, 0, stss.buf))
	}
	return box("stbl", children...)
}

func sampleSize(s Sample) uint32 {
	if s.Data != nil {
		return uint32(len(s.Data))
	}
	return 4
}

func stcoPayload(offsets []uint64) []byte {
	w := (&writer{}).u32(uint32(len(offsets)))
	for _, off := range offsets {
		w.u32(uint32(off))
	}
	return w.buf
}

func co64Payload(offsets []uint64) []byte {
	w := (&writer{}).u32(uint32(len(offsets)))
	for _, off := range offsets {
		w.u32(uint32(off >> 32)).u32(uint32(off))
	}
	return w.buf
}
