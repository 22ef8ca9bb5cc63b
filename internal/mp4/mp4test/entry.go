package mp4test

// Entry is a sample description written into stsd.
type Entry interface {
	box() []byte
	handler() string
}

// AVC is an avc1 entry with an avcC child.
type AVC struct {
	Width, Height          uint16
	Profile, Compat, Level uint8
	// NoConfig omits the avcC box.
	NoConfig bool
}

// DefaultAVC is a 320x240 baseline profile level 3.0 entry: codec avc1.42e01e.
var DefaultAVC = AVC{Width: 320, Height: 240, Profile: 0x42, Compat: 0xE0, Level: 0x1E}

var (
	testSPS = []byte{0x67, 0x42, 0xE0, 0x1E, 0xAB}
	testPPS = []byte{0x68, 0xCE, 0x3C, 0x80}
)

func (e AVC) handler() string { return "vide" }

func (e AVC) box() []byte {
	var children [][]byte
	if !e.NoConfig {
		children = append(children, box("avcC", AVCConfig(e.Profile, e.Compat, e.Level)))
	}
	return visualEntry("avc1", e.Width, e.Height, children...)
}

// AVCConfig returns the avcC payload written for the given profile triple.
func AVCConfig(profile, compat, level uint8) []byte {
	w := &writer{}
	w.u8(1).u8(profile).u8(compat).u8(level)
	w.u8(0xFF) // lengthSizeMinusOne = 3
	w.u8(0xE1) // one SPS
	w.u16(uint16(len(testSPS))).bytes(testSPS)
	w.u8(1)
	w.u16(uint16(len(testPPS))).bytes(testPPS)
	return w.buf
}

// VP8 is a vp08 entry.
type VP8 struct {
	Width, Height uint16
}

func (e VP8) handler() string { return "vide" }

func (e VP8) box() []byte {
	return visualEntry("vp08", e.Width, e.Height)
}

// VP9 is a vp09 entry with an optional vpcC child.
type VP9 struct {
	Width, Height            uint16
	Profile, Level, BitDepth uint8
	NoConfig                 bool
}

func (e VP9) handler() string { return "vide" }

func (e VP9) box() []byte {
	var children [][]byte
	if !e.NoConfig {
		w := &writer{}
		w.u8(e.Profile).u8(e.Level)
		// 4:2:0 colocated, limited range, BT.709.
		w.u8(e.BitDepth<<4 | 1<<1)
		w.u8(1).u8(1).u8(1)
		w.u16(0)
		children = append(children, fullBox("vpcC", 1, 0, w.buf))
	}
	return visualEntry("vp09", e.Width, e.Height, children...)
}

// Opus is an Opus entry with a dOps child.
type Opus struct {
	Channels   uint16
	SampleRate uint32
}

func (e Opus) handler() string { return "soun" }

func (e Opus) box() []byte {
	w := &writer{}
	w.u8(0).u8(uint8(e.Channels)).u16(312).u32(e.SampleRate).u16(0).u8(0)
	return audioEntry("Opus", e.Channels, e.SampleRate, box("dOps", w.buf))
}

// AAC is an mp4a entry with an esds child.
type AAC struct {
	Channels   uint16
	SampleRate uint32
	// ObjectType is the esds objectTypeIndication; zero means 0x40.
	ObjectType uint8
	// Config is the AudioSpecificConfig; nil means AAC-LC 48kHz stereo.
	Config []byte
}

// AACLC48kStereo is the AudioSpecificConfig of AAC-LC, 48 kHz, two channels.
var AACLC48kStereo = []byte{0x11, 0x90}

func (e AAC) handler() string { return "soun" }

func (e AAC) box() []byte {
	oti := e.ObjectType
	if oti == 0 {
		oti = 0x40
	}
	asc := e.Config
	if asc == nil {
		asc = AACLC48kStereo
	}
	dcd := (&writer{}).u8(oti).u8(0x15).zeros(3).u32(128000).u32(128000).buf
	es := descriptor(0x03,
		(&writer{}).u16(1).u8(0).buf,
		descriptor(0x04, dcd, descriptor(0x05, asc)),
		descriptor(0x06, []byte{0x02}),
	)
	return audioEntry("mp4a", e.Channels, e.SampleRate, fullBox("esds", 0, 0, es))
}

// Raw is an arbitrary sample entry, used for unsupported codecs.
type Raw struct {
	Type    string
	Handler string
	Payload []byte
}

func (e Raw) handler() string {
	if e.Handler == "" {
		return "vide"
	}
	return e.Handler
}

func (e Raw) box() []byte {
	return box(e.Type, e.Payload)
}

func visualEntry(typ string, width, height uint16, children ...[]byte) []byte {
	w := &writer{}
	w.zeros(6).u16(1)
	w.u16(0).u16(0).zeros(12)
	w.u16(width).u16(height)
	w.u32(0x00480000).u32(0x00480000)
	w.u32(0).u16(1)
	w.zeros(32) // compressorname
	w.u16(0x0018).u16(0xFFFF)
	return box(typ, append([][]byte{w.buf}, children...)...)
}

func audioEntry(typ string, channels uint16, sampleRate uint32, children ...[]byte) []byte {
	w := &writer{}
	w.zeros(6).u16(1)
	w.zeros(8)
	w.u16(channels).u16(16)
	w.u16(0).u16(0)
	w.u32(sampleRate << 16)
	return box(typ, append([][]byte{w.buf}, children...)...)
}
