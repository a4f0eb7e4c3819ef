package lucky

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"io"
	"os"
)

// SER is the raw video container written by most planetary capture
// software: a fixed 178 byte header, then FrameCount uncompressed
// frames back to back (and an optional timestamp trailer, which we
// ignore).
const serHeaderSize = 178

const (
	SERMono = 0
	SERRGB  = 100
	SERBGR  = 101
)

type SERHeader struct {
	FileID       [14]byte
	LuID         int32
	ColorID      int32 // 0 mono, 8..19 bayer, 100 RGB, 101 BGR
	LittleEndian int32
	Width        int32
	Height       int32
	PixelDepth   int32 // bits per plane, 1..16
	FrameCount   int32
	Observer     [40]byte
	Instrument   [40]byte
	Telescope    [40]byte
	DateTime     int64
	DateTimeUTC  int64
}

func (h SERHeader) String() string {
	return fmt.Sprintf("SER[%dx%d, %d frames, %d bit, color %d, %q]", h.Width, h.Height, h.FrameCount,
		h.PixelDepth, h.ColorID, string(bytes.TrimRight(h.Instrument[:], "\x00 ")))
}

func (h SERHeader) planes() int {
	if h.ColorID == SERRGB || h.ColorID == SERBGR {
		return 3
	}
	return 1 // bayer data is passed through undebayered, as mono
}

func (h SERHeader) bytesPerSample() int {
	if h.PixelDepth > 8 {
		return 2
	}
	return 1
}

func (h SERHeader) FrameSize() int {
	return int(h.Width) * int(h.Height) * h.planes() * h.bytesPerSample()
}

// byteOrder of the 16 bit samples. The format's definition says
// LittleEndian=1 means little endian, but nearly every capture program
// writes 0 for little endian data, so that's what we go with.
func (h SERHeader) byteOrder() binary.ByteOrder {
	if h.LittleEndian == 0 {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

func (h SERHeader) validate() error {
	if string(h.FileID[:]) != "LUCAM-RECORDER" {
		return fmt.Errorf("bad file id %q", string(h.FileID[:]))
	}
	if h.Width <= 0 || h.Height <= 0 || h.FrameCount < 0 {
		return fmt.Errorf("bad geometry %dx%d, %d frames", h.Width, h.Height, h.FrameCount)
	}
	if h.PixelDepth < 1 || h.PixelDepth > 16 {
		return fmt.Errorf("bad pixel depth %d", h.PixelDepth)
	}
	return nil
}

// SERDecoder reads frames out of a SER file. It implements
// StreamDecoder, so wrap it in a BlockSource before sharing it.
type SERDecoder struct {
	Header SERHeader

	name string
	r    io.ReaderAt
	c    io.Closer
	pos  int
	buf  []byte
}

func OpenSER(filename string) (*SERDecoder, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("open+r ser '%s': %v", filename, err)
	}
	d, err := NewSERDecoder(filename, f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("ser '%s': %v", filename, err)
	}
	d.c = f
	log.Infof("Opened %s: %s", filename, d.Header)
	return d, nil
}

func NewSERDecoder(name string, r io.ReaderAt) (*SERDecoder, error) {
	d := SERDecoder{name: name, r: r}
	sr := io.NewSectionReader(r, 0, serHeaderSize)
	if err := binary.Read(sr, binary.LittleEndian, &d.Header); err != nil {
		return nil, fmt.Errorf("reading header: %v", err)
	}
	if err := d.Header.validate(); err != nil {
		return nil, err
	}
	d.buf = make([]byte, d.Header.FrameSize())
	return &d, nil
}

func (d *SERDecoder) Name() string    { return d.name }
func (d *SERDecoder) FrameCount() int { return int(d.Header.FrameCount) }

func (d *SERDecoder) Seek(i int) error {
	if i < 0 || i > d.FrameCount() {
		return fmt.Errorf("seek %d: out of range [0,%d]", i, d.FrameCount())
	}
	d.pos = i
	return nil
}

func (d *SERDecoder) Next() (image.Image, error) {
	if d.pos >= d.FrameCount() {
		return nil, io.EOF
	}
	off := int64(serHeaderSize) + int64(d.pos)*int64(len(d.buf))
	d.pos++
	if _, err := d.r.ReadAt(d.buf, off); err != nil {
		return nil, fmt.Errorf("frame %d: %v", d.pos-1, err)
	}
	return d.decode(d.buf), nil
}

func (d *SERDecoder) Close() error {
	if d.c == nil {
		return nil
	}
	return d.c.Close()
}

// decode expands the raw samples to 16 bits per channel.
func (d *SERDecoder) decode(raw []byte) *image.RGBA64 {
	h := d.Header
	w, ht, planes, bps := int(h.Width), int(h.Height), h.planes(), h.bytesPerSample()
	order := h.byteOrder()

	sample := func(i int) uint16 {
		if bps == 1 {
			v := uint16(raw[i])
			return v<<8 | v
		}
		v := order.Uint16(raw[2*i:])
		if h.PixelDepth < 16 {
			v <<= uint(16 - h.PixelDepth)
		}
		return v
	}

	img := image.NewRGBA64(image.Rect(0, 0, w, ht))
	for y := 0; y < ht; y++ {
		for x := 0; x < w; x++ {
			i := (y*w + x) * planes
			var c color.RGBA64
			switch h.ColorID {
			case SERRGB:
				c = color.RGBA64{sample(i), sample(i + 1), sample(i + 2), 0xFFFF}
			case SERBGR:
				c = color.RGBA64{sample(i + 2), sample(i + 1), sample(i), 0xFFFF}
			default:
				v := sample(i)
				c = color.RGBA64{v, v, v, 0xFFFF}
			}
			img.SetRGBA64(x, y, c)
		}
	}
	return img
}
