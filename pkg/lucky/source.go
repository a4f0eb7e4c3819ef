package lucky

import (
	"errors"
	"fmt"
	"image"
	"io"
	"sync"
)

// A FrameSource hands out decoded frames by index. Implementations must
// be safe for concurrent use; sequential access should be the cheap case.
type FrameSource interface {
	FrameCount() int
	FrameAt(i int) (Frame, error) // ErrFrameUnavailable if it can't be decoded
}

// A FrameNamer can name a frame without decoding it. Sources that
// implement it get their quality scores cached.
type FrameNamer interface {
	FrameName(i int) string
}

// SliceSource serves frames that are already in memory.
type SliceSource struct {
	Name   string
	Images []image.Image
}

func (s SliceSource) FrameCount() int { return len(s.Images) }

func (s SliceSource) FrameAt(i int) (Frame, error) {
	if i < 0 || i >= len(s.Images) || isEmpty(s.Images[i]) {
		return Frame{Index: i, Source: s.Name}, fmt.Errorf("%s[%d]: %w", s.Name, i, ErrFrameUnavailable)
	}
	return Frame{Index: i, Source: s.Name, Image: s.Images[i]}, nil
}

// MultiSource concatenates several sources into one global index space.
type MultiSource struct {
	Sources []FrameSource
}

func (m MultiSource) FrameCount() int {
	n := 0
	for _, s := range m.Sources {
		n += s.FrameCount()
	}
	return n
}

func (m MultiSource) FrameAt(i int) (Frame, error) {
	if i >= 0 {
		local := i
		for _, s := range m.Sources {
			if n := s.FrameCount(); local < n {
				f, err := s.FrameAt(local)
				f.Index = i
				return f, err
			} else {
				local -= n
			}
		}
	}
	return Frame{Index: i}, fmt.Errorf("frame %d of %d: %w", i, m.FrameCount(), ErrFrameUnavailable)
}

func (m MultiSource) FrameName(i int) string {
	local := i
	for _, s := range m.Sources {
		if n := s.FrameCount(); local < n {
			if namer, ok := s.(FrameNamer); ok {
				return namer.FrameName(local)
			}
			return ""
		} else {
			local -= n
		}
	}
	return ""
}

// Close closes any member sources that hold files open.
func (m MultiSource) Close() error {
	var errs []error
	for _, s := range m.Sources {
		if c, ok := s.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

// A StreamDecoder reads frames in order from a single stream, such as a
// video file. It is not safe for concurrent use.
type StreamDecoder interface {
	Name() string
	FrameCount() int
	Seek(i int) error           // position so that the next Next() returns frame i
	Next() (image.Image, error) // decode the frame at the current position, and advance
	Close() error
}

// BlockSource makes a StreamDecoder random-access, by decoding runs of
// BlockSize frames at a time and serving from the most recent run.
// Access to the decoder is serialized.
type BlockSource struct {
	BlockSize int

	mu         sync.Mutex
	dec        StreamDecoder
	block      []image.Image
	blockIndex int
}

func NewBlockSource(dec StreamDecoder, blockSize int) *BlockSource {
	if blockSize <= 0 {
		blockSize = 32
	}
	return &BlockSource{BlockSize: blockSize, dec: dec, blockIndex: -1}
}

func (b *BlockSource) FrameCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dec.FrameCount()
}

func (b *BlockSource) FrameAt(i int) (Frame, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	f := Frame{Index: i, Source: b.dec.Name()}
	if i < 0 || i >= b.dec.FrameCount() {
		return f, fmt.Errorf("%s[%d]: %w", b.dec.Name(), i, ErrFrameUnavailable)
	}

	if blockIndex := i / b.BlockSize; blockIndex != b.blockIndex {
		if err := b.loadBlock(blockIndex); err != nil {
			return f, fmt.Errorf("%s[%d]: %v: %w", b.dec.Name(), i, err, ErrFrameUnavailable)
		}
	}

	img := b.block[i%b.BlockSize]
	if img == nil {
		return f, fmt.Errorf("%s[%d]: %w", b.dec.Name(), i, ErrFrameUnavailable)
	}
	f.Image = img
	return f, nil
}

// loadBlock decodes a whole block. A frame that fails to decode leaves
// a hole in the block; the rest of it is still usable.
func (b *BlockSource) loadBlock(blockIndex int) error {
	start := blockIndex * b.BlockSize
	if err := b.dec.Seek(start); err != nil {
		return err
	}

	b.block = make([]image.Image, b.BlockSize)
	for i := 0; i < b.BlockSize && start+i < b.dec.FrameCount(); i++ {
		img, err := b.dec.Next()
		if err != nil {
			log.Warnf("%s: frame %d: %v", b.dec.Name(), start+i, err)
			if i+1 < b.BlockSize && start+i+1 < b.dec.FrameCount() {
				if err := b.dec.Seek(start + i + 1); err != nil {
					break
				}
			}
			continue
		}
		b.block[i] = img
	}
	b.blockIndex = blockIndex
	return nil
}

func (b *BlockSource) FrameName(i int) string {
	return fmt.Sprintf("%s#%d", b.dec.Name(), i)
}

func (b *BlockSource) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.block = nil
	b.blockIndex = -1
	return b.dec.Close()
}
