package imageio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"math"
	"os"

	"golang.org/x/image/tiff"

	"github.com/bpradana/tofu"
)

const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagPhotometric     = 262
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagPlanarConfig    = 284
	tagSampleFormat    = 339

	typeShort = 3
	typeLong  = 4

	formatUint  = 1
	formatInt   = 2
	formatFloat = 3
)

var errFallback = errors.New("layout needs generic decoder")

type ifd struct {
	width, height int
	bits          int
	format        int
	compression   int
	samples       int
	offsets       []uint32
	counts        []uint32
}

// decodeTIFF reads uncompressed single-channel pages natively, which covers
// the float32 files produced by reconstructions. Anything else goes through
// golang.org/x/image/tiff, which yields the first page only.
func decodeTIFF(data []byte) ([]*tofu.Frame, error) {
	frames, err := decodeRawTIFF(data)
	if errors.Is(err, errFallback) {
		img, err := tiff.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		return []*tofu.Frame{frameFromImage(img)}, nil
	}
	return frames, err
}

func decodeRawTIFF(data []byte) ([]*tofu.Frame, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("%w: short header", ErrUnsupportedFormat)
	}
	var order binary.ByteOrder
	switch string(data[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return nil, fmt.Errorf("%w: bad byte order mark", ErrUnsupportedFormat)
	}
	if order.Uint16(data[2:4]) != 42 {
		return nil, errFallback
	}

	var frames []*tofu.Frame
	next := order.Uint32(data[4:8])
	for next != 0 {
		dir, following, err := readIFD(data, order, next)
		if err != nil {
			return nil, err
		}
		if dir.compression != 1 || dir.samples != 1 {
			return nil, errFallback
		}
		f, err := dir.frame(data, order)
		if err != nil {
			return nil, err
		}
		frames = append(frames, f)
		next = following
	}
	return frames, nil
}

func readIFD(data []byte, order binary.ByteOrder, offset uint32) (ifd, uint32, error) {
	dir := ifd{bits: 8, format: formatUint, compression: 1, samples: 1}
	if int(offset)+2 > len(data) {
		return dir, 0, fmt.Errorf("%w: directory offset out of range", ErrUnsupportedFormat)
	}
	n := int(order.Uint16(data[offset:]))
	pos := int(offset) + 2
	if pos+n*12+4 > len(data) {
		return dir, 0, fmt.Errorf("%w: truncated directory", ErrUnsupportedFormat)
	}
	for i := range n {
		entry := data[pos+i*12 : pos+(i+1)*12]
		values, err := entryValues(data, order, entry)
		if err != nil {
			return dir, 0, err
		}
		if len(values) == 0 {
			continue
		}
		switch order.Uint16(entry[0:2]) {
		case tagImageWidth:
			dir.width = int(values[0])
		case tagImageLength:
			dir.height = int(values[0])
		case tagBitsPerSample:
			dir.bits = int(values[0])
		case tagCompression:
			dir.compression = int(values[0])
		case tagSamplesPerPixel:
			dir.samples = int(values[0])
		case tagSampleFormat:
			dir.format = int(values[0])
		case tagStripOffsets:
			dir.offsets = values
		case tagStripByteCounts:
			dir.counts = values
		}
	}
	next := order.Uint32(data[pos+n*12:])
	return dir, next, nil
}

func entryValues(data []byte, order binary.ByteOrder, entry []byte) ([]uint32, error) {
	typ := order.Uint16(entry[2:4])
	count := int(order.Uint32(entry[4:8]))
	var size int
	switch typ {
	case typeShort:
		size = 2
	case typeLong:
		size = 4
	default:
		return nil, nil
	}
	raw := entry[8:12]
	if count*size > 4 {
		off := int(order.Uint32(entry[8:12]))
		if off+count*size > len(data) {
			return nil, fmt.Errorf("%w: tag data out of range", ErrUnsupportedFormat)
		}
		raw = data[off : off+count*size]
	}
	values := make([]uint32, count)
	for i := range values {
		if size == 2 {
			values[i] = uint32(order.Uint16(raw[i*2:]))
		} else {
			values[i] = order.Uint32(raw[i*4:])
		}
	}
	return values, nil
}

func (d ifd) frame(data []byte, order binary.ByteOrder) (*tofu.Frame, error) {
	if d.width <= 0 || d.height <= 0 || len(d.offsets) != len(d.counts) {
		return nil, fmt.Errorf("%w: incomplete directory", ErrUnsupportedFormat)
	}
	var pixels []byte
	for i, off := range d.offsets {
		end := int(off) + int(d.counts[i])
		if end > len(data) {
			return nil, fmt.Errorf("%w: strip out of range", ErrUnsupportedFormat)
		}
		pixels = append(pixels, data[off:end]...)
	}

	bytesPer := d.bits / 8
	n := d.width * d.height
	if bytesPer == 0 || len(pixels) < n*bytesPer {
		return nil, fmt.Errorf("%w: %d bytes for %dx%d at %d bits", ErrUnsupportedFormat, len(pixels), d.width, d.height, d.bits)
	}

	f := tofu.NewFrame(d.width, d.height)
	for i := range n {
		p := pixels[i*bytesPer:]
		var v float32
		switch {
		case d.bits == 8 && d.format == formatInt:
			v = float32(int8(p[0]))
		case d.bits == 8:
			v = float32(p[0])
		case d.bits == 16 && d.format == formatInt:
			v = float32(int16(order.Uint16(p)))
		case d.bits == 16:
			v = float32(order.Uint16(p))
		case d.bits == 32 && d.format == formatFloat:
			v = math.Float32frombits(order.Uint32(p))
		case d.bits == 32 && d.format == formatInt:
			v = float32(int32(order.Uint32(p)))
		case d.bits == 32:
			v = float32(order.Uint32(p))
		case d.bits == 64 && d.format == formatFloat:
			v = float32(math.Float64frombits(order.Uint64(p)))
		default:
			return nil, fmt.Errorf("%w: %d-bit samples of format %d", ErrUnsupportedFormat, d.bits, d.format)
		}
		f.Data[i] = v
	}
	return f, nil
}

func frameFromImage(img image.Image) *tofu.Frame {
	b := img.Bounds()
	f := tofu.NewFrame(b.Dx(), b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			var v float32
			switch c := img.At(x, y).(type) {
			case color.Gray:
				v = float32(c.Y)
			case color.Gray16:
				v = float32(c.Y)
			default:
				v = float32(color.Gray16Model.Convert(c).(color.Gray16).Y)
			}
			f.Set(x-b.Min.X, y-b.Min.Y, v)
		}
	}
	return f
}

// WriteTIFF encodes frames as a little-endian multipage float32 TIFF. Volumes
// contribute one page per slice.
func WriteTIFF(w io.Writer, frames []*tofu.Frame) error {
	var pages []*tofu.Frame
	for _, f := range frames {
		for z := range max(f.Depth, 1) {
			pages = append(pages, f.Slice(z))
		}
	}
	if len(pages) == 0 {
		return errors.New("imageio: nothing to write")
	}

	bw := bufio.NewWriter(w)
	order := binary.LittleEndian

	header := make([]byte, 8)
	copy(header, "II")
	order.PutUint16(header[2:], 42)
	order.PutUint32(header[4:], 8)
	if _, err := bw.Write(header); err != nil {
		return err
	}

	const entries = 11
	const ifdSize = 2 + entries*12 + 4
	offset := uint32(8)
	for i, page := range pages {
		dataSize := uint32(len(page.Data) * 4)
		dataOffset := offset + ifdSize
		next := uint32(0)
		if i < len(pages)-1 {
			next = dataOffset + dataSize
		}

		dir := make([]byte, ifdSize)
		order.PutUint16(dir, entries)
		put := func(k int, tag, typ uint16, value uint32) {
			e := dir[2+k*12:]
			order.PutUint16(e[0:], tag)
			order.PutUint16(e[2:], typ)
			order.PutUint32(e[4:], 1)
			if typ == typeShort {
				order.PutUint16(e[8:], uint16(value))
			} else {
				order.PutUint32(e[8:], value)
			}
		}
		put(0, tagImageWidth, typeLong, uint32(page.Width))
		put(1, tagImageLength, typeLong, uint32(page.Height))
		put(2, tagBitsPerSample, typeShort, 32)
		put(3, tagCompression, typeShort, 1)
		put(4, tagPhotometric, typeShort, 1)
		put(5, tagStripOffsets, typeLong, dataOffset)
		put(6, tagSamplesPerPixel, typeShort, 1)
		put(7, tagRowsPerStrip, typeLong, uint32(page.Height))
		put(8, tagStripByteCounts, typeLong, dataSize)
		put(9, tagPlanarConfig, typeShort, 1)
		put(10, tagSampleFormat, typeShort, formatFloat)
		order.PutUint32(dir[ifdSize-4:], next)
		if _, err := bw.Write(dir); err != nil {
			return err
		}

		buf := make([]byte, 4)
		for _, v := range page.Data {
			order.PutUint32(buf, math.Float32bits(v))
			if _, err := bw.Write(buf); err != nil {
				return err
			}
		}
		offset = dataOffset + dataSize
	}

	return bw.Flush()
}

// WriteTIFFFile writes frames to filename, creating or truncating it.
func WriteTIFFFile(filename string, frames []*tofu.Frame) error {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("imageio: %w", err)
	}
	if err := WriteTIFF(f, frames); err != nil {
		f.Close()
		return fmt.Errorf("imageio: write %s: %w", filename, err)
	}
	return f.Close()
}
