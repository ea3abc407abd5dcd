package imageio

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/tiff"

	"github.com/bpradana/tofu"
)

func TestGetFilenames(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.tif", "a.tif", "c.edf"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	files, err := GetFilenames(dir)
	require.NoError(t, err)
	want := []string{filepath.Join(dir, "a.tif"), filepath.Join(dir, "b.tif"), filepath.Join(dir, "c.edf")}
	if diff := cmp.Diff(want, files); diff != "" {
		t.Fatalf("directory listing mismatch (-want +got):\n%s", diff)
	}

	files, err = GetFilenames(filepath.Join(dir, "*.tif"))
	require.NoError(t, err)
	assert.Len(t, files, 2)

	files, err = GetFilenames(filepath.Join(dir, "missing-*.tif"))
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestFormatIndex(t *testing.T) {
	assert.True(t, HasIndexPattern("/out/slice-%05i.tif"))
	assert.False(t, HasIndexPattern("/out/slices.tif"))
	assert.Equal(t, "/out/slice-00042.tif", FormatIndex("/out/slice-%05i.tif", 42))
	assert.Equal(t, "slice-7.tif", FormatIndex("slice-%i.tif", 7))
	assert.Equal(t, "plain.tif", FormatIndex("plain.tif", 7))
}

func TestTIFFRoundTrip(t *testing.T) {
	a := tofu.NewFrame(3, 2)
	copy(a.Data, []float32{0, 1.5, -2, 3.25, 1e6, float32(math.Pi)})
	vol := tofu.NewVolume(2, 2, 2)
	for i := range vol.Data {
		vol.Data[i] = float32(i) / 2
	}

	path := filepath.Join(t.TempDir(), "stack.tif")
	require.NoError(t, WriteTIFFFile(path, []*tofu.Frame{a, vol}))

	frames, err := Read(path)
	require.NoError(t, err)
	require.Len(t, frames, 3)
	assert.Equal(t, a.Data, frames[0].Data)
	assert.Equal(t, 3, frames[0].Width)
	assert.Equal(t, vol.Data[:4], frames[1].Data)
	assert.Equal(t, vol.Data[4:], frames[2].Data)

	first, err := ReadFirst(filepath.Dir(path))
	require.NoError(t, err)
	assert.Equal(t, a.Data, first.Data)
}

func TestWriteTIFFRejectsEmpty(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, WriteTIFF(&buf, nil))
	assert.Zero(t, buf.Len())
}

func TestCompressedTIFFFallsBack(t *testing.T) {
	img := image.NewGray16(image.Rect(0, 0, 4, 3))
	img.SetGray16(2, 1, color.Gray16{Y: 1234})

	var buf bytes.Buffer
	require.NoError(t, tiff.Encode(&buf, img, &tiff.Options{Compression: tiff.Deflate}))
	path := filepath.Join(t.TempDir(), "deflate.tiff")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	f, err := ReadImage(path)
	require.NoError(t, err)
	assert.Equal(t, 4, f.Width)
	assert.Equal(t, 3, f.Height)
	assert.Equal(t, float32(1234), f.At(2, 1))
}

func TestReadEDF(t *testing.T) {
	header := "{\nHeaderID = EH:000001:000000:000000 ;\nByteOrder = HighByteFirst ;\nDataType = UnsignedShort ;\nDim_1 = 3 ;\nDim_2 = 1 ;\n}\n"
	var buf bytes.Buffer
	buf.WriteString(header)
	for _, v := range []uint16{10, 500, 65535} {
		require.NoError(t, binary.Write(&buf, binary.BigEndian, v))
	}
	path := filepath.Join(t.TempDir(), "flat.edf")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	f, err := ReadImage(path)
	require.NoError(t, err)
	assert.Equal(t, []float32{10, 500, 65535}, f.Data)
}

func TestReadPNG(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 2, 2))
	img.SetGray(1, 0, color.Gray{Y: 200})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	path := filepath.Join(t.TempDir(), "dark.png")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	f, err := ReadImage(path)
	require.NoError(t, err)
	assert.Equal(t, float32(200), f.At(1, 0))
}

func TestUnsupportedExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.raw")
	require.NoError(t, os.WriteFile(path, []byte{1, 2}, 0o644))
	_, err := Read(path)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}
