package imageio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"strconv"
	"strings"

	"github.com/bpradana/tofu"
)

type edfType struct {
	size   int
	signed bool
	float  bool
}

var edfTypes = map[string]edfType{
	"unsignedbyte":    {size: 1},
	"signedbyte":      {size: 1, signed: true},
	"unsignedshort":   {size: 2},
	"signedshort":     {size: 2, signed: true},
	"unsignedinteger": {size: 4},
	"unsignedlong":    {size: 4},
	"signedinteger":   {size: 4, signed: true},
	"signedlong":      {size: 4, signed: true},
	"floatvalue":      {size: 4, float: true},
	"float":           {size: 4, float: true},
	"doublevalue":     {size: 8, float: true},
	"double":          {size: 8, float: true},
}

// decodeEDF reads an ESRF data format image: a brace-delimited ASCII header of
// "key = value ;" lines followed by raw samples.
func decodeEDF(data []byte) (*tofu.Frame, error) {
	if len(data) == 0 || data[0] != '{' {
		return nil, fmt.Errorf("%w: missing EDF header", ErrUnsupportedFormat)
	}
	end := bytes.Index(data, []byte("}\n"))
	if end < 0 {
		return nil, fmt.Errorf("%w: unterminated EDF header", ErrUnsupportedFormat)
	}

	header := make(map[string]string)
	for _, line := range strings.Split(string(data[1:end]), ";") {
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		header[strings.ToLower(strings.TrimSpace(key))] = strings.TrimSpace(value)
	}

	width, err := strconv.Atoi(header["dim_1"])
	if err != nil {
		return nil, fmt.Errorf("%w: Dim_1: %v", ErrUnsupportedFormat, err)
	}
	height, err := strconv.Atoi(header["dim_2"])
	if err != nil {
		return nil, fmt.Errorf("%w: Dim_2: %v", ErrUnsupportedFormat, err)
	}
	typ, ok := edfTypes[strings.ToLower(header["datatype"])]
	if !ok {
		return nil, fmt.Errorf("%w: EDF data type %q", ErrUnsupportedFormat, header["datatype"])
	}
	var order binary.ByteOrder = binary.LittleEndian
	if strings.EqualFold(header["byteorder"], "HighByteFirst") {
		order = binary.BigEndian
	}

	payload := data[end+2:]
	n := width * height
	if len(payload) < n*typ.size {
		return nil, fmt.Errorf("%w: %d bytes for %dx%d EDF image", ErrUnsupportedFormat, len(payload), width, height)
	}

	f := tofu.NewFrame(width, height)
	for i := range n {
		p := payload[i*typ.size:]
		switch {
		case typ.size == 1 && typ.signed:
			f.Data[i] = float32(int8(p[0]))
		case typ.size == 1:
			f.Data[i] = float32(p[0])
		case typ.size == 2 && typ.signed:
			f.Data[i] = float32(int16(order.Uint16(p)))
		case typ.size == 2:
			f.Data[i] = float32(order.Uint16(p))
		case typ.size == 4 && typ.float:
			f.Data[i] = math.Float32frombits(order.Uint32(p))
		case typ.size == 4 && typ.signed:
			f.Data[i] = float32(int32(order.Uint32(p)))
		case typ.size == 4:
			f.Data[i] = float32(order.Uint32(p))
		default:
			f.Data[i] = float32(math.Float64frombits(order.Uint64(p)))
		}
	}
	return f, nil
}

func decodeImage(data []byte) (*tofu.Frame, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return frameFromImage(img), nil
}
