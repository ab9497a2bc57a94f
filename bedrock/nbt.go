package bedrock

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"reflect"

	"github.com/INLOpen/chunkbridge/world"
	"github.com/sandertv/gophertunnel/minecraft/nbt"
)

var (
	byteType  = reflect.TypeOf(byte(0))
	int32Type = reflect.TypeOf(int32(0))
	int64Type = reflect.TypeOf(int64(0))
)

// Normalize rewrites a decoded Java tag into values the little-endian
// encoder accepts: signed bytes and booleans become bytes, byte/int/long
// slices become fixed arrays, plain ints become int32.
func Normalize(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = Normalize(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = Normalize(e)
		}
		return out
	case []map[string]any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = Normalize(e)
		}
		return out
	case int8:
		return uint8(x)
	case bool:
		if x {
			return uint8(1)
		}
		return uint8(0)
	case int:
		return int32(x)
	case []byte:
		return toArray(reflect.ValueOf(x), byteType)
	case []int8:
		b := make([]byte, len(x))
		for i := range x {
			b[i] = byte(x[i])
		}
		return toArray(reflect.ValueOf(b), byteType)
	case []int32:
		return toArray(reflect.ValueOf(x), int32Type)
	case []int64:
		return toArray(reflect.ValueOf(x), int64Type)
	case []float64:
		out := make([]any, len(x))
		for i := range x {
			out[i] = x[i]
		}
		return out
	case []float32:
		out := make([]any, len(x))
		for i := range x {
			out[i] = x[i]
		}
		return out
	case []string:
		out := make([]any, len(x))
		for i := range x {
			out[i] = x[i]
		}
		return out
	}
	return v
}

func toArray(slice reflect.Value, elem reflect.Type) any {
	arr := reflect.New(reflect.ArrayOf(slice.Len(), elem)).Elem()
	reflect.Copy(arr, slice)
	return arr.Interface()
}

// Marshal encodes a compound in Bedrock's little-endian NBT.
func Marshal(t world.Tag) ([]byte, error) {
	return nbt.MarshalEncoding(Normalize(t), nbt.LittleEndian)
}

// Unmarshal decodes a little-endian compound.
func Unmarshal(data []byte) (world.Tag, error) {
	var t map[string]any
	if err := nbt.UnmarshalEncoding(data, &t, nbt.LittleEndian); err != nil {
		return nil, err
	}
	return t, nil
}

// EncodeTags concatenates compounds, the layout of block entity records.
func EncodeTags(tags []world.Tag) ([]byte, error) {
	var buf bytes.Buffer
	enc := nbt.NewEncoderWithEncoding(&buf, nbt.LittleEndian)
	for i, t := range tags {
		if err := enc.Encode(Normalize(t)); err != nil {
			return nil, fmt.Errorf("encode compound %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// DecodeTags reverses EncodeTags.
func DecodeTags(data []byte) ([]world.Tag, error) {
	r := bytes.NewReader(data)
	dec := nbt.NewDecoderWithEncoding(r, nbt.LittleEndian)
	var out []world.Tag
	for r.Len() > 0 {
		var t map[string]any
		if err := dec.Decode(&t); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return out, err
		}
		out = append(out, t)
	}
	return out, nil
}
