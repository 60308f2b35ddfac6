package registry

import (
	"fmt"
	"strconv"

	"github.com/fxamacker/cbor/v2"

	"watchbot/internal/jsoncodec"
)

// Codec converts registrants and events to and from their stored bytes.
// Encoded events become part of store keys, so Encode must be stable.
type Codec[T any] interface {
	Encode(v T) ([]byte, error)
	Decode(b []byte) (T, error)
}

type StringCodec struct{}

func (StringCodec) Encode(v string) ([]byte, error) { return []byte(v), nil }
func (StringCodec) Decode(b []byte) (string, error) { return string(b), nil }

// Int64Codec stores integers as decimal text so keys stay readable.
type Int64Codec struct{}

func (Int64Codec) Encode(v int64) ([]byte, error) {
	return strconv.AppendInt(nil, v, 10), nil
}

func (Int64Codec) Decode(b []byte) (int64, error) {
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("decode int64 %q: %w", b, err)
	}
	return n, nil
}

type JSONCodec[T any] struct{}

func (JSONCodec[T]) Encode(v T) ([]byte, error) { return jsoncodec.Marshal(v) }

func (JSONCodec[T]) Decode(b []byte) (T, error) {
	var v T
	err := jsoncodec.Unmarshal(b, &v)
	return v, err
}

var cborEnc = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// CBORCodec uses core deterministic encoding so equal values always produce
// equal keys.
type CBORCodec[T any] struct{}

func (CBORCodec[T]) Encode(v T) ([]byte, error) { return cborEnc.Marshal(v) }

func (CBORCodec[T]) Decode(b []byte) (T, error) {
	var v T
	err := cbor.Unmarshal(b, &v)
	return v, err
}
