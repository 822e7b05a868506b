package codec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type user struct {
	ID      int       `json:"id" msgpack:"id" cbor:"id"`
	Name    string    `json:"name" msgpack:"name" cbor:"name"`
	Created time.Time `json:"created" msgpack:"created" cbor:"created"`
}

func roundTrip[V any](t *testing.T, c Codec[V], v V) V {
	t.Helper()
	b, err := c.Encode(v)
	require.NoError(t, err)
	out, err := c.Decode(b)
	require.NoError(t, err)
	return out
}

func TestStructCodecs(t *testing.T) {
	in := user{ID: 7, Name: "ada", Created: time.Date(2024, 1, 2, 3, 4, 5, 6, time.UTC)}

	cbor, err := NewCBOR[user](true)
	require.NoError(t, err)

	for name, c := range map[string]Codec[user]{
		"json":    JSON[user]{},
		"msgpack": Msgpack[user]{},
		"cbor":    cbor,
	} {
		t.Run(name, func(t *testing.T) {
			out := roundTrip(t, c, in)
			assert.Equal(t, in.ID, out.ID)
			assert.Equal(t, in.Name, out.Name)
			assert.True(t, in.Created.Equal(out.Created))
		})
	}
}

func TestCBORDeterministic(t *testing.T) {
	c, err := NewCBOR[map[string]int](true)
	require.NoError(t, err)
	a, err := c.Encode(map[string]int{"b": 2, "a": 1, "c": 3})
	require.NoError(t, err)
	b, err := c.Encode(map[string]int{"c": 3, "a": 1, "b": 2})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestProtobuf(t *testing.T) {
	c := NewProtobuf(func() *wrapperspb.StringValue { return new(wrapperspb.StringValue) })
	out := roundTrip[*wrapperspb.StringValue](t, c, wrapperspb.String("hello"))
	assert.Equal(t, "hello", out.GetValue())

	_, err := c.Decode([]byte{0xff, 0xff})
	assert.Error(t, err)
}

func TestLimit(t *testing.T) {
	c := Limit[string]{Inner: String{}, Max: 4}

	b, err := c.Encode("too long")
	require.NoError(t, err, "encode is never limited")

	_, err = c.Decode(b)
	assert.ErrorIs(t, err, ErrTooLarge)

	v, err := c.Decode([]byte("ok"))
	require.NoError(t, err)
	assert.Equal(t, "ok", v)

	unlimited := Limit[string]{Inner: String{}}
	v, err = unlimited.Decode(b)
	require.NoError(t, err)
	assert.Equal(t, "too long", v)
}

func TestBytesDecodeCopies(t *testing.T) {
	src := []byte("abc")
	out, err := Bytes{}.Decode(src)
	require.NoError(t, err)
	src[0] = 'X'
	assert.Equal(t, []byte("abc"), out)
}
