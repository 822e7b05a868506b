// Package codec converts cached values to and from the bytes stored in the
// distributed cache. The local cache keeps values as-is and never encodes.
package codec

// Codec encodes and decodes values of type V.
// Implementations must be safe for concurrent use.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}
