package codec

import "google.golang.org/protobuf/proto"

// Protobuf encodes proto messages. New must return a fresh, empty message
// for every Decode, e.g. func() *pb.User { return new(pb.User) }.
type Protobuf[M proto.Message] struct {
	New func() M
}

func NewProtobuf[M proto.Message](newMsg func() M) Protobuf[M] {
	return Protobuf[M]{New: newMsg}
}

func (Protobuf[M]) Encode(m M) ([]byte, error) { return proto.Marshal(m) }

func (c Protobuf[M]) Decode(b []byte) (M, error) {
	m := c.New()
	if err := proto.Unmarshal(b, m); err != nil {
		var zero M
		return zero, err
	}
	return m, nil
}
