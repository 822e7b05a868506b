// Package layercache implements a two-level cache: a local in-process level
// (L1) in front of an optional distributed store (L2), kept coherent across
// nodes by an optional pub/sub backplane.
//
// Components:
//   - localstore.Store: the local level (ristretto by default).
//   - provider.Provider: byte store with TTL shared by all nodes (e.g. Redis).
//   - codec.Codec[V]: (de)serializes V <-> []byte for the distributed level.
//   - backplane.Backplane: pub/sub used to tell other nodes a key changed.
//
// GetOrSet runs the factory at most once per key at a time. With fail-safe
// enabled, entries outlive their logical expiration so a stale value can be
// served when the factory fails or is too slow:
//
//	v, err := cache.GetOrSet(ctx, "user:1", func(ctx context.Context, fc *layercache.FactoryContext[User]) (User, error) {
//		return db.LoadUser(ctx, 1)
//	}, layercache.WithDuration(time.Minute), layercache.WithFailSafe(true, time.Hour, 30*time.Second))
//
// Distributed keys:
//
//	<cache name>:<key>
//
// Backplane channel:
//
//	<channel prefix or cache name>.backplane
//
// Notifications that cannot be delivered are kept by an auto-recovery queue
// (one per key, newest wins) and replayed once the store and the backplane are
// usable again.
package layercache
