package layercache

// Component names passed to Hooks.CircuitBreakerChanged.
const (
	ComponentDistributed = "distributed"
	ComponentBackplane   = "backplane"
)

// Auto-recovery drop reasons.
const (
	DropSuperseded = "superseded"
	DropCapacity   = "capacity"
	DropMaxRetries = "max_retries"
)

// Hooks are lightweight callbacks for cache events.
// Implementations MUST be cheap and non-blocking: the cache calls them on hot
// paths. Wrap slow sinks with hooks/async.
//
// Every GetOrSet, TryGet and GetOrDefault call reports exactly one of Hit or Miss.
type Hooks interface {
	// Hit reports a served value. stale is true when the value is a fail-safe fallback.
	Hit(opID, key string, stale bool)
	// Miss reports a call that did not find a usable cached value, including
	// calls that then ran the factory and calls that failed.
	Miss(opID, key string)

	Set(opID, key string)
	Remove(opID, key string)
	Expire(opID, key string)

	// Eviction is reported when the local store dropped key on its own.
	// reason ∈ {"expired", "capacity"}
	Eviction(key, reason string)

	FactoryError(opID, key string, err error)
	FactorySyntheticTimeout(opID, key string)
	FailSafeActivated(opID, key string)
	BackgroundFactorySuccess(opID, key string)
	BackgroundFactoryError(opID, key string, err error)

	DistributedError(opID, key string, err error)
	CircuitBreakerChanged(component string, open bool)

	BackplanePublished(opID, key, kind string)
	BackplaneReceived(key, kind string)

	AutoRecoveryEnqueued(key string)
	AutoRecoveryReplayed(key string)
	AutoRecoveryDropped(key, reason string)
}

// NopHooks is the default no-op.
type NopHooks struct{}

func (NopHooks) Hit(string, string, bool)                     {}
func (NopHooks) Miss(string, string)                          {}
func (NopHooks) Set(string, string)                           {}
func (NopHooks) Remove(string, string)                        {}
func (NopHooks) Expire(string, string)                        {}
func (NopHooks) Eviction(string, string)                      {}
func (NopHooks) FactoryError(string, string, error)           {}
func (NopHooks) FactorySyntheticTimeout(string, string)       {}
func (NopHooks) FailSafeActivated(string, string)             {}
func (NopHooks) BackgroundFactorySuccess(string, string)      {}
func (NopHooks) BackgroundFactoryError(string, string, error) {}
func (NopHooks) DistributedError(string, string, error)       {}
func (NopHooks) CircuitBreakerChanged(string, bool)           {}
func (NopHooks) BackplanePublished(string, string, string)    {}
func (NopHooks) BackplaneReceived(string, string)             {}
func (NopHooks) AutoRecoveryEnqueued(string)                  {}
func (NopHooks) AutoRecoveryReplayed(string)                  {}
func (NopHooks) AutoRecoveryDropped(string, string)           {}
