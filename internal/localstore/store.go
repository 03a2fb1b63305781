package localstore

// Store is the local durable store consumed by the sync core.
//
// Get returns ok=false for a missing key. Keys returns every key starting
// with prefix in ascending byte order.
type Store interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
	Remove(key string) error
	Keys(prefix string) ([]string, error)
}
