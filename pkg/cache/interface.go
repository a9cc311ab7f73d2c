package cache

// Store defines the operations the job pipeline needs from the scratch cache
type Store interface {
	Path(name string) string
	Remove(paths ...string)
	EnforceQuota() ([]Entry, error)
}
