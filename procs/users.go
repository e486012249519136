package procs

import (
	"os/user"
	"strconv"
)

// UserCache resolves uids to login names, memoizing lookups since the same
// handful of uids repeats across the whole process table.
type UserCache struct {
	names map[uint32]string
}

func NewUserCache() *UserCache {
	return &UserCache{names: map[uint32]string{}}
}

// Name returns the login name for uid, or its decimal form when the uid
// has no passwd entry.
func (c *UserCache) Name(uid uint32) string {
	if n, ok := c.names[uid]; ok {
		return n
	}
	n := strconv.FormatUint(uint64(uid), 10)
	if u, err := user.LookupId(n); err == nil && u.Username != "" {
		n = u.Username
	}
	c.names[uid] = n
	return n
}
