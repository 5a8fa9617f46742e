package xid

import "github.com/google/uuid"

// New returns prefix-<uuid v7>. V7 ids sort by creation time, which keeps
// ledger listings stable when two entries share a timestamp.
func New(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return prefix + "-" + id.String()
}
