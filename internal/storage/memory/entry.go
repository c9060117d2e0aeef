package memory

import "time"

// Entry is a stored value with an optional absolute expiry.
//
// The value variant is currently only a byte string; broader types would be
// added here as new fields alongside Value.
type Entry struct {
	Value     []byte
	ExpireAt  time.Time
	HasExpire bool
}

// Expired reports whether the entry's expiry instant has passed.
// Entries without an expiry never expire.
func (e Entry) Expired(now time.Time) bool {
	return e.HasExpire && !now.Before(e.ExpireAt)
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
