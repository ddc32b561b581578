package teamsync

import (
	"time"
)

// UpdatedAtField is the column carrying a record's last-modified instant.
const UpdatedAtField = "updated_at"

// Compile-time check to ensure LastWriteWins satisfies the Resolver interface
var _ Resolver = (*LastWriteWins)(nil)

// LastWriteWins resolves a conflict between two representations of the same
// logical record by comparing their updated_at instants. The side with the
// strictly greater timestamp wins; on equality the local copy wins,
// preserving the most recently attempted local intent. Resolution is
// whole-record: fields of the losing side are discarded, never merged.
type LastWriteWins struct{}

// Resolve returns the winning record.
func (LastWriteWins) Resolve(local, remote Record) Record {
	localAt, _ := ParseUpdatedAt(local[UpdatedAtField])
	remoteAt, ok := ParseUpdatedAt(remote[UpdatedAtField])
	if !ok {
		return local
	}
	if remoteAt.After(localAt) {
		return remote
	}
	return local
}

// timestampLayouts are tried in order when updated_at arrives as a string.
// Hosted backends emit RFC 3339 with or without fractional seconds; the
// local store may hold the space-separated SQL form.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseUpdatedAt normalizes an updated_at value to a comparable instant.
// It accepts time.Time, RFC 3339 style strings and epoch milliseconds, so
// that string and native inputs compare identically. The second return is
// false when the value is absent or unparseable.
func ParseUpdatedAt(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return t.UTC(), true
	case string:
		for _, layout := range timestampLayouts {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed.UTC(), true
			}
		}
		return time.Time{}, false
	case int64:
		return time.UnixMilli(t).UTC(), true
	case int:
		return time.UnixMilli(int64(t)).UTC(), true
	case float64:
		return time.UnixMilli(int64(t)).UTC(), true
	default:
		return time.Time{}, false
	}
}
