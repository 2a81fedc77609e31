package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// volatileFields are bookkeeping columns left out of every snapshot.
var volatileFields = map[string]bool{
	"id":         true,
	"created_at": true,
	"updated_at": true,
}

// Related is a reference to another entity as it appears in a snapshot.
// It renders as {"id": ..., "str": ...}.
type Related struct {
	ID      string
	Display string
}

// Snapshot serializes an entity's fields for recording. Volatile fields are
// dropped, times become RFC 3339 strings, related entities become
// {"id","str"} objects and anything else that is not a JSON scalar, list or
// object is rendered with fmt.
func Snapshot(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if volatileFields[k] {
			continue
		}
		out[k] = snapshotValue(v)
	}
	return out
}

func snapshotValue(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case time.Time:
		if t.IsZero() {
			return nil
		}
		return t.Format(time.RFC3339Nano)
	case *time.Time:
		if t == nil {
			return nil
		}
		return snapshotValue(*t)
	case Related:
		return map[string]any{"id": t.ID, "str": t.Display}
	case *Related:
		if t == nil {
			return nil
		}
		return snapshotValue(*t)
	case string, bool, json.Number,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return t
	case []string:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = e
		}
		return s
	case []any:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = snapshotValue(e)
		}
		return s
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = snapshotValue(e)
		}
		return m
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}
