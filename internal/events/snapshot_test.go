package events

import (
	"net"
	"reflect"
	"testing"
	"time"
)

func TestSnapshot(t *testing.T) {
	ts := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	var nilTime *time.Time

	got := Snapshot(map[string]any{
		"id":         1,
		"created_at": ts,
		"updated_at": ts,
		"title":      "T",
		"active":     true,
		"count":      3,
		"submitted":  ts,
		"deadline":   nilTime,
		"supervisor": Related{ID: "8", Display: "Prof. X"},
		"tags":       []string{"a", "b"},
		"meta":       map[string]any{"when": ts},
		"host":       net.IPv4(10, 0, 0, 1),
		"empty":      nil,
	})

	want := map[string]any{
		"title":      "T",
		"active":     true,
		"count":      3,
		"submitted":  "2025-01-02T03:04:05Z",
		"deadline":   nil,
		"supervisor": map[string]any{"id": "8", "str": "Prof. X"},
		"tags":       []any{"a", "b"},
		"meta":       map[string]any{"when": "2025-01-02T03:04:05Z"},
		"host":       "10.0.0.1",
		"empty":      nil,
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Snapshot():\n got %#v\nwant %#v", got, want)
	}
}

func TestSnapshot_nil(t *testing.T) {
	if got := Snapshot(nil); got == nil || len(got) != 0 {
		t.Errorf("Snapshot(nil) = %#v, want empty map", got)
	}
}
