package pagination

import (
	"net/url"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestPageSizeBounds(t *testing.T) {
	cases := map[int]int{0: DefaultLimit, -3: DefaultLimit, 10: 10, MaxLimit: MaxLimit, 500: MaxLimit}
	for in, want := range cases {
		if got := (Params{Limit: in}).PageSize(); got != want {
			t.Fatalf("limit %d: got %d want %d", in, got, want)
		}
	}
}

func TestCursorSurvivesQueryString(t *testing.T) {
	c := Cursor{CreatedAt: time.Date(2026, 10, 3, 12, 0, 0, 123456789, time.UTC), ID: uuid.New()}
	encoded := c.Encode()
	if url.QueryEscape(encoded) != encoded {
		t.Fatalf("cursor %q needs escaping", encoded)
	}

	got, err := Params{Cursor: encoded}.Decode()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.CreatedAt.Equal(c.CreatedAt) || got.ID != c.ID {
		t.Fatalf("cursor mismatch: %+v vs %+v", got, c)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if c, err := (Params{}).Decode(); c != nil || err != nil {
		t.Fatalf("empty cursor is the first page, got %v %v", c, err)
	}
	for _, bad := range []string{"%%%", "bm8tc2VwYXJhdG9y", "eHx5"} {
		if _, err := (Params{Cursor: bad}).Decode(); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}
