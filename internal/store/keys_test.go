package store

import (
	"errors"
	"math"
	"sort"
	"strings"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := [][]uint64{
		{0},
		{7, 0},
		{1, 2, 3},
		{math.MaxUint64, 0, 12},
	}
	for _, tuple := range cases {
		key := EncodeKey(tuple...)
		decoded, err := DecodeKey(key, len(tuple))
		if err != nil {
			t.Fatalf("decode %q: %v", key, err)
		}
		if len(decoded) != len(tuple) {
			t.Fatalf("expected %d parts, got %d", len(tuple), len(decoded))
		}
		for i := range tuple {
			if decoded[i] != tuple[i] {
				t.Fatalf("expected %v, got %v", tuple, decoded)
			}
		}
	}
}

func TestEncodedKeysSortNumerically(t *testing.T) {
	keys := []string{EncodeKey(10, 1), EncodeKey(2, 5), EncodeKey(2, 11), EncodeKey(1, 0)}
	sort.Strings(keys)
	want := []string{EncodeKey(1, 0), EncodeKey(2, 5), EncodeKey(2, 11), EncodeKey(10, 1)}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, keys)
		}
	}
}

func TestDecodeRejectsMalformedKeys(t *testing.T) {
	cases := []struct {
		name string
		key  string
		want int
	}{
		{name: "empty", key: "", want: 1},
		{name: "letters", key: "12_ab", want: 2},
		{name: "negative", key: "-1_2", want: 2},
		{name: "plus sign", key: "+1_2", want: 2},
		{name: "empty part", key: "1__2", want: 3},
		{name: "wrong arity", key: EncodeKey(1, 2, 3), want: 2},
		{name: "overflow", key: "99999999999999999999", want: 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeKey(tc.key, tc.want)
			if !errors.Is(err, ErrMalformedKey) {
				t.Fatalf("expected ErrMalformedKey, got %v", err)
			}
		})
	}
}

func TestOwnedKeyRoundTrip(t *testing.T) {
	key := OwnedKey("grader-1", 4, 1, 9)
	owner, parts, err := DecodeOwnedKey(key, 3)
	if err != nil {
		t.Fatalf("decode owned key: %v", err)
	}
	if owner != "grader-1" || parts[0] != 4 || parts[1] != 1 || parts[2] != 9 {
		t.Fatalf("unexpected decode: %s %v", owner, parts)
	}
	if _, _, err := DecodeOwnedKey(EncodeKey(4, 1, 9), 3); !errors.Is(err, ErrMalformedKey) {
		t.Fatalf("expected ErrMalformedKey for key without owner, got %v", err)
	}
}

func TestOwnerIndexKeyRoundTrip(t *testing.T) {
	for _, owner := range []string{"alice", "team/alice", "a b%"} {
		key := OwnerIndexKey(owner, 12)
		if !strings.HasPrefix(key, OwnerIndexPrefix(owner)) {
			t.Fatalf("%q: key %q lacks prefix %q", owner, key, OwnerIndexPrefix(owner))
		}
		got, parts, err := DecodeOwnerIndexKey(key, 1)
		if err != nil {
			t.Fatalf("%q: decode: %v", owner, err)
		}
		if got != owner || parts[0] != 12 {
			t.Fatalf("%q: unexpected decode: %s %v", owner, got, parts)
		}
	}
	if strings.HasPrefix(OwnerIndexKey("team/alice", 1), OwnerIndexPrefix("team")) {
		t.Fatal("expected owner team's prefix to exclude team/alice")
	}
	if _, _, err := DecodeOwnerIndexKey(EncodeKey(1), 1); !errors.Is(err, ErrMalformedKey) {
		t.Fatalf("expected ErrMalformedKey for key without owner, got %v", err)
	}
}
