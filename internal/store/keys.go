package store

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	keyDelimiter = "_"
	keyWidth     = 20
	ownerMarker  = "/"
)

var ErrMalformedKey = errors.New("malformed key")

// EncodeKey joins the tuple into a single key. Parts are zero-padded to a
// fixed width so lexical order matches numeric order.
func EncodeKey(parts ...uint64) string {
	var b strings.Builder
	for i, part := range parts {
		if i > 0 {
			b.WriteString(keyDelimiter)
		}
		fmt.Fprintf(&b, "%0*d", keyWidth, part)
	}
	return b.String()
}

// KeyPrefix returns the prefix shared by every key whose leading parts are parts.
func KeyPrefix(parts ...uint64) string {
	if len(parts) == 0 {
		return ""
	}
	return EncodeKey(parts...) + keyDelimiter
}

// DecodeKey splits key into exactly want parts. Any malformed component is
// reported as ErrMalformedKey; nothing defaults to zero.
func DecodeKey(key string, want int) ([]uint64, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: empty key", ErrMalformedKey)
	}
	fields := strings.Split(key, keyDelimiter)
	if want > 0 && len(fields) != want {
		return nil, fmt.Errorf("%w: %q has %d parts, want %d", ErrMalformedKey, key, len(fields), want)
	}
	parts := make([]uint64, len(fields))
	for i, field := range fields {
		if field == "" || len(field) > keyWidth || !allDigits(field) {
			return nil, fmt.Errorf("%w: %q part %d", ErrMalformedKey, key, i)
		}
		value, err := strconv.ParseUint(field, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q part %d: %v", ErrMalformedKey, key, i, err)
		}
		parts[i] = value
	}
	return parts, nil
}

// OwnedKey suffixes a tuple key with a free-form owner such as a grader id.
func OwnedKey(owner string, parts ...uint64) string {
	return EncodeKey(parts...) + ownerMarker + owner
}

// DecodeOwnedKey reverses OwnedKey.
func DecodeOwnedKey(key string, want int) (string, []uint64, error) {
	tuple, owner, ok := strings.Cut(key, ownerMarker)
	if !ok || owner == "" {
		return "", nil, fmt.Errorf("%w: %q has no owner", ErrMalformedKey, key)
	}
	parts, err := DecodeKey(tuple, want)
	if err != nil {
		return "", nil, err
	}
	return owner, parts, nil
}

// OwnerIndexKey leads with the owner so one owner's entries scan as a
// contiguous range. The owner is path-escaped and never contains ownerMarker.
func OwnerIndexKey(owner string, parts ...uint64) string {
	return OwnerIndexPrefix(owner) + EncodeKey(parts...)
}

func OwnerIndexPrefix(owner string) string {
	return url.PathEscape(owner) + ownerMarker
}

// DecodeOwnerIndexKey reverses OwnerIndexKey.
func DecodeOwnerIndexKey(key string, want int) (string, []uint64, error) {
	escaped, tuple, ok := strings.Cut(key, ownerMarker)
	if !ok || escaped == "" {
		return "", nil, fmt.Errorf("%w: %q has no owner", ErrMalformedKey, key)
	}
	owner, err := url.PathUnescape(escaped)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %q owner: %v", ErrMalformedKey, key, err)
	}
	parts, err := DecodeKey(tuple, want)
	if err != nil {
		return "", nil, err
	}
	return owner, parts, nil
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
