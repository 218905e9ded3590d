// Copyright (C) 2024 Cask Storage, Inc.
// See LICENSE for copying information.

// Package versionid generates sortable object version identifiers.
//
// A version id is the concatenation of a reversed millisecond timestamp
// (14 digits), a reversed per-millisecond sequence number (6 digits) and a
// fixed-width site identifier. Reversing the numeric components makes newer
// ids sort lexicographically before older ones, so a plain ascending key
// scan over version keys yields versions newest-first.
package versionid

import (
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/zeebo/errs"
)

const (
	lengthTS   = 14
	lengthSeq  = 6
	lengthSite = 5

	maxTS  = 1e14 - 1
	maxSeq = 1e6 - 1
)

// Error is the class of version id encoding errors.
var Error = errs.Class("versionid")

// Null is the client-facing sentinel addressing the null version.
const Null = "null"

// Inf returns the reserved "infinite" version id for the given site: the id
// that sorts after every real version id, used to archive the version that
// predates versioning and has no id of its own.
func Inf(site string) string {
	return fmt.Sprintf("%0*d%0*d%s", lengthTS, int64(maxTS), lengthSeq, int64(maxSeq), padSite(site))
}

func padSite(site string) string {
	padded := site + "     "
	return padded[:lengthSite]
}

// Generator produces unique version ids for a single site. Ids generated by
// the same Generator never collide: requests landing in the same millisecond
// are disambiguated by the sequence number.
type Generator struct {
	site string

	mu      sync.Mutex
	prevTS  int64
	prevSeq int64
}

// NewGenerator constructs a Generator with the given site identifier. The
// site is trimmed or space-padded to five bytes.
func NewGenerator(site string) *Generator {
	return &Generator{site: padSite(site)}
}

// Generate returns the next version id.
func (gen *Generator) Generate() string {
	gen.mu.Lock()
	defer gen.mu.Unlock()

	ts := time.Now().UnixMilli()
	if ts == gen.prevTS {
		gen.prevSeq++
	} else {
		gen.prevSeq = 0
	}
	gen.prevTS = ts

	return fmt.Sprintf("%0*d%0*d%s",
		lengthTS, int64(maxTS)-ts,
		lengthSeq, int64(maxSeq)-gen.prevSeq,
		gen.site)
}

// Encode returns the client-facing form of a raw version id. Ids are opaque
// to clients; the encoding exists so that raw ids, which may contain spaces,
// survive query strings and XML untouched.
func Encode(id string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(id))
}

// Decode parses a client-supplied version id back to its raw form. The Null
// sentinel passes through unchanged.
func Decode(encoded string) (string, error) {
	if encoded == Null {
		return Null, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", Error.New("invalid version id specified")
	}
	if len(raw) < lengthTS+lengthSeq+lengthSite {
		return "", Error.New("invalid version id specified")
	}
	return string(raw), nil
}
