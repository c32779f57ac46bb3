// Package simhash fingerprints snapshot text so repeated snapshots of a tab
// can report whether the page changed.
package simhash

import (
	"hash/fnv"
	"math/bits"
	"strconv"
	"strings"
)

// shingleSize is the number of consecutive words hashed together.
const shingleSize = 2

// Fingerprint computes a 64-bit SimHash of text over lowercased word
// shingles. Texts shorter than one shingle hash their words individually.
// Empty text returns 0.
func Fingerprint(text string) uint64 {
	words := strings.Fields(strings.ToLower(text))
	if len(words) == 0 {
		return 0
	}

	features := words
	if len(words) >= shingleSize {
		features = make([]string, 0, len(words)-shingleSize+1)
		for i := 0; i+shingleSize <= len(words); i++ {
			features = append(features, strings.Join(words[i:i+shingleSize], " "))
		}
	}

	var vector [64]int
	h := fnv.New64a()
	for _, f := range features {
		h.Reset()
		h.Write([]byte(f))
		sum := h.Sum64()
		for i := range 64 {
			if sum&(1<<uint(i)) != 0 {
				vector[i]++
			} else {
				vector[i]--
			}
		}
	}

	var fp uint64
	for i, v := range vector {
		if v > 0 {
			fp |= 1 << uint(i)
		}
	}
	return fp
}

// Hex formats a fingerprint as 16 lowercase hex digits.
func Hex(fp uint64) string {
	s := strconv.FormatUint(fp, 16)
	return strings.Repeat("0", 16-len(s)) + s
}

// Distance returns the Hamming distance between two fingerprints.
func Distance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

// Similar reports whether a and b differ in at most threshold bits.
func Similar(a, b uint64, threshold int) bool {
	return Distance(a, b) <= threshold
}
