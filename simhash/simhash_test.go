package simhash

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprintIdenticalTexts(t *testing.T) {
	text := "the quick brown fox jumps over the lazy dog"
	assert.Equal(t, Fingerprint(text), Fingerprint(text))
}

func TestFingerprintIgnoresCaseAndSpacing(t *testing.T) {
	assert.Equal(t,
		Fingerprint("Breaker   Panel\nInspected"),
		Fingerprint("breaker panel inspected"),
	)
}

func TestFingerprintSimilarTexts(t *testing.T) {
	words := make([]string, 300)
	for i := range words {
		words[i] = fmt.Sprintf("reading%d", i)
	}
	a := Fingerprint(strings.Join(words, " "))
	words[150] = "changed"
	b := Fingerprint(strings.Join(words, " "))

	assert.LessOrEqual(t, Distance(a, b), 16)
}

func TestFingerprintDifferentTexts(t *testing.T) {
	a := Fingerprint("the quick brown fox jumps over the lazy dog")
	b := Fingerprint("completely unrelated content about quantum physics and mathematics")

	assert.GreaterOrEqual(t, Distance(a, b), 5)
}

func TestFingerprintEmpty(t *testing.T) {
	assert.Zero(t, Fingerprint(""))
	assert.Zero(t, Fingerprint("   \n\t"))
	assert.NotZero(t, Fingerprint("single"))
}

func TestHex(t *testing.T) {
	assert.Equal(t, "0000000000000000", Hex(0))
	assert.Equal(t, "00000000000000ff", Hex(0xff))
	assert.Equal(t, "ffffffffffffffff", Hex(^uint64(0)))
}

func TestSimilar(t *testing.T) {
	assert.True(t, Similar(0b1011, 0b1001, 1))
	assert.False(t, Similar(0b1011, 0b0100, 3))
	assert.Equal(t, 4, Distance(0b1011, 0b0100))
}
