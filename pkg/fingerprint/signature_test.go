package fingerprint_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xrgarcia/jerky-shipping-sub001/pkg/fingerprint"
)

func TestBuildSignature_MatchesWorkedExample(t *testing.T) {
	sig := fingerprint.BuildSignature(map[string]int{"C_JERKY": 8}, 104)
	assert.Equal(t, `{"C_JERKY":8,"weight":104}`, sig)
}

func TestBuildSignature_StableUnderMapOrdering(t *testing.T) {
	a := fingerprint.BuildSignature(map[string]int{"C_JERKY": 8, "C_CHIPS": 2}, 12.34)
	b := fingerprint.BuildSignature(map[string]int{"C_CHIPS": 2, "C_JERKY": 8}, 12.34)
	assert.Equal(t, a, b)
	assert.Equal(t, fingerprint.SignatureHash(a), fingerprint.SignatureHash(b))
}

func TestSignatureHash_Is32HexChars(t *testing.T) {
	h := fingerprint.SignatureHash(`{"weight":1}`)
	assert.Len(t, h, 32)
	for _, c := range h {
		assert.True(t, (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f'))
	}
}

func TestRound1dp(t *testing.T) {
	assert.Equal(t, 1.3, fingerprint.Round1dp(1.25+0.05))
	assert.Equal(t, 104.0, fingerprint.Round1dp(103.95+0.049999))
}
