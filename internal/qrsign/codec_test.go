package qrsign

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("cle-de-test-suffisamment-longue-0123456789")

func sampleFields() Fields {
	return Fields{
		Numero:    "ATT-2026-00001",
		Nom:       "ABDOU",
		Prenom:    "Moussa",
		DateNaiss: time.Date(1998, 3, 14, 0, 0, 0, 0, time.UTC),
		ArreteRef: "ARR-2024-117",
		DateEmis:  time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC),
	}
}

func TestBuildDeterministe(t *testing.T) {
	a := Build(sampleFields(), testKey)
	b := Build(sampleFields(), testKey)
	assert.Equal(t, a, b)

	rawA, err := a.Encode()
	require.NoError(t, err)
	rawB, err := b.Encode()
	require.NoError(t, err)
	assert.Equal(t, rawA, rawB)
}

func TestVerifyRoundTrip(t *testing.T) {
	p := Build(sampleFields(), testKey)

	raw, err := p.Encode()
	require.NoError(t, err)
	decoded, err := Decode(raw)
	require.NoError(t, err)

	res := Verify(decoded, testKey)
	assert.True(t, res.Valid, res.Reason)
}

func TestVerifyDetecteAlteration(t *testing.T) {
	base := Build(sampleFields(), testKey)

	mutations := map[string]func(p *Payload){
		"nom":    func(p *Payload) { p.Nom = "ABDOV" },
		"prenom": func(p *Payload) { p.Prenom = "Maussa" },
		"dn":     func(p *Payload) { p.DateNaiss = "1998-03-15" },
		"arr":    func(p *Payload) { p.ArreteRef = "ARR-2024-118" },
		"dt":     func(p *Payload) { p.DateEmis = "2026-02-03" },
		"n":      func(p *Payload) { p.Numero = "ATT-2026-00002" },
	}

	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			p := base
			mutate(&p)
			res := Verify(p, testKey)
			assert.False(t, res.Valid)
		})
	}
}

func TestVerifyDigestEtranger(t *testing.T) {
	a := Build(sampleFields(), testKey)

	other := sampleFields()
	other.Numero = "ATT-2026-00002"
	other.Nom = "ISSOUFOU"
	b := Build(other, testKey)

	// Le digest de A greffé sur les champs de B doit échouer.
	b.Digest = a.Digest
	res := Verify(b, testKey)
	assert.False(t, res.Valid)
}

func TestVerifyRefuseFrontieresDecalees(t *testing.T) {
	// Un nom contenant un délimiteur plausible ne doit pas permettre de
	// déplacer la frontière entre deux champs en conservant le digest.
	f := sampleFields()
	f.Nom = "B|nom=C"
	p := Build(f, testKey)
	require.True(t, Verify(p, testKey).Valid)

	forge := p
	forge.Numero = p.Numero + "|nom=B"
	forge.Nom = "C"
	assert.False(t, Verify(forge, testKey).Valid)

	// Même manoeuvre avec une valeur imitant du JSON.
	f = sampleFields()
	f.Prenom = `","dn":"1990-01-01`
	p = Build(f, testKey)
	require.True(t, Verify(p, testKey).Valid)
	decode, err := Decode(mustEncode(t, p))
	require.NoError(t, err)
	assert.Equal(t, f.Prenom, decode.Prenom)
}

func mustEncode(t *testing.T, p Payload) []byte {
	t.Helper()
	raw, err := p.Encode()
	require.NoError(t, err)
	return raw
}

func TestVerifyEntreesMalformees(t *testing.T) {
	cases := map[string]Payload{
		"vide":              {},
		"sans digest":       BuildUnsigned(sampleFields()),
		"digest non hexa":   func() Payload { p := Build(sampleFields(), testKey); p.Digest = "zzzz"; return p }(),
		"digest trop court": func() Payload { p := Build(sampleFields(), testKey); p.Digest = "abcd"; return p }(),
		"numero absent":     func() Payload { p := Build(sampleFields(), testKey); p.Numero = ""; return p }(),
	}

	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			res := Verify(p, testKey)
			assert.False(t, res.Valid)
			assert.NotEmpty(t, res.Reason)
		})
	}
}

func TestVerifyMauvaiseCle(t *testing.T) {
	p := Build(sampleFields(), testKey)
	res := Verify(p, []byte("autre-cle-0123456789012345678901234567"))
	assert.False(t, res.Valid)
}

func TestDecodeIllisible(t *testing.T) {
	_, err := Decode([]byte("pas du json"))
	assert.Error(t, err)
}

func TestFreshness(t *testing.T) {
	now := time.Now()
	code := "ATT-2026-00042"
	sig := FreshnessToken(code, now, testKey)
	tsStr := timeToUnixString(now)

	assert.True(t, CheckFreshness(code, sig, tsStr, testKey, 10*time.Minute))
	assert.False(t, CheckFreshness(code, sig, tsStr, []byte("autre-cle-012345678901234567890123456"), 10*time.Minute))
	assert.False(t, CheckFreshness("ATT-2026-00043", sig, tsStr, testKey, 10*time.Minute))
	assert.False(t, CheckFreshness(code, sig, "pas-un-nombre", testKey, 10*time.Minute))
	assert.False(t, CheckFreshness(code, "", "", testKey, 10*time.Minute))

	old := now.Add(-time.Hour)
	assert.False(t, CheckFreshness(code, FreshnessToken(code, old, testKey), timeToUnixString(old), testKey, 10*time.Minute))
}

func timeToUnixString(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}
