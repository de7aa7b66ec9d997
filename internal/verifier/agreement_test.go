package verifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeTitle(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Charizard", "charizard"},
		{"  Dark Charizard!  ", "dark charizard"},
		{"Pokémon Trainer", "pokemon trainer"},
		{"Ho-Oh", "ho oh"},
		{"Farfetch'd", "farfetch d"},
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeTitle(tt.in), "input %q", tt.in)
	}
}

func TestAgreesWithPrimary(t *testing.T) {
	tests := []struct {
		name    string
		primary string
		cand    string
		want    bool
	}{
		{"exact", "Charizard", "Charizard", true},
		{"case and punctuation", "Dark Charizard", "dark charizard!", true},
		{"containment", "Charizard", "Charizard Holo", true},
		{"reverse containment", "Dark Charizard", "Charizard", true},
		{"small typo", "Blastoise", "Blastoide", true},
		{"accents", "Pokémon Trainer", "Pokemon Trainer", true},
		{"different card", "Charizard", "Blastoise", false},
		{"short title strict bound", "Mew", "Muk", false},
		{"short title one edit", "Mew", "Mew2", true},
		{"empty candidate", "Charizard", "", false},
		{"empty primary", "", "Charizard", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, agreesWithPrimary(tt.primary, tt.cand))
		})
	}
}

func TestEditDistanceWithin(t *testing.T) {
	assert.True(t, editDistanceWithin("charizard", "charizard", 0))
	assert.True(t, editDistanceWithin("charizard", "charizerd", 1))
	assert.True(t, editDistanceWithin("charizard", "charizrd", 2))
	assert.False(t, editDistanceWithin("charizard", "blastoise", 2))
	assert.False(t, editDistanceWithin("ab", "abcdef", 2), "length gap exceeds bound")
}
