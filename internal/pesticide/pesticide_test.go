package pesticide

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_Lookup(t *testing.T) {
	table := Default()

	tests := []struct {
		crop string
		want []string
	}{
		{"rice", []string{"Carbofuran", "Imidacloprid"}},
		{"RICE", []string{"Carbofuran", "Imidacloprid"}},
		{"Maize", []string{"Atrazine", "Glyphosate"}},
		{" wheat ", []string{"2,4-D", "Mancozeb"}},
		{"barley", []string{"General Insecticide"}},
		{"", []string{"General Insecticide"}},
	}
	for _, tc := range tests {
		t.Run(tc.crop, func(t *testing.T) {
			assert.Equal(t, tc.want, table.Lookup(tc.crop))
		})
	}
}

func TestLookup_ReturnsCopy(t *testing.T) {
	table := Default()
	got := table.Lookup("rice")
	got[0] = "mutated"
	assert.Equal(t, "Carbofuran", table.Lookup("rice")[0])

	fb := table.Lookup("unknown")
	fb[0] = "mutated"
	assert.Equal(t, "General Insecticide", table.Lookup("unknown")[0])
}

func TestNew_Overrides(t *testing.T) {
	table, err := New(map[string][]string{
		"Cotton": {"Spinosad", " "},
		"wheat":  {},
		"rice":   {"Buprofezin"},
	}, []string{"Neem Oil"})
	require.NoError(t, err)

	assert.Equal(t, []string{"Spinosad"}, table.Lookup("cotton"))
	assert.Equal(t, []string{"Buprofezin"}, table.Lookup("rice"))
	assert.Equal(t, []string{"Neem Oil"}, table.Lookup("wheat"))
	assert.Equal(t, []string{"Atrazine", "Glyphosate"}, table.Lookup("maize"))
	assert.Equal(t, 3, table.Crops())
}

func TestNew_EmptyFallbackRejected(t *testing.T) {
	_, err := New(nil, []string{" "})
	assert.ErrorIs(t, err, ErrEmptyFallback)

	_, err = New(nil, []string{})
	assert.ErrorIs(t, err, ErrEmptyFallback)
}
