package textnorm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFold(t *testing.T) {
	cases := map[string]string{
		"Mercadona compra":     "mercadona compra",
		"  CAFÉ   con  leche ": "cafe con leche",
		"Peluquería Ñandú":     "peluqueria nandu",
		"":                     "",
	}
	for in, want := range cases {
		assert.Equal(t, want, Fold(in), in)
	}
}
