package shared

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNameKey(t *testing.T) {
	assert.Equal(t, "jose da silva", NameKey("José  DA Silva"))
	assert.Equal(t, NameKey("JOÃO"), NameKey("joao"))
	assert.Equal(t, "", NameKey("   "))
}

func TestDigitsOnly(t *testing.T) {
	assert.Equal(t, "12345678000190", DigitsOnly("12.345.678/0001-90"))
	assert.Equal(t, "", DigitsOnly("abc"))
}

func TestTrimLeadingZeros(t *testing.T) {
	assert.Equal(t, "42", TrimLeadingZeros("00042"))
	assert.Equal(t, "42", TrimLeadingZeros(" 42 "))
	assert.Equal(t, "0", TrimLeadingZeros("000"))
	assert.Equal(t, "", TrimLeadingZeros(""))
}
