package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLocalized_In(t *testing.T) {
	l := Localized{EN: "Mug", NO: "Krus"}
	assert.Equal(t, "Krus", l.In("no"))
	assert.Equal(t, "Krus", l.In("NO"))
	assert.Equal(t, "Mug", l.In("en"))
	assert.Equal(t, "Mug", l.In("de"))
	assert.Equal(t, "Mug", Localized{EN: "Mug"}.In("no"))
}
