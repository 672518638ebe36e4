package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCatalog(t *testing.T) {
	open := New()
	assert.True(t, open.ItemExists("anything"))
	assert.False(t, open.ItemExists(" "))

	c := New("iron_bar", " gold_bar ", "")
	assert.True(t, c.ItemExists("gold_bar"))
	assert.False(t, c.ItemExists("rune_ore"))
	assert.Equal(t, []string{"gold_bar", "iron_bar"}, c.Items())
}
