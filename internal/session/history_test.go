package session

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistory_EvictsOldestAtCapacityPlusOne(t *testing.T) {
	h := NewHistory(8)
	for i := 1; i <= 9; i++ {
		h.Push(Exchange{UserText: fmt.Sprintf("q%d", i), DocText: fmt.Sprintf("a%d", i)})
	}

	items := h.Items()
	require.Len(t, items, 8)
	assert.Equal(t, "q2", items[0].UserText)
	assert.Equal(t, "q9", items[7].UserText)

	last, ok := h.Last()
	require.True(t, ok)
	assert.Equal(t, "a9", last.DocText)
}

func TestHistory_BelowCapacityKeepsAll(t *testing.T) {
	h := NewHistory(8)
	for i := 0; i < 8; i++ {
		h.Push(Exchange{UserText: fmt.Sprint(i)})
	}
	assert.Equal(t, 8, h.Len())
	assert.Equal(t, "0", h.Items()[0].UserText)
}

func TestHistory_ItemsIsACopy(t *testing.T) {
	h := NewHistory(2)
	h.Push(Exchange{UserText: "original"})

	items := h.Items()
	items[0].UserText = "changed"

	assert.Equal(t, "original", h.Items()[0].UserText)
}

func TestHistory_Empty(t *testing.T) {
	h := NewHistory(0)
	_, ok := h.Last()
	assert.False(t, ok)

	h.Push(Exchange{UserText: "a"})
	h.Push(Exchange{UserText: "b"})
	assert.Equal(t, []Exchange{{UserText: "b"}}, h.Items())
}
