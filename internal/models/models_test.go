package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPairKeyIsOrderIndependent(t *testing.T) {
	a, b := NewID(), NewID()
	assert.Equal(t, PairKey(a, b), PairKey(b, a))
	assert.NotEqual(t, PairKey(a, b), PairKey(a, NewID()))
}

func TestValidID(t *testing.T) {
	assert.True(t, ValidID(NewID()))
	assert.True(t, ValidID("65f1c2a9e4b0a1b2c3d4e5f6"))
	assert.False(t, ValidID(""))
	assert.False(t, ValidID("not-an-id"))
	assert.False(t, ValidID("65f1c2a9e4b0a1b2c3d4e5fz"))
	assert.False(t, ValidID("65f1c2a9e4b0a1b2c3d4e5f6aa"))
}

func TestConversationHasMember(t *testing.T) {
	conv := Conversation{UserIDs: []string{"a", "b"}}
	assert.True(t, conv.HasMember("a"))
	assert.False(t, conv.HasMember("c"))
}
