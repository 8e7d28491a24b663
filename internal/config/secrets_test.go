package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveSecretDeterministic(t *testing.T) {
	master := []byte("root-secret-value")
	a := DeriveSecret(master, "challenge")
	b := DeriveSecret(master, "challenge")
	assert.Equal(t, a, b)
	assert.Len(t, a, 32)
}

func TestDeriveSecretLabelsDiverge(t *testing.T) {
	master := []byte("root-secret-value")
	challenge := DeriveSecret(master, "challenge")
	maze := DeriveSecret(master, "maze-route")
	assert.NotEqual(t, challenge, maze)
}

func TestDeriveSecretMastersDiverge(t *testing.T) {
	a := DeriveSecret([]byte("root-a"), "challenge")
	b := DeriveSecret([]byte("root-b"), "challenge")
	assert.NotEqual(t, a, b)
}
