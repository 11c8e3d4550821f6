package keys

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "bare key", input: "bank", expected: "/bank"},
		{name: "leading slash", input: "/bank", expected: "/bank"},
		{name: "nested", input: "/bank/accounts/12", expected: "/bank/accounts/12"},
		{name: "double slashes collapse", input: "//bank///accounts", expected: "/bank/accounts"},
		{name: "trailing slash", input: "/bank/", expected: "/bank"},
		{name: "empty", input: "", expected: "/"},
		{name: "root", input: "/", expected: "/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, New(tt.input).String())
		})
	}
}

func TestChild(t *testing.T) {
	k := New("/comedy/montypython")
	assert.Equal(t, "/comedy/montypython/actor", k.Child("actor").String())
	assert.Equal(t, "/solo", New("/").Child("solo").String())
}

func TestList(t *testing.T) {
	assert.Equal(t, []string{"comedy", "montypython", "actor"}, New("/comedy/montypython/actor").List())
	assert.Nil(t, New("/").List())
}

func TestIsTopLevel(t *testing.T) {
	assert.True(t, New("/bank").IsTopLevel())
	assert.False(t, New("/bank/accounts").IsTopLevel())
	assert.False(t, New("/").IsTopLevel())
}

func TestEqual(t *testing.T) {
	assert.True(t, New("bank").Equal(New("/bank")))
	assert.False(t, New("/bank").Equal(New("/bank/accounts")))
}
