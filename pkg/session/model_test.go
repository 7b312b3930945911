package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveModel(t *testing.T) {
	tests := []struct {
		name    string
		keyword string
		want    Model
		ok      bool
	}{
		{"label A", "橘猫", ModelA, true},
		{"english A", "orange", ModelA, true},
		{"case insensitive", "ORANGE cat please", ModelA, true},
		{"label B", "切换黑猫", ModelB, true},
		{"english B", "Exotic", ModelB, true},
		{"A tested first", "orange or exotic", ModelA, true},
		{"unknown", "tabby", ModelA, false},
		{"empty", "   ", ModelA, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ResolveModel(tt.keyword)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestModelNamesAndLabels(t *testing.T) {
	assert.Equal(t, "Orange Cat", ModelA.Name())
	assert.Equal(t, "Exotic Shorthair", ModelB.Name())
	assert.Equal(t, "橘猫", ModelA.Label())
	assert.Equal(t, "黑猫", ModelB.Label())
	assert.Equal(t, "Orange Cat", Model(9).Name())
	assert.False(t, Model(9).Valid())
}
