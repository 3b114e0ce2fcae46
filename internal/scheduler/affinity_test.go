package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchesNode(t *testing.T) {
	tests := []struct {
		affinity string
		node     string
		want     bool
	}{
		{"", "node-a", true},
		{"*", "node-a", true},
		{"node-a", "node-a", true},
		{"node-a", "node-b", false},
		{"worker-*", "worker-12", true},
		{"worker-*", "api-1", false},
		{"worker-?", "worker-1", true},
		{"worker-?", "worker-10", false},
		{"{api,web}-*", "web-3", true},
		{"worker-[", "worker-[", true},
		{"worker-[", "worker-1", false},
	}

	for _, tt := range tests {
		t.Run(tt.affinity+"/"+tt.node, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchesNode(tt.affinity, tt.node))
		})
	}
}

func TestValidateAffinity(t *testing.T) {
	assert.NoError(t, ValidateAffinity(""))
	assert.NoError(t, ValidateAffinity("node-a"))
	assert.NoError(t, ValidateAffinity("worker-*"))
	assert.Error(t, ValidateAffinity("worker-["))
}
