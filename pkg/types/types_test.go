package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseToolVersion(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		want   ToolVersion
		wantOK bool
	}{
		{name: "plain", input: "tinymist 1.2.3", want: ToolVersion{1, 2, 3}, wantOK: true},
		{name: "missing patch", input: "tinymist 1.2", wantOK: false},
		{name: "upper case", input: "TINYMIST 10.20.30", want: ToolVersion{10, 20, 30}, wantOK: true},
		{name: "surrounding text", input: "build info\ntinymist 0.13.12 (abc123)\n", want: ToolVersion{0, 13, 12}, wantOK: true},
		{name: "other tool", input: "typst 0.13.1", wantOK: false},
		{name: "empty", input: "", wantOK: false},
		{name: "overflow", input: "tinymist 99999999999999999999.0.0", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseToolVersion(tt.input)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestToolVersionOrdering(t *testing.T) {
	assert.True(t, ToolVersion{1, 9, 9}.Less(ToolVersion{2, 0, 0}))
	assert.True(t, ToolVersion{0, 13, 11}.Less(ToolVersion{0, 13, 12}))
	assert.False(t, ToolVersion{0, 14, 0}.Less(ToolVersion{0, 13, 99}))
	assert.Equal(t, 0, ToolVersion{3, 2, 1}.Compare(ToolVersion{3, 2, 1}))
	assert.Equal(t, 1, ToolVersion{1, 10, 0}.Compare(ToolVersion{1, 9, 0}))
}

func TestToolVersionPathString(t *testing.T) {
	assert.Equal(t, "v0.13.12", RequiredVersion.PathString())
	assert.Equal(t, "1.2.3", ToolVersion{1, 2, 3}.String())
}
