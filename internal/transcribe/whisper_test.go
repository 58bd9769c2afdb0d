package transcribe

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeTranscript(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "strips padding and blank lines",
			raw:  "  Today we're making pasta.  \n\n   Boil the water first.\n",
			want: "Today we're making pasta.\nBoil the water first.",
		},
		{
			name: "empty input",
			raw:  "   \n\n  ",
			want: "",
		},
		{
			name: "single line",
			raw:  "Add the garlic.",
			want: "Add the garlic.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizeTranscript(tt.raw))
		})
	}
}

func TestNewClientDefaults(t *testing.T) {
	c := NewClient(Config{Model: "models/ggml-small.bin"}, nil)
	assert.Equal(t, "ffmpeg", c.ffmpeg)
	assert.Equal(t, "ffprobe", c.ffprobe)
	assert.Equal(t, "whisper-cli", c.whisper)
	assert.Equal(t, "models/ggml-small.bin", c.model)
}
