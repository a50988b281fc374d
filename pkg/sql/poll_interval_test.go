package sql

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePollInterval(t *testing.T) {
	tests := []struct {
		input string
		want  PollInterval
	}{
		{"10s", PollInterval{Base: 10 * time.Second}},
		{"250", PollInterval{Base: 250 * time.Millisecond}},
		{"10s:40s:100", PollInterval{Base: 10 * time.Second, Max: 40 * time.Second, StepPercent: 100}},
		{"1000:60000:50", PollInterval{Base: time.Second, Max: time.Minute, StepPercent: 50}},
		{" 5s : 5s : 0 ", PollInterval{Base: 5 * time.Second, Max: 5 * time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParsePollInterval(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParsePollInterval_Errors(t *testing.T) {
	for _, input := range []string{"", "soon", "0", "-5s", "10s:20s", "10s:5s:10", "10s:20s:x", "10s:20s:-1"} {
		_, err := ParsePollInterval(input)
		assert.Error(t, err, input)
	}
}

func TestPollInterval_Next(t *testing.T) {
	p := PollInterval{Base: 10 * time.Second, Max: 40 * time.Second, StepPercent: 100}

	cur := p.Base
	var seq []time.Duration
	for i := 0; i < 4; i++ {
		seq = append(seq, cur)
		cur = p.Next(cur)
	}
	assert.Equal(t, []time.Duration{10 * time.Second, 20 * time.Second, 40 * time.Second, 40 * time.Second}, seq)

	fixed := PollInterval{Base: time.Second}
	assert.Equal(t, time.Second, fixed.Next(time.Second))

	partial := PollInterval{Base: 10 * time.Second, Max: 12 * time.Second, StepPercent: 50}
	assert.Equal(t, 12*time.Second, partial.Next(10*time.Second))
}

func TestPollInterval_String(t *testing.T) {
	assert.Equal(t, "10s", PollInterval{Base: 10 * time.Second}.String())
	assert.Equal(t, "10s:40s:100", PollInterval{Base: 10 * time.Second, Max: 40 * time.Second, StepPercent: 100}.String())
}
