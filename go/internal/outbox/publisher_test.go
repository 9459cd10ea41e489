package outbox

import (
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

func TestIsStreamConfigEqual(t *testing.T) {
	base := jetstream.StreamConfig{
		Name:       "QUIZ_EVENTS",
		MaxAge:     7 * 24 * time.Hour,
		MaxMsgs:    -1,
		Replicas:   1,
		Duplicates: 2 * time.Hour,
	}

	tests := []struct {
		name   string
		mutate func(c *jetstream.StreamConfig)
		want   bool
	}{
		{name: "identical", mutate: func(c *jetstream.StreamConfig) {}, want: true},
		{
			name:   "description ignored",
			mutate: func(c *jetstream.StreamConfig) { c.Description = "changed" },
			want:   true,
		},
		{
			name:   "different retention age",
			mutate: func(c *jetstream.StreamConfig) { c.MaxAge = time.Hour },
			want:   false,
		},
		{
			name:   "different replica count",
			mutate: func(c *jetstream.StreamConfig) { c.Replicas = 3 },
			want:   false,
		},
		{
			name:   "different duplicate window",
			mutate: func(c *jetstream.StreamConfig) { c.Duplicates = time.Minute },
			want:   false,
		},
		{
			name:   "different name",
			mutate: func(c *jetstream.StreamConfig) { c.Name = "OTHER" },
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			other := base
			tt.mutate(&other)
			if got := isStreamConfigEqual(base, other); got != tt.want {
				t.Errorf("isStreamConfigEqual = %v, want %v", got, tt.want)
			}
		})
	}
}
