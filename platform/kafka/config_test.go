package kafka

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEnv(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		want    Config
		wantErr bool
	}{
		{
			name: "defaults without brokers",
			want: Config{AlertTopic: "pharmacy.alerts.raised", MovementTopic: "stock.movements"},
		},
		{
			name: "brokers and topics",
			env: map[string]string{
				"KAFKA_BROKERS":        "kafka-1:9092,kafka-2:9092",
				"KAFKA_ALERT_TOPIC":    "alerts",
				"KAFKA_MOVEMENT_TOPIC": "movements",
			},
			want: Config{Brokers: []string{"kafka-1:9092", "kafka-2:9092"}, AlertTopic: "alerts", MovementTopic: "movements"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range []string{"KAFKA_BROKERS", "KAFKA_ALERT_TOPIC", "KAFKA_MOVEMENT_TOPIC"} {
				t.Setenv(k, "")
				require.NoError(t, os.Unsetenv(k))
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			got, err := LoadEnv()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, len(tt.want.Brokers) > 0, got.Enabled())
		})
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.AlertTopic = ""
	assert.Error(t, cfg.Validate())

	cfg.Brokers = nil
	assert.NoError(t, cfg.Validate())
}
