package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":8081" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.ReservationTTL != 30*time.Minute {
		t.Errorf("ReservationTTL = %s", cfg.ReservationTTL)
	}
	if cfg.ReaperInterval != 5*time.Minute {
		t.Errorf("ReaperInterval = %s", cfg.ReaperInterval)
	}
	if cfg.ReaperBatch != 100 {
		t.Errorf("ReaperBatch = %d", cfg.ReaperBatch)
	}
	if len(cfg.KafkaBrokers) != 1 || cfg.KafkaBrokers[0] != "kafka:9092" {
		t.Errorf("KafkaBrokers = %v", cfg.KafkaBrokers)
	}
}

// TTL and sweep cadence are independent settings; changing one must not
// affect the other.
func TestLoad_IndependentTTLAndInterval(t *testing.T) {
	t.Setenv("RESERVATION_TTL", "45m")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ReservationTTL != 45*time.Minute {
		t.Errorf("ReservationTTL = %s", cfg.ReservationTTL)
	}
	if cfg.ReaperInterval != 5*time.Minute {
		t.Errorf("ReaperInterval changed with TTL: %s", cfg.ReaperInterval)
	}

	t.Setenv("REAPER_INTERVAL", "30s")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ReaperInterval != 30*time.Second {
		t.Errorf("ReaperInterval = %s", cfg.ReaperInterval)
	}
}

func TestLoad_BrokerList(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092 ,,k3:9092")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := []string{"k1:9092", "k2:9092", "k3:9092"}
	if len(cfg.KafkaBrokers) != len(want) {
		t.Fatalf("KafkaBrokers = %v", cfg.KafkaBrokers)
	}
	for i := range want {
		if cfg.KafkaBrokers[i] != want[i] {
			t.Fatalf("KafkaBrokers = %v", cfg.KafkaBrokers)
		}
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := []struct{ key, val string }{
		{"RESERVATION_TTL", "soon"},
		{"RESERVATION_TTL", "-5m"},
		{"REAPER_INTERVAL", "0s"},
		{"REAPER_BATCH", "zero"},
		{"REAPER_BATCH", "-1"},
	}
	for _, tc := range cases {
		t.Run(tc.key+"="+tc.val, func(t *testing.T) {
			t.Setenv(tc.key, tc.val)
			if _, err := Load(); err == nil {
				t.Fatalf("%s=%s accepted", tc.key, tc.val)
			}
		})
	}
}
