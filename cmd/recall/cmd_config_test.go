package main

import (
	"testing"

	"github.com/user/recall/internal/config"
)

func TestCheckSchedule(t *testing.T) {
	cfg := &config.Config{}
	cfg.Janitor.Schedule = "0 */10 * * * *"
	if err := checkSchedule(cfg); err != nil {
		t.Errorf("expected valid schedule: %v", err)
	}
	cfg.Janitor.Schedule = "every now and then"
	if err := checkSchedule(cfg); err == nil {
		t.Error("expected error for invalid schedule")
	}
}
