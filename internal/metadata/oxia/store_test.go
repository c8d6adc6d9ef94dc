package oxia

import (
	"context"
	"strings"
	"testing"

	"github.com/dray-io/blobgc/internal/metadata"
)

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name:    "empty service address",
			cfg:     Config{Namespace: "blobgc/test"},
			wantErr: "service address is required",
		},
		{
			name:    "empty namespace",
			cfg:     Config{ServiceAddress: "localhost:6648"},
			wantErr: "namespace is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(context.Background(), tt.cfg)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestClientOptions(t *testing.T) {
	cfg := Config{ServiceAddress: "localhost:6648", Namespace: "blobgc/test"}
	if got := len(cfg.clientOptions()); got != 1 {
		t.Errorf("clientOptions() len = %d, want 1", got)
	}
	cfg.RequestTimeout = 1
	cfg.SessionTimeout = 1
	if got := len(cfg.clientOptions()); got != 3 {
		t.Errorf("clientOptions() len = %d, want 3", got)
	}
}

func TestVersionConversion(t *testing.T) {
	for _, v := range []int64{0, 1, 41} {
		if got := toOxiaVersion(toMetadataVersion(v)); got != v {
			t.Errorf("round trip %d = %d", v, got)
		}
	}
	if toMetadataVersion(0) != metadata.Version(1) {
		t.Error("first oxia version should map to 1")
	}
}

func TestScanEnd(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{"/blobgc/v1/checkpoints/", "/blobgc/v1/checkpoints//"},
		{"/blobgc/v1/check", "/blobgc/v1/checl"},
		{"a\xff", "b"},
		{"\xff\xff", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := scanEnd(tt.prefix); got != tt.want {
			t.Errorf("scanEnd(%q) = %q, want %q", tt.prefix, got, tt.want)
		}
	}
}
