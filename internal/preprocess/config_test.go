package preprocess

import "testing"

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.TargetDPI != 300 {
		t.Fatalf("expected default target DPI 300, got %d", cfg.TargetDPI)
	}
	if !cfg.Deskew || !cfg.PerspectiveCorrection || !cfg.Denoise || !cfg.Binarize {
		t.Fatalf("expected all stages enabled by default: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		dpi     int
		wantErr bool
	}{
		{"zero", 0, true},
		{"negative", -300, true},
		{"excessive", 5000, true},
		{"typical", 300, false},
		{"high", 600, false},
	}
	for _, tc := range cases {
		cfg := DefaultConfig()
		cfg.TargetDPI = tc.dpi
		err := cfg.Validate()
		if tc.wantErr && err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
		if !tc.wantErr && err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
	}
}
