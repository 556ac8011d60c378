package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Pagination.DefaultPageSize != 50 || cfg.Pagination.MaxPageSize != 100 {
		t.Errorf("unexpected pagination defaults: %+v", cfg.Pagination)
	}
	if cfg.Upload.MaxBytes != 10*1024*1024 {
		t.Errorf("expected 10MB upload cap, got %d", cfg.Upload.MaxBytes)
	}
	if cfg.Import.StrictNumbers {
		t.Error("strict number parsing must default off")
	}
	if cfg.RateLimit.RequestsPerMinute != 120 {
		t.Errorf("unexpected rate limit default: %d", cfg.RateLimit.RequestsPerMinute)
	}
}

func TestCORSOriginList(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"http://a.example, http://b.example", []string{"http://a.example", "http://b.example"}},
		{"http://a.example", []string{"http://a.example"}},
		{"", nil},
		{" , ,http://a.example,", []string{"http://a.example"}},
	}

	for _, tc := range cases {
		sc := ServerConfig{CORSOrigins: tc.in}
		got := sc.CORSOriginList()
		if len(got) != len(tc.want) {
			t.Errorf("CORSOriginList(%q) = %v, want %v", tc.in, got, tc.want)
			continue
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Errorf("CORSOriginList(%q)[%d] = %q, want %q", tc.in, i, got[i], tc.want[i])
			}
		}
	}
}
