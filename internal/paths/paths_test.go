package paths

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestResolveBase(t *testing.T) {
	tests := []struct {
		name     string
		override string
		file     string // override file content, "" to omit
		want     func(dataDir, tmp string) string
	}{
		{
			name: "data dir by default",
			want: func(dataDir, _ string) string { return dataDir },
		},
		{
			name: "override file",
			file: "  {tmp}/from-file \n",
			want: func(_, tmp string) string { return filepath.Join(tmp, "from-file") },
		},
		{
			name:     "explicit override beats file",
			override: "{tmp}/explicit",
			file:     "{tmp}/from-file\n",
			want:     func(_, tmp string) string { return filepath.Join(tmp, "explicit") },
		},
		{
			name: "blank override file ignored",
			file: "\n",
			want: func(dataDir, _ string) string { return dataDir },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmp := t.TempDir()
			dataDir := filepath.Join(tmp, "data")
			expand := func(s string) string {
				return filepath.Clean(replaceTmp(s, tmp))
			}
			if err := os.MkdirAll(dataDir, 0o755); err != nil {
				t.Fatalf("MkdirAll failed: %v", err)
			}
			if tt.file != "" {
				if err := os.WriteFile(filepath.Join(dataDir, OverrideFileName), []byte(replaceTmp(tt.file, tmp)), 0o644); err != nil {
					t.Fatalf("WriteFile failed: %v", err)
				}
			}

			override := ""
			if tt.override != "" {
				override = expand(tt.override)
			}
			got, err := ResolveBase(override, dataDir)
			if err != nil {
				t.Fatalf("ResolveBase failed: %v", err)
			}
			want := tt.want(dataDir, tmp)
			if got != want {
				t.Errorf("Expected %s, got %s", want, got)
			}
			if st, err := os.Stat(got); err != nil || !st.IsDir() {
				t.Errorf("Expected %s to be created", got)
			}
		})
	}
}

func replaceTmp(s, tmp string) string {
	return strings.ReplaceAll(s, "{tmp}", tmp)
}

func TestInstancesDir(t *testing.T) {
	if got := InstancesDir("/base"); got != filepath.Join("/base", "instances") {
		t.Errorf("Unexpected instances dir %s", got)
	}
}

func TestXDGOverrides(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", "/state")
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1")

	if got := DefaultHistoryPath(); got != "/state/hearth/history.db" {
		t.Errorf("Unexpected history path %s", got)
	}
	if got := DefaultSocketPath(); got != "/run/user/1/hearth/daemon.sock" {
		t.Errorf("Unexpected socket path %s", got)
	}
}
