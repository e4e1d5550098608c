package version

import (
	"runtime/debug"
	"strings"
	"testing"
)

func TestFillFromBuildInfo(t *testing.T) {
	info := Info{Version: "dev", Commit: "unknown", BuildDate: "unknown"}
	fillFromBuildInfo(&info, &debug.BuildInfo{
		Main: debug.Module{Version: "v1.2.3"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "abc123"},
			{Key: "vcs.time", Value: "2026-01-01T00:00:00Z"},
			{Key: "vcs.modified", Value: "true"},
		},
	})

	if info.Version != "1.2.3" || info.Commit != "abc123" || info.BuildDate != "2026-01-01T00:00:00Z" || !info.Dirty {
		t.Errorf("unexpected info: %+v", info)
	}
}

func TestFillFromBuildInfo_LdflagsWin(t *testing.T) {
	info := Info{Version: "2.0.0", Commit: "deadbeef", BuildDate: "yesterday"}
	fillFromBuildInfo(&info, &debug.BuildInfo{
		Main:     debug.Module{Version: "(devel)"},
		Settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "abc123"}},
	})

	if info.Version != "2.0.0" || info.Commit != "deadbeef" || info.BuildDate != "yesterday" {
		t.Errorf("ldflags values should not be replaced: %+v", info)
	}
}

func TestFull(t *testing.T) {
	out := Full()
	if !strings.HasPrefix(out, Name+" ") {
		t.Errorf("Full() should start with program name, got %q", out)
	}
	for _, field := range []string{"Commit:", "Built:", "Go version:", "OS/Arch:"} {
		if !strings.Contains(out, field) {
			t.Errorf("Full() missing %s", field)
		}
	}
}
