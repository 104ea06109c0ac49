// Package version хранит сведения о сборке, проставляемые через -ldflags:
//
//	-X github.com/vladislavdragonenkov/babyfood/internal/version.version=v1.2.0
package version

import (
	"fmt"
	"runtime/debug"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Build описывает собранный бинарь.
type Build struct {
	Version string
	Commit  string
	Date    string
}

// Current возвращает сведения о текущей сборке. Если commit и date не
// проставлены, берёт vcs.revision и vcs.time из build info Go.
func Current() Build {
	b := Build{Version: version, Commit: commit, Date: date}
	if b.Commit != "unknown" && b.Date != "unknown" {
		return b
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		b = b.withVCS(info.Settings)
	}
	return b
}

func (b Build) withVCS(settings []debug.BuildSetting) Build {
	for _, s := range settings {
		switch {
		case s.Key == "vcs.revision" && b.Commit == "unknown" && s.Value != "":
			b.Commit = s.Value
			if len(b.Commit) > 12 {
				b.Commit = b.Commit[:12]
			}
		case s.Key == "vcs.time" && b.Date == "unknown" && s.Value != "":
			b.Date = s.Value
		}
	}
	return b
}

// Fields — поля для логгера.
func (b Build) Fields() map[string]any {
	return map[string]any{"version": b.Version, "commit": b.Commit, "build_date": b.Date}
}

func (b Build) String() string {
	return fmt.Sprintf("babyfood %s (commit %s, built %s)", b.Version, b.Commit, b.Date)
}

// GetVersion возвращает только номер версии; его отдаёт /healthz.
func GetVersion() string { return version }
