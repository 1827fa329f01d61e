package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

// Set at build time with -ldflags "-X".
var (
	Version = "0.1.0"
	Commit  = "unknown"
	Date    = "unknown"
)

type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go"`
}

func (i Info) String() string {
	return fmt.Sprintf("%s (commit %s, built %s, %s)", i.Version, i.Commit, i.Date, i.GoVersion)
}

// Current reports the build version. When ldflags left the commit unset the
// VCS stamp embedded by the go tool is used instead, with a "-dirty" suffix
// for builds from a modified tree.
func Current() Info {
	return resolve(Version, Commit, Date, debug.ReadBuildInfo)
}

// Resolve returns the version string alone.
func Resolve() string {
	return Current().Version
}

func resolve(base, commit, date string, readBuildInfo func() (*debug.BuildInfo, bool)) Info {
	if base == "" {
		base = "0.0.0"
	}
	info := Info{Version: base, Commit: commit, Date: date, GoVersion: runtime.Version()}

	if commit != "" && commit != "unknown" {
		return info
	}

	bi, ok := readBuildInfo()
	if !ok || bi == nil {
		return info
	}

	var revision, modified, vcsTime string
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			modified = s.Value
		case "vcs.time":
			vcsTime = s.Value
		}
	}
	if revision == "" {
		return info
	}

	short := revision
	if len(short) > 7 {
		short = short[:7]
	}
	info.Commit = revision
	if date == "" || date == "unknown" {
		info.Date = vcsTime
	}

	suffix := "g" + short
	if modified == "true" {
		suffix += "-dirty"
	}
	if !strings.Contains(info.Version, "-") {
		info.Version += "-" + suffix
	}
	return info
}
