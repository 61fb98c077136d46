// Package version carries build metadata set through -ldflags.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Set at build time with -ldflags "-X cfgkeeper/internal/version.Version=..."
var (
	Version   = ""
	GitCommit = ""
	BuildDate = ""
)

// Info describes the running binary
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// GetInfo returns the build metadata. Values missing from ldflags fall
// back to the module build info, then to "unknown".
func GetInfo() Info {
	info := Info{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}

	if bi, ok := debug.ReadBuildInfo(); ok {
		if info.Version == "" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			info.Version = bi.Main.Version
		}
		for _, s := range bi.Settings {
			switch {
			case s.Key == "vcs.revision" && info.GitCommit == "":
				info.GitCommit = s.Value
			case s.Key == "vcs.time" && info.BuildDate == "":
				info.BuildDate = s.Value
			}
		}
	}

	for _, v := range []*string{&info.Version, &info.GitCommit, &info.BuildDate} {
		if *v == "" {
			*v = "unknown"
		}
	}
	return info
}

// UserAgent returns the User-Agent sent on outgoing requests
func UserAgent() string {
	return "cfgkeeper/" + GetInfo().Version
}

func (i Info) String() string {
	return fmt.Sprintf("cfgkeeper %s (commit %s, built %s, %s %s)",
		i.Version, i.GitCommit, i.BuildDate, i.GoVersion, i.Platform)
}
