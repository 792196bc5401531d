// Package buildinfo reports how the binary was built.
package buildinfo

import (
	"runtime/debug"
	"strings"
)

type Info struct {
	Version   string
	Revision  string
	Modified  bool
	GoVersion string
}

// Read returns the build information of the running binary. Version is "dev" for
// unversioned builds.
func Read() Info {
	info, _ := debug.ReadBuildInfo()
	return fromBuildInfo(info)
}

func fromBuildInfo(info *debug.BuildInfo) Info {
	out := Info{Version: "dev"}
	if info == nil {
		return out
	}
	out.GoVersion = info.GoVersion
	if v := info.Main.Version; v != "" && v != "(devel)" {
		out.Version = v
	}
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			out.Revision = setting.Value
		case "vcs.modified":
			out.Modified = setting.Value == "true"
		}
	}
	return out
}

// String formats the info as "vcslog dev (abc1234-dirty, go1.25.3)".
func (i Info) String() string {
	var b strings.Builder
	b.WriteString("vcslog ")
	b.WriteString(i.Version)
	var details []string
	if i.Revision != "" {
		rev := i.Revision[:min(len(i.Revision), 7)]
		if i.Modified {
			rev += "-dirty"
		}
		details = append(details, rev)
	}
	if i.GoVersion != "" {
		details = append(details, i.GoVersion)
	}
	if len(details) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(details, ", "))
		b.WriteString(")")
	}
	return b.String()
}
