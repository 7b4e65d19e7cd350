package version

import (
	"fmt"
	"runtime"

	"github.com/Masterminds/semver/v3"
)

// Set at build time with -ldflags "-X drive/internal/version.Version=...".
var (
	Version   = "development"
	CommitSHA = "unknown"
)

type Info struct {
	Version   string `json:"version"`
	CommitSHA string `json:"commitSha"`
	GoVersion string `json:"goVersion"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

func GetVersionInfo() *Info {
	return &Info{
		Version:   Version,
		CommitSHA: CommitSHA,
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

// Compatible reports whether a client at version local can talk to a server
// at version remote. Releases must share a major version; development builds
// on either side are always accepted.
func Compatible(local, remote string) error {
	lv, err := semver.NewVersion(local)
	if err != nil {
		return nil
	}
	rv, err := semver.NewVersion(remote)
	if err != nil {
		return nil
	}
	if lv.Major() != rv.Major() {
		return fmt.Errorf("server version %s is incompatible with client %s", rv, lv)
	}
	return nil
}
