// Package version carries build metadata, set with -ldflags at link time:
//
//	go build -ldflags "-X github.com/banshee-data/spokeview/internal/version.Version=v0.3.0" ./cmd/spokeview
package version

import "fmt"

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// Info is the build metadata as reported on /api/status.
type Info struct {
	Version   string `json:"version"`
	GitSHA    string `json:"git_sha"`
	BuildTime string `json:"build_time"`
}

// Get returns the current build metadata.
func Get() Info {
	return Info{Version: Version, GitSHA: GitSHA, BuildTime: BuildTime}
}

func (i Info) String() string {
	sha := i.GitSHA
	if len(sha) > 7 {
		sha = sha[:7]
	}
	return fmt.Sprintf("spokeview %s (%s, built %s)", i.Version, sha, i.BuildTime)
}
