package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGet(t *testing.T) {
	old := [3]string{Version, GitSHA, BuildTime}
	defer func() { Version, GitSHA, BuildTime = old[0], old[1], old[2] }()

	assert.Equal(t, "spokeview dev (unknown, built unknown)", Get().String())

	Version, GitSHA, BuildTime = "v0.3.0", "0123456789abcdef", "2026-10-01T12:00:00Z"
	info := Get()
	assert.Equal(t, Info{Version: "v0.3.0", GitSHA: "0123456789abcdef", BuildTime: "2026-10-01T12:00:00Z"}, info)
	assert.Equal(t, "spokeview v0.3.0 (0123456, built 2026-10-01T12:00:00Z)", info.String())
}
