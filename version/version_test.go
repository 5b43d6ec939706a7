package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGet(t *testing.T) {
	old := CommitHash
	t.Cleanup(func() { CommitHash = old })
	CommitHash = "0123456789abcdef"

	info := Get()
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.Equal(t, "0123456", info.Short())
	assert.Contains(t, info.String(), "wakeup dev (commit 0123456")
}

func TestShort_KeepsShortHashes(t *testing.T) {
	assert.Equal(t, "abc", Info{CommitHash: "abc"}.Short())
}
