package version

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"sync"
)

// Release can be set at link time with -ldflags "-X .../version.Release=v1.2.3".
var Release string

type Info struct {
	Release     string
	CommitHash  string
	CommitTime  string
	DirtyCommit bool
	BinaryHash  string
}

func prefix(s string, n int) string {
	if len(s) < n {
		return s
	}
	return s[:n]
}

// VersionString is the release name if one was linked in, otherwise a short
// commit hash. Builds from a dirty tree or without VCS info carry a prefix of
// the binary's sha256.
func (v Info) VersionString() string {
	rv := v.Release
	if rv == "" && v.CommitHash != "" {
		rv = prefix(v.CommitHash, 16)
	}
	if v.DirtyCommit && rv != "" {
		rv += "-dirty"
	}

	if (rv == "" || v.DirtyCommit) && v.BinaryHash != "" {
		if rv != "" {
			rv += "@"
		}
		rv += "sha256:" + prefix(v.BinaryHash, 8)
	}

	if rv == "" {
		return "unknown"
	}
	return rv
}

var (
	globalVersion    *Info
	globalVersionErr error
	globalOnce       sync.Once
)

func GetInfo() (*Info, error) {
	globalOnce.Do(func() {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			globalVersionErr = errors.New("failed to read build info")
			return
		}
		globalVersion, globalVersionErr = fromBuildInfo(info, os.Executable)
	})
	return globalVersion, globalVersionErr
}

func fromBuildInfo(info *debug.BuildInfo, executable func() (string, error)) (*Info, error) {
	rv := Info{Release: Release}

	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			rv.CommitHash = setting.Value
		case "vcs.modified":
			rv.DirtyCommit = setting.Value == "true"
		case "vcs.time":
			rv.CommitTime = setting.Value
		}
	}

	if rv.CommitHash != "" && !rv.DirtyCommit {
		return &rv, nil
	}

	execPath, err := executable()
	if err != nil {
		return nil, err
	}

	hash, err := hashFile(execPath)
	if err != nil {
		return nil, err
	}
	rv.BinaryHash = hash

	return &rv, nil
}

func hashFile(filename string) (string, error) {
	f, err := os.Open(filename)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}
