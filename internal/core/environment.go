package core

import (
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"strings"
)

// PackageVersions lists the main module and every dependency compiled into
// the binary, one "path version" pair per line.
func PackageVersions() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "build info unavailable"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", info.Main.Path, info.Main.Version)
	fmt.Fprintf(&b, "go %s\n", info.GoVersion)
	for _, dep := range info.Deps {
		version := dep.Version
		if dep.Replace != nil {
			version = dep.Replace.Path + " " + dep.Replace.Version
		}
		fmt.Fprintf(&b, "%s %s\n", dep.Path, version)
	}
	return b.String()
}

// HostInfo describes the machine the run executes on.
func HostInfo() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	return fmt.Sprintf("hostname=%s os=%s arch=%s cpus=%d go=%s",
		hostname, runtime.GOOS, runtime.GOARCH, runtime.NumCPU(), runtime.Version())
}
