package common

import (
	"fmt"
	"runtime"
)

const (
	ProjectName = "Risk Core"
	ProjectRepo = "github.com/ducminhle1904/risk-orchestrator"
)

// Set during build via -ldflags "-X .../cmd/common.Version=..."
var (
	Version     = "0.1.0"
	BuildDate   = "unknown"
	BuildCommit = "dev"
)

// VersionInfo contains version and build information
type VersionInfo struct {
	ProjectName  string `json:"project_name"`
	Version      string `json:"version"`
	BuildDate    string `json:"build_date"`
	BuildCommit  string `json:"build_commit"`
	GoVersion    string `json:"go_version"`
	Architecture string `json:"architecture"`
}

func GetVersionInfo() VersionInfo {
	return VersionInfo{
		ProjectName:  ProjectName,
		Version:      Version,
		BuildDate:    BuildDate,
		BuildCommit:  BuildCommit,
		GoVersion:    runtime.Version(),
		Architecture: runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// PrintVersion prints version information for appName
func PrintVersion(appName string) {
	info := GetVersionInfo()
	fmt.Printf("%s v%s (%s)\n", appName, info.Version, info.ProjectName)
	fmt.Printf("Build: %s (%s)\n", info.BuildCommit, info.BuildDate)
	fmt.Printf("Go: %s (%s)\n", info.GoVersion, info.Architecture)
}
