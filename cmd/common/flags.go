package common

import (
	"flag"
	"fmt"
	"os"
)

// CommonFlags contains flags shared by every command
type CommonFlags struct {
	ConfigFile *string
	EnvFile    *string
	Version    *bool
}

// RegisterCommonFlags registers the shared flags on the default flag set
func RegisterCommonFlags() *CommonFlags {
	return &CommonFlags{
		ConfigFile: flag.String("config", "configs/risk-core.yaml", "YAML configuration file"),
		EnvFile:    flag.String("env", ".env", "Environment file path"),
		Version:    flag.Bool("version", false, "Show version information"),
	}
}

// HandleVersion prints the version and exits when -version was passed
func (f *CommonFlags) HandleVersion(appName string) {
	if *f.Version {
		PrintVersion(appName)
		os.Exit(0)
	}
}

// Fatal prints err and exits with status 1
func Fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "❌ "+format+"\n", args...)
	os.Exit(1)
}
