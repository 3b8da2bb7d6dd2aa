package utils

import "fmt"

// set via -ldflags at build time
var BuildVersion string
var BuildRelease string
var Buildtime string

func GetBuildVersion() string {
	version := BuildVersion
	if version == "" {
		version = "dev"
	}
	if BuildRelease != "" {
		return fmt.Sprintf("%v (git-%v)", BuildRelease, version)
	}
	return fmt.Sprintf("git-%v", version)
}

// GetBuildUserAgent is sent with outgoing requests of the proving client.
func GetBuildUserAgent() string {
	if BuildRelease != "" {
		return "zkrelay/" + BuildRelease
	}
	return "zkrelay/git-" + BuildVersion
}
