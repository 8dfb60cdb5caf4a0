// Package version provides build and version information for Sentient Tree.
package version

// Version is the current release version of Sentient Tree.
// This can be overridden at build time using:
//
//	go build -ldflags "-X github.com/AaronLay10/SentientTree/internal/version.Version=x.y.z"
var Version = "0.3.0"
