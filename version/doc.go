// Package version carries the build stamp of the filestore binary.
//
// Version and commit are set at link time:
//
//	go build -ldflags "-X github.com/kbukum/filestore/version.Version=1.4.0" ./cmd/filestore
//
// When no commit is stamped, the VCS revision recorded by the Go toolchain
// is used instead.
package version
