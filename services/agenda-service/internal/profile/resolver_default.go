//go:build !protogen

package profile

import "log/slog"

// NewDirectoryResolver returns the fallback resolver in builds without
// generated gRPC stubs.
func NewDirectoryResolver(_ *slog.Logger, _ string, fallback Resolver) (Resolver, error) {
	return fallback, nil
}
