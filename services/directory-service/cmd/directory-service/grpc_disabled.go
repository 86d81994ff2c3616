//go:build !protogen

package main

import (
	"context"
	"log/slog"

	"github.com/practicehq/agendly/services/directory-service/internal/storage"
)

func startGrpcServer(_ context.Context, _ *slog.Logger, _ *storage.ProfileRepository) error {
	return nil
}
