//go:build protogen

package profile

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/practicehq/agendly/libs/grpcx"
	directoryv1 "github.com/practicehq/agendly/protos/gen/directory/v1"
	"github.com/practicehq/agendly/services/agenda-service/internal/model"
)

type grpcResolver struct {
	client directoryv1.DirectoryServiceClient
}

// NewDirectoryResolver dials directory-service when an address is
// configured; otherwise the fallback resolver is used.
func NewDirectoryResolver(logger *slog.Logger, addr string, fallback Resolver) (Resolver, error) {
	if addr == "" {
		return fallback, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := grpcx.Dial(ctx, addr, grpcx.DialOptions{Timeout: 5 * time.Second})
	if err != nil {
		logger.Warn("directory resolver unavailable, using fallback", "err", err)
		return fallback, nil
	}

	logger.Info("grpc directory resolver enabled", "addr", addr)
	return &grpcResolver{client: directoryv1.NewDirectoryServiceClient(conn)}, nil
}

func (r *grpcResolver) GetContact(ctx context.Context, participantID string) (Contact, error) {
	resp, err := r.client.GetProfile(ctx, &directoryv1.ProfileRequest{ParticipantId: participantID})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return Contact{}, model.ErrNotFound
		}
		return Contact{}, err
	}
	return Contact{
		Email:       resp.GetEmail(),
		DisplayName: resp.GetDisplayName(),
	}, nil
}
