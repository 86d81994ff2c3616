//go:build protogen

package grpcserver

import (
	"context"
	"errors"

	directoryv1 "github.com/practicehq/agendly/protos/gen/directory/v1"
	"github.com/practicehq/agendly/services/directory-service/internal/storage"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type server struct {
	directoryv1.UnimplementedDirectoryServiceServer
	repo *storage.ProfileRepository
}

func Register(grpcServer *grpc.Server, repo *storage.ProfileRepository) {
	directoryv1.RegisterDirectoryServiceServer(grpcServer, &server{repo: repo})
}

func (s *server) GetProfile(ctx context.Context, req *directoryv1.ProfileRequest) (*directoryv1.ProfileResponse, error) {
	if req.GetParticipantId() == "" {
		return nil, status.Error(codes.InvalidArgument, "participant_id required")
	}

	p, err := s.repo.Get(ctx, req.GetParticipantId())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, status.Error(codes.NotFound, "participant not found")
		}
		return nil, status.Error(codes.Internal, "failed to load profile")
	}

	return &directoryv1.ProfileResponse{
		ParticipantId: p.ParticipantID,
		Role:          p.Role,
		Email:         p.Email,
		DisplayName:   p.DisplayName,
		Timezone:      p.Timezone,
	}, nil
}
