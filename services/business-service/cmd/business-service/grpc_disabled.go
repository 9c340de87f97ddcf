//go:build !protogen

package main

import (
	"context"
	"log/slog"

	"github.com/STEPHANAS-SOFT/Bookora/libs/db"
	"github.com/STEPHANAS-SOFT/Bookora/services/business-service/internal/storage"
)

func startGrpcServer(_ context.Context, _ *slog.Logger, _ *db.Pool, _ *storage.Repository) error {
	return nil
}
