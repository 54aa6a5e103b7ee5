package docker

import (
	"fmt"

	"github.com/docker/docker/errdefs"

	"github.com/hashir-ayaz/container-service-cloud-platform/internal/domain"
)

// mapRuntimeError folds daemon error classes into the platform taxonomy.
// notFound names the taxonomy error that a 404 means for the current call:
// a missing image at create time and a missing container at start time are
// different failures to the caller.
func mapRuntimeError(err error, op string, notFound error) error {
	switch {
	case err == nil:
		return nil
	case errdefs.IsNotFound(err):
		return fmt.Errorf("%s: %w", op, notFound)
	case errdefs.IsConflict(err):
		return fmt.Errorf("%s: %w", op, domain.ErrNameConflict)
	default:
		return fmt.Errorf("%s: %w: %v", op, domain.ErrRuntimeUnavailable, err)
	}
}
