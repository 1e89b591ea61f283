package database

import (
	"context"
	"errors"
	"runtime/debug"

	"github.com/koustreak/dbireg/internal/errs"
	"github.com/koustreak/dbireg/internal/registry"
)

// MapContextError translates a cancelled or expired context into a timeout
// error. It returns nil for any other error so drivers can fall through to
// their own mapping:
//
//	if e := database.MapContextError(err, msg); e != nil {
//	    return e
//	}
func MapContextError(err error, msg string) *errs.Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	}
	return nil
}

// ModuleVersion returns the version of a dependency linked into the running
// binary, registry.NA when build info is unavailable (as in tests).
func ModuleVersion(path string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return registry.NA
	}
	for _, dep := range info.Deps {
		if dep.Path == path {
			if dep.Replace != nil {
				return dep.Replace.Version
			}
			return dep.Version
		}
	}
	return registry.NA
}
