package swiftsim

import (
	"context"
	"errors"
	"fmt"

	"github.com/tendant/simple-cloudfiles/pkg/swiftsim/catalog"
)

// versionPrefix groups the backups of name: three hex digits of its length
// followed by the name, so that one name's backups never share a prefix with
// a longer name's.
func versionPrefix(name string) string {
	return fmt.Sprintf("%03x%s/", len(name), name)
}

// versionName orders backups by the server sequence, oldest first.
func versionName(name string, seq int64) string {
	return fmt.Sprintf("%s%020d", versionPrefix(name), seq)
}

// versionsContainer returns the backup container of container, or nil when
// versioning is off or the backup container is gone.
func (s *Server) versionsContainer(ctx context.Context, account, container string) (*catalog.Container, error) {
	ct, err := s.catalog.GetContainer(ctx, account, container)
	if err != nil {
		return nil, err
	}
	if ct.VersionsLocation == "" || ct.VersionsLocation == container {
		return nil, nil
	}
	backup, err := s.catalog.GetContainer(ctx, account, ct.VersionsLocation)
	if errors.Is(err, catalog.ErrNotFound) {
		s.logger.Warn("versions container missing", "account", account, "container", container, "versions", ct.VersionsLocation)
		return nil, nil
	}
	return backup, err
}

// pushVersion moves old into the versions container. It reports false when
// versioning is off, in which case the caller owns old's blob.
func (s *Server) pushVersion(ctx context.Context, old *catalog.Object) (bool, error) {
	backup, err := s.versionsContainer(ctx, old.Account, old.Container)
	if err != nil || backup == nil {
		return false, err
	}
	seq, err := s.catalog.NextSequence(ctx)
	if err != nil {
		return false, err
	}

	rec := *old
	rec.Container = backup.Name
	rec.Name = versionName(old.Name, seq)
	if err := s.catalog.PutObject(ctx, &rec); err != nil {
		return false, err
	}
	s.metrics.version("push")
	return true, nil
}

// popVersion restores the newest backup of name, if any.
func (s *Server) popVersion(ctx context.Context, account, container, name string) (bool, error) {
	backup, err := s.versionsContainer(ctx, account, container)
	if err != nil || backup == nil {
		return false, err
	}
	versions, err := s.catalog.ListObjects(ctx, account, backup.Name, catalog.ListParams{Prefix: versionPrefix(name)})
	if err != nil {
		return false, err
	}
	if len(versions) == 0 {
		return false, nil
	}

	newest := versions[len(versions)-1]
	rec := *newest
	rec.Container = container
	rec.Name = name
	if err := s.catalog.PutObject(ctx, &rec); err != nil {
		return false, err
	}
	if err := s.catalog.DeleteObject(ctx, account, backup.Name, newest.Name); err != nil {
		return false, err
	}
	s.metrics.version("pop")
	return true, nil
}
