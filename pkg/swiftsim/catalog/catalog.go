// Package catalog defines the records swiftsim keeps about accounts,
// containers and objects.
package catalog

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("record not found")

	// ErrExists is returned when creating a record that already exists
	ErrExists = errors.New("record already exists")
)

// Account holds account level metadata
type Account struct {
	Name      string
	Metadata  map[string]string
	CreatedAt time.Time
}

// Container is a container record. CDNConfigured is set once the container
// has been published at least once; until then the CDN API reports 404.
type Container struct {
	Account          string
	Name             string
	Metadata         map[string]string
	VersionsLocation string
	CDNConfigured    bool
	CDNEnabled       bool
	CDNTTL           int64
	CDNLogRetention  bool
	CreatedAt        time.Time
}

// Object is an object record pointing at a blob.
type Object struct {
	Account      string
	Container    string
	Name         string
	BlobKey      string
	Size         int64
	ETag         string
	ContentType  string
	Metadata     map[string]string
	CORS         map[string]string
	DeleteAt     *int64
	LastModified time.Time
}

// ListParams selects a page of names in ascending order.
type ListParams struct {
	Prefix string
	Marker string // exclusive lower bound
	Limit  int    // 0 means no limit
}

// ContainerStats aggregates the objects of a container
type ContainerStats struct {
	Count int64
	Bytes int64
}

// Catalog defines the interface for record persistence
type Catalog interface {
	// Account operations
	GetAccount(ctx context.Context, name string) (*Account, error)
	PutAccount(ctx context.Context, account *Account) error

	// Container operations
	CreateContainer(ctx context.Context, container *Container) error
	GetContainer(ctx context.Context, account, name string) (*Container, error)
	UpdateContainer(ctx context.Context, container *Container) error
	DeleteContainer(ctx context.Context, account, name string) error
	ListContainers(ctx context.Context, account string, params ListParams) ([]*Container, error)
	ContainerStats(ctx context.Context, account, name string) (ContainerStats, error)

	// Object operations
	PutObject(ctx context.Context, object *Object) error
	GetObject(ctx context.Context, account, container, name string) (*Object, error)
	DeleteObject(ctx context.Context, account, container, name string) error
	ListObjects(ctx context.Context, account, container string, params ListParams) ([]*Object, error)

	// NextSequence returns a strictly increasing number used to order versions
	NextSequence(ctx context.Context) (int64, error)
}
