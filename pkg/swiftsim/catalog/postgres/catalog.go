package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/simple-cloudfiles/pkg/swiftsim/catalog"
)

//go:embed schema.sql
var schema string

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Catalog implements catalog.Catalog using PostgreSQL
type Catalog struct {
	db DBTX
}

// New creates a new PostgreSQL catalog
func New(db DBTX) *Catalog {
	return &Catalog{db: db}
}

// NewWithPool creates a new PostgreSQL catalog with connection pool
func NewWithPool(pool *pgxpool.Pool) *Catalog {
	return &Catalog{db: pool}
}

// Migrate creates the catalog tables if they do not exist
func (c *Catalog) Migrate(ctx context.Context) error {
	if _, err := c.db.Exec(ctx, schema); err != nil {
		return c.handlePostgresError("migrate", err)
	}
	return nil
}

// Error handling helper
func (c *Catalog) handlePostgresError(operation string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return catalog.ErrExists
		case "23503": // foreign_key_violation
			return catalog.ErrNotFound
		case "42P01": // undefined_table
			return fmt.Errorf("table does not exist - database migration required")
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}

	return fmt.Errorf("database error in %s: %w", operation, err)
}

func encodeMap(m map[string]string) ([]byte, error) {
	if m == nil {
		m = map[string]string{}
	}
	return json.Marshal(m)
}

func decodeMap(raw []byte) (map[string]string, error) {
	m := map[string]string{}
	if len(raw) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// Account operations

func (c *Catalog) GetAccount(ctx context.Context, name string) (*catalog.Account, error) {
	query := `SELECT name, metadata, created_at FROM swift_account WHERE name = $1`

	var (
		account catalog.Account
		meta    []byte
	)
	err := c.db.QueryRow(ctx, query, name).Scan(&account.Name, &meta, &account.CreatedAt)
	if err != nil {
		return nil, c.handlePostgresError("get account", err)
	}
	if account.Metadata, err = decodeMap(meta); err != nil {
		return nil, err
	}
	return &account, nil
}

func (c *Catalog) PutAccount(ctx context.Context, account *catalog.Account) error {
	meta, err := encodeMap(account.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO swift_account (name, metadata)
		VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET metadata = EXCLUDED.metadata`

	if _, err := c.db.Exec(ctx, query, account.Name, meta); err != nil {
		return c.handlePostgresError("put account", err)
	}
	return nil
}

// Container operations

const containerColumns = `account, name, metadata, versions_location, cdn_configured,
	cdn_enabled, cdn_ttl, cdn_log_retention, created_at`

func scanContainer(row pgx.Row) (*catalog.Container, error) {
	var (
		ct   catalog.Container
		meta []byte
	)
	if err := row.Scan(&ct.Account, &ct.Name, &meta, &ct.VersionsLocation, &ct.CDNConfigured,
		&ct.CDNEnabled, &ct.CDNTTL, &ct.CDNLogRetention, &ct.CreatedAt); err != nil {
		return nil, err
	}
	var err error
	if ct.Metadata, err = decodeMap(meta); err != nil {
		return nil, err
	}
	return &ct, nil
}

func (c *Catalog) CreateContainer(ctx context.Context, container *catalog.Container) error {
	meta, err := encodeMap(container.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO swift_container (
			account, name, metadata, versions_location, cdn_configured,
			cdn_enabled, cdn_ttl, cdn_log_retention, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = c.db.Exec(ctx, query,
		container.Account, container.Name, meta, container.VersionsLocation, container.CDNConfigured,
		container.CDNEnabled, container.CDNTTL, container.CDNLogRetention, container.CreatedAt)
	if err != nil {
		return c.handlePostgresError("create container", err)
	}
	return nil
}

func (c *Catalog) GetContainer(ctx context.Context, account, name string) (*catalog.Container, error) {
	query := `SELECT ` + containerColumns + ` FROM swift_container WHERE account = $1 AND name = $2`

	ct, err := scanContainer(c.db.QueryRow(ctx, query, account, name))
	if err != nil {
		return nil, c.handlePostgresError("get container", err)
	}
	return ct, nil
}

func (c *Catalog) UpdateContainer(ctx context.Context, container *catalog.Container) error {
	meta, err := encodeMap(container.Metadata)
	if err != nil {
		return err
	}

	query := `
		UPDATE swift_container SET
			metadata = $3, versions_location = $4, cdn_configured = $5,
			cdn_enabled = $6, cdn_ttl = $7, cdn_log_retention = $8
		WHERE account = $1 AND name = $2`

	tag, err := c.db.Exec(ctx, query,
		container.Account, container.Name, meta, container.VersionsLocation, container.CDNConfigured,
		container.CDNEnabled, container.CDNTTL, container.CDNLogRetention)
	if err != nil {
		return c.handlePostgresError("update container", err)
	}
	if tag.RowsAffected() == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

func (c *Catalog) DeleteContainer(ctx context.Context, account, name string) error {
	tag, err := c.db.Exec(ctx, `DELETE FROM swift_container WHERE account = $1 AND name = $2`, account, name)
	if err != nil {
		return c.handlePostgresError("delete container", err)
	}
	if tag.RowsAffected() == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

// listClause renders the prefix/marker/limit filter starting at placeholder n.
func listClause(params catalog.ListParams, n int) (string, []interface{}) {
	var (
		where []string
		args  []interface{}
	)
	if params.Prefix != "" {
		where = append(where, fmt.Sprintf("starts_with(name, $%d)", n))
		args = append(args, params.Prefix)
		n++
	}
	if params.Marker != "" {
		where = append(where, fmt.Sprintf("name > $%d", n))
		args = append(args, params.Marker)
		n++
	}

	clause := ""
	if len(where) > 0 {
		clause = " AND " + strings.Join(where, " AND ")
	}
	clause += " ORDER BY name"
	if params.Limit > 0 {
		clause += fmt.Sprintf(" LIMIT $%d", n)
		args = append(args, params.Limit)
	}
	return clause, args
}

func (c *Catalog) ListContainers(ctx context.Context, account string, params catalog.ListParams) ([]*catalog.Container, error) {
	clause, args := listClause(params, 2)
	query := `SELECT ` + containerColumns + ` FROM swift_container WHERE account = $1` + clause

	rows, err := c.db.Query(ctx, query, append([]interface{}{account}, args...)...)
	if err != nil {
		return nil, c.handlePostgresError("list containers", err)
	}
	defer rows.Close()

	var out []*catalog.Container
	for rows.Next() {
		ct, err := scanContainer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ct)
	}
	return out, rows.Err()
}

func (c *Catalog) ContainerStats(ctx context.Context, account, name string) (catalog.ContainerStats, error) {
	if _, err := c.GetContainer(ctx, account, name); err != nil {
		return catalog.ContainerStats{}, err
	}

	query := `SELECT COUNT(*), COALESCE(SUM(size), 0) FROM swift_object WHERE account = $1 AND container = $2`

	var stats catalog.ContainerStats
	if err := c.db.QueryRow(ctx, query, account, name).Scan(&stats.Count, &stats.Bytes); err != nil {
		return catalog.ContainerStats{}, c.handlePostgresError("container stats", err)
	}
	return stats, nil
}

// Object operations

const objectColumns = `account, container, name, blob_key, size, etag, content_type,
	metadata, cors, delete_at, last_modified`

func scanObject(row pgx.Row) (*catalog.Object, error) {
	var (
		o          catalog.Object
		meta, cors []byte
	)
	if err := row.Scan(&o.Account, &o.Container, &o.Name, &o.BlobKey, &o.Size, &o.ETag, &o.ContentType,
		&meta, &cors, &o.DeleteAt, &o.LastModified); err != nil {
		return nil, err
	}
	var err error
	if o.Metadata, err = decodeMap(meta); err != nil {
		return nil, err
	}
	if o.CORS, err = decodeMap(cors); err != nil {
		return nil, err
	}
	return &o, nil
}

func (c *Catalog) PutObject(ctx context.Context, object *catalog.Object) error {
	meta, err := encodeMap(object.Metadata)
	if err != nil {
		return err
	}
	cors, err := encodeMap(object.CORS)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO swift_object (
			account, container, name, blob_key, size, etag, content_type,
			metadata, cors, delete_at, last_modified
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (account, container, name) DO UPDATE SET
			blob_key = EXCLUDED.blob_key,
			size = EXCLUDED.size,
			etag = EXCLUDED.etag,
			content_type = EXCLUDED.content_type,
			metadata = EXCLUDED.metadata,
			cors = EXCLUDED.cors,
			delete_at = EXCLUDED.delete_at,
			last_modified = EXCLUDED.last_modified`

	_, err = c.db.Exec(ctx, query,
		object.Account, object.Container, object.Name, object.BlobKey, object.Size, object.ETag,
		object.ContentType, meta, cors, object.DeleteAt, object.LastModified)
	if err != nil {
		return c.handlePostgresError("put object", err)
	}
	return nil
}

func (c *Catalog) GetObject(ctx context.Context, account, container, name string) (*catalog.Object, error) {
	query := `SELECT ` + objectColumns + ` FROM swift_object WHERE account = $1 AND container = $2 AND name = $3`

	o, err := scanObject(c.db.QueryRow(ctx, query, account, container, name))
	if err != nil {
		return nil, c.handlePostgresError("get object", err)
	}
	return o, nil
}

func (c *Catalog) DeleteObject(ctx context.Context, account, container, name string) error {
	tag, err := c.db.Exec(ctx,
		`DELETE FROM swift_object WHERE account = $1 AND container = $2 AND name = $3`,
		account, container, name)
	if err != nil {
		return c.handlePostgresError("delete object", err)
	}
	if tag.RowsAffected() == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

func (c *Catalog) ListObjects(ctx context.Context, account, container string, params catalog.ListParams) ([]*catalog.Object, error) {
	if _, err := c.GetContainer(ctx, account, container); err != nil {
		return nil, err
	}

	clause, args := listClause(params, 3)
	query := `SELECT ` + objectColumns + ` FROM swift_object WHERE account = $1 AND container = $2` + clause

	rows, err := c.db.Query(ctx, query, append([]interface{}{account, container}, args...)...)
	if err != nil {
		return nil, c.handlePostgresError("list objects", err)
	}
	defer rows.Close()

	var out []*catalog.Object
	for rows.Next() {
		o, err := scanObject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (c *Catalog) NextSequence(ctx context.Context) (int64, error) {
	var seq int64
	if err := c.db.QueryRow(ctx, `SELECT nextval('swift_version_seq')`).Scan(&seq); err != nil {
		return 0, c.handlePostgresError("next sequence", err)
	}
	return seq, nil
}

var _ catalog.Catalog = (*Catalog)(nil)
