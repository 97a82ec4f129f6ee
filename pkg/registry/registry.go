// Package registry persists MCP server records in Postgres. Config and
// status travel as JSONB documents keyed by the server id, so changes in
// either shape do not require schema migrations.
package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver

	"github.com/langconnect/mcpd/pkg/core"
	mcperrors "github.com/langconnect/mcpd/pkg/errors"
	"github.com/langconnect/mcpd/pkg/logger"
)

// Store is the persistence contract for MCP server records.
type Store interface {
	Register(ctx context.Context, req *core.CreateServerRequest, userID string) (*core.Server, error)
	Get(ctx context.Context, id string) (*core.Server, error)
	GetByName(ctx context.Context, name string) (*core.Server, error)
	List(ctx context.Context, opts ListOptions) (*core.ServerList, error)
	UpdateConfig(ctx context.Context, id string, patch *core.UpdateServerRequest) (*core.Server, error)
	UpdateStatus(ctx context.Context, id string, status core.ServerStatus) (*core.Server, error)
	Delete(ctx context.Context, id string) (bool, error)
	ListByState(ctx context.Context, state core.State) ([]*core.Server, error)
}

// ListOptions filters and paginates List. Zero values mean "no filter" and
// are normalized to the first page of DefaultPageSize records.
type ListOptions struct {
	UserID   string
	State    core.State
	Page     int
	PageSize int
}

// Pagination bounds.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

func (o ListOptions) normalize() ListOptions {
	if o.Page < 1 {
		o.Page = 1
	}
	if o.PageSize < 1 {
		o.PageSize = DefaultPageSize
	}
	if o.PageSize > MaxPageSize {
		o.PageSize = MaxPageSize
	}
	return o
}

// Postgres implements Store on a Postgres pool.
type Postgres struct {
	db *sql.DB
}

var _ Store = (*Postgres)(nil)

// Connection pool bounds and ping retry policy.
const (
	maxIdleConns     = 2
	maxOpenConns     = 10
	connectMaxTries  = 10
	connectFirstWait = 500 * time.Millisecond
)

// Connect opens a Postgres pool for the given URL and verifies connectivity.
// The initial ping is retried with exponential backoff so the control plane
// can come up alongside the database.
func Connect(ctx context.Context, databaseURL string) (*Postgres, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxIdleConns(maxIdleConns)
	db.SetMaxOpenConns(maxOpenConns)

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = connectFirstWait

	ping := func() (struct{}, error) {
		return struct{}{}, db.PingContext(ctx)
	}
	if _, err := backoff.Retry(ctx, ping,
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(connectMaxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warnf("Database not ready, retrying in %s: %v", next, err)
		}),
	); err != nil {
		_ = db.Close()
		return nil, mcperrors.NewUnavailableError("database unreachable", err)
	}

	return &Postgres{db: db}, nil
}

// NewPostgres wraps an existing pool. Tests use this; production code goes
// through Connect.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Close closes the underlying pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}

// serverColumns is the SELECT column list shared by all read queries.
const serverColumns = `id, config, status, created_at, updated_at, created_by`

// Register validates the request, allocates a port when none was given, and
// inserts the new record with a fresh stopped status. Allocation and insert
// share one transaction; the unique port index arbitrates allocators racing
// on separate transactions, surfacing the loser as a retryable conflict.
func (p *Postgres) Register(ctx context.Context, req *core.CreateServerRequest, userID string) (*core.Server, error) {
	cfg, err := req.BuildConfig()
	if err != nil {
		return nil, err
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(tx)

	if cfg.Port == 0 {
		port, portErr := nextFreePort(ctx, tx)
		if portErr != nil {
			return nil, portErr
		}
		cfg.Port = port
	}

	id := uuid.New().String()
	server := &core.Server{
		ID:     id,
		Config: cfg,
		Status: core.ServerStatus{
			ServerID: id,
			State:    core.StateStopped,
		},
		CreatedBy: userID,
	}

	configJSON, err := json.Marshal(server.Config)
	if err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	statusJSON, err := json.Marshal(server.Status)
	if err != nil {
		return nil, fmt.Errorf("encoding status: %w", err)
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO mcp_servers (id, name, config, status, created_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`,
		server.ID, server.Config.Name, configJSON, statusJSON, userID,
	).Scan(&server.CreatedAt, &server.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, "idx_mcp_servers_name") {
			return nil, mcperrors.NewConflictError(
				fmt.Sprintf("Server name '%s' already exists", server.Config.Name), err)
		}
		if isUniqueViolation(err, "idx_mcp_servers_port") {
			return nil, mcperrors.NewConflictError(
				fmt.Sprintf("Port %d is already allocated", server.Config.Port), err)
		}
		return nil, fmt.Errorf("inserting server: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}

	logger.Infof("Registered MCP server: %s (%s)", server.Config.Name, server.ID)
	return server, nil
}

// Get retrieves a server by id.
func (p *Postgres) Get(ctx context.Context, id string) (*core.Server, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+serverColumns+` FROM mcp_servers WHERE id = $1`, id)
	return scanServer(row)
}

// GetByName retrieves a server by its lowercase name.
func (p *Postgres) GetByName(ctx context.Context, name string) (*core.Server, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+serverColumns+` FROM mcp_servers WHERE name = $1`, strings.ToLower(name))
	return scanServer(row)
}

// List returns one page of servers, newest first, with the unpaged total
// under the same filters.
func (p *Postgres) List(ctx context.Context, opts ListOptions) (*core.ServerList, error) {
	opts = opts.normalize()

	var (
		conditions []string
		args       []any
	)
	if opts.UserID != "" {
		args = append(args, opts.UserID)
		conditions = append(conditions, fmt.Sprintf("created_by = $%d", len(args)))
	}
	if opts.State != "" {
		args = append(args, string(opts.State))
		conditions = append(conditions, fmt.Sprintf("status->>'status' = $%d", len(args)))
	}
	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM mcp_servers`+where, args...).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("counting servers: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM mcp_servers%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		serverColumns, where, len(args)+1, len(args)+2)
	args = append(args, opts.PageSize, (opts.Page-1)*opts.PageSize)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying servers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	servers := make([]*core.Server, 0, opts.PageSize)
	for rows.Next() {
		server, scanErr := scanServer(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		servers = append(servers, server)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating server rows: %w", err)
	}

	return &core.ServerList{
		Servers:  servers,
		Total:    total,
		Page:     opts.Page,
		PageSize: opts.PageSize,
	}, nil
}

// UpdateConfig merges the non-nil patch fields into the stored config and
// returns the record re-read after the write. Status is untouched.
func (p *Postgres) UpdateConfig(ctx context.Context, id string, patch *core.UpdateServerRequest) (*core.Server, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(tx)

	server, err := scanServer(tx.QueryRowContext(ctx,
		`SELECT `+serverColumns+` FROM mcp_servers WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}

	patch.Apply(&server.Config)

	configJSON, err := json.Marshal(server.Config)
	if err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE mcp_servers SET config = $2 WHERE id = $1`, id, configJSON); err != nil {
		return nil, fmt.Errorf("updating config: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}

	logger.Infof("Updated MCP server configuration: %s", id)
	return p.Get(ctx, id)
}

// UpdateStatus replaces the stored status document wholesale and returns the
// record re-read after the write.
func (p *Postgres) UpdateStatus(ctx context.Context, id string, status core.ServerStatus) (*core.Server, error) {
	status.ServerID = id

	statusJSON, err := json.Marshal(status)
	if err != nil {
		return nil, fmt.Errorf("encoding status: %w", err)
	}

	res, err := p.db.ExecContext(ctx,
		`UPDATE mcp_servers SET status = $2 WHERE id = $1`, id, statusJSON)
	if err != nil {
		return nil, fmt.Errorf("updating status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		return nil, mcperrors.NewNotFoundError("Server not found", nil)
	}

	logger.Infof("Updated MCP server status: %s -> %s", id, status.State)
	return p.Get(ctx, id)
}

// Delete removes a server record. It reports false when no record existed.
func (p *Postgres) Delete(ctx context.Context, id string) (bool, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM mcp_servers WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("deleting server: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	logger.Infof("Deleted MCP server from registry: %s", id)
	return true, nil
}

// ListByState returns all servers whose stored status carries the given
// state, newest first. The reconciler uses this to find rows to re-check.
func (p *Postgres) ListByState(ctx context.Context, state core.State) ([]*core.Server, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+serverColumns+`
		FROM mcp_servers
		WHERE status->>'status' = $1
		ORDER BY created_at DESC`,
		string(state),
	)
	if err != nil {
		return nil, fmt.Errorf("querying servers by state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var servers []*core.Server
	for rows.Next() {
		server, scanErr := scanServer(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		servers = append(servers, server)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating server rows: %w", err)
	}

	return servers, nil
}

// nextFreePort returns the smallest port >= core.DefaultPort absent from the
// stored configs. It runs on the registration transaction so the insert and
// the scan see one snapshot.
func nextFreePort(ctx context.Context, tx *sql.Tx) (int, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT (config->>'port')::int AS port
		FROM mcp_servers
		WHERE config->>'port' IS NOT NULL
		ORDER BY port`)
	if err != nil {
		return 0, fmt.Errorf("querying allocated ports: %w", err)
	}
	defer func() { _ = rows.Close() }()

	used := make(map[int]bool)
	for rows.Next() {
		var port int
		if err := rows.Scan(&port); err != nil {
			return 0, fmt.Errorf("scanning port: %w", err)
		}
		used[port] = true
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterating port rows: %w", err)
	}

	return firstFreePort(used), nil
}

// firstFreePort finds the smallest port >= core.DefaultPort not in used.
func firstFreePort(used map[int]bool) int {
	port := core.DefaultPort
	for used[port] {
		port++
	}
	return port
}

// scanner is an interface satisfied by both *sql.Row and *sql.Rows.
type scanner interface{ Scan(dest ...any) error }

// scanServer scans one row into a Server, decoding the JSONB documents.
func scanServer(sc scanner) (*core.Server, error) {
	var (
		server     core.Server
		configJSON []byte
		statusJSON []byte
	)
	err := sc.Scan(
		&server.ID, &configJSON, &statusJSON,
		&server.CreatedAt, &server.UpdatedAt, &server.CreatedBy,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, mcperrors.NewNotFoundError("Server not found", err)
		}
		return nil, fmt.Errorf("scanning server row: %w", err)
	}

	if err := json.Unmarshal(configJSON, &server.Config); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := json.Unmarshal(statusJSON, &server.Status); err != nil {
		return nil, fmt.Errorf("decoding status: %w", err)
	}

	return &server, nil
}

// pgUniqueViolation is SQLSTATE 23505 (pgx does not ship the code table).
const pgUniqueViolation = "23505"

// isUniqueViolation reports whether err is a unique violation on the named
// constraint or index.
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == constraint
	}
	return false
}

// rollback rolls back tx, ignoring errors (tx may already be committed).
func rollback(tx *sql.Tx) { _ = tx.Rollback() }
