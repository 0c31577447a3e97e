package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

const (
	createServersTableSQL = `
		CREATE TABLE IF NOT EXISTS at_servers (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			address VARCHAR(64) NOT NULL,
			port INT NOT NULL,
			username VARCHAR(32) NOT NULL,
			password VARCHAR(32) NOT NULL
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`

	createNumbersTableSQL = `
		CREATE TABLE IF NOT EXISTS local_numbers (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			server_id BIGINT NOT NULL,
			module INT NOT NULL,
			number VARCHAR(15) NOT NULL,
			UNIQUE KEY uk_number (number),
			CONSTRAINT fk_numbers_server FOREIGN KEY (server_id) REFERENCES at_servers (id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`

	createSmsTableSQL = `
		CREATE TABLE IF NOT EXISTS sms (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			local_number_id BIGINT NOT NULL,
			direction INT NOT NULL,
			status INT NOT NULL,
			external_number VARCHAR(15) NOT NULL,
			message VARCHAR(255) NOT NULL,
			created_at DATETIME NOT NULL,
			KEY idx_sms_status_direction (status, direction),
			CONSTRAINT fk_sms_number FOREIGN KEY (local_number_id) REFERENCES local_numbers (id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`

	createCreditRequestsTableSQL = `
		CREATE TABLE IF NOT EXISTS credit_requests (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			local_number_id BIGINT NOT NULL,
			status INT NOT NULL,
			callback_url TEXT NOT NULL,
			credit DECIMAL(10,2) NULL,
			credit_expiration DATETIME NULL,
			created_at DATETIME NOT NULL,
			status_updated_at DATETIME NOT NULL,
			KEY idx_credit_status (status, status_updated_at),
			CONSTRAINT fk_credit_number FOREIGN KEY (local_number_id) REFERENCES local_numbers (id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`
)

// MySQL implements every repository interface over one database/sql pool.
type MySQL struct {
	db *sql.DB
}

var (
	_ ServerStore = (*MySQL)(nil)
	_ NumberStore = (*MySQL)(nil)
	_ SmsStore    = (*MySQL)(nil)
	_ CreditStore = (*MySQL)(nil)
)

// OpenMySQL connects to the record store and verifies the connection.
func OpenMySQL(dsn string) (*MySQL, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(time.Hour)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	return &MySQL{db: db}, nil
}

// InitTables creates the schema. Idempotent.
func (m *MySQL) InitTables(ctx context.Context) error {
	for _, ddl := range []string{
		createServersTableSQL,
		createNumbersTableSQL,
		createSmsTableSQL,
		createCreditRequestsTableSQL,
	} {
		if _, err := m.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	return nil
}

func (m *MySQL) Close() error {
	return m.db.Close()
}

func (m *MySQL) Servers(ctx context.Context) ([]Server, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT id, address, port, username, password FROM at_servers ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var servers []Server
	for rows.Next() {
		var s Server
		if err := rows.Scan(&s.ID, &s.Address, &s.Port, &s.Username, &s.Password); err != nil {
			return nil, err
		}
		servers = append(servers, s)
	}
	return servers, rows.Err()
}

func (m *MySQL) NumbersForServer(ctx context.Context, serverID int64) ([]LocalNumber, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT id, server_id, module, number FROM local_numbers WHERE server_id = ? ORDER BY module`,
		serverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var numbers []LocalNumber
	for rows.Next() {
		var n LocalNumber
		if err := rows.Scan(&n.ID, &n.ServerID, &n.Module, &n.Number); err != nil {
			return nil, err
		}
		numbers = append(numbers, n)
	}
	return numbers, rows.Err()
}

func (m *MySQL) NumberByDialable(ctx context.Context, number string) (LocalNumber, error) {
	var n LocalNumber
	err := m.db.QueryRowContext(ctx,
		`SELECT id, server_id, module, number FROM local_numbers WHERE number = ?`,
		number).Scan(&n.ID, &n.ServerID, &n.Module, &n.Number)
	if errors.Is(err, sql.ErrNoRows) {
		return LocalNumber{}, ErrNotFound
	}
	return n, err
}

func (m *MySQL) CreateSms(ctx context.Context, sms *Sms) error {
	if sms.CreatedAt.IsZero() {
		sms.CreatedAt = time.Now()
	}
	res, err := m.db.ExecContext(ctx,
		`INSERT INTO sms (local_number_id, direction, status, external_number, message, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sms.LocalNumberID, sms.Direction, sms.Status, sms.ExternalNumber, sms.Message, sms.CreatedAt)
	if err != nil {
		return err
	}
	sms.ID, err = res.LastInsertId()
	return err
}

func (m *MySQL) OutboxForServer(ctx context.Context, serverID int64) ([]OutboundSms, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT s.id, s.local_number_id, s.direction, s.status, s.external_number, s.message, s.created_at, n.module
		 FROM sms s
		 JOIN local_numbers n ON n.id = s.local_number_id
		 WHERE n.server_id = ? AND s.status = ? AND s.direction = ?
		 ORDER BY s.id`,
		serverID, StatusCreated, DirectionOutgoing)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OutboundSms
	for rows.Next() {
		var o OutboundSms
		if err := rows.Scan(&o.ID, &o.LocalNumberID, &o.Direction, &o.Status,
			&o.ExternalNumber, &o.Message, &o.CreatedAt, &o.Module); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (m *MySQL) InboxPending(ctx context.Context) ([]IncomingSms, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT s.id, s.local_number_id, s.direction, s.status, s.external_number, s.message, s.created_at, n.number
		 FROM sms s
		 JOIN local_numbers n ON n.id = s.local_number_id
		 WHERE s.status = ? AND s.direction = ?
		 ORDER BY s.id`,
		StatusCreated, DirectionIncoming)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var in []IncomingSms
	for rows.Next() {
		var i IncomingSms
		if err := rows.Scan(&i.ID, &i.LocalNumberID, &i.Direction, &i.Status,
			&i.ExternalNumber, &i.Message, &i.CreatedAt, &i.LocalNumber); err != nil {
			return nil, err
		}
		in = append(in, i)
	}
	return in, rows.Err()
}

func (m *MySQL) SetSmsStatus(ctx context.Context, id int64, status Status) error {
	// The status guard keeps the transition forward-only even when two
	// cycles race on the same row.
	_, err := m.db.ExecContext(ctx,
		`UPDATE sms SET status = ? WHERE id = ? AND status = ?`,
		status, id, StatusCreated)
	return err
}

func (m *MySQL) CreateCreditRequest(ctx context.Context, req *CreditRequest) error {
	now := time.Now()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	if req.StatusUpdatedAt.IsZero() {
		req.StatusUpdatedAt = now
	}
	res, err := m.db.ExecContext(ctx,
		`INSERT INTO credit_requests (local_number_id, status, callback_url, created_at, status_updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		req.LocalNumberID, req.Status, req.CallbackURL, req.CreatedAt, req.StatusUpdatedAt)
	if err != nil {
		return err
	}
	req.ID, err = res.LastInsertId()
	return err
}

func (m *MySQL) OldestCreated(ctx context.Context, localNumberID int64) (CreditRequest, error) {
	return m.oldestByStatus(ctx, localNumberID, StatusCreated)
}

func (m *MySQL) OldestSent(ctx context.Context, localNumberID int64) (CreditRequest, error) {
	return m.oldestByStatus(ctx, localNumberID, StatusCreditRequestSent)
}

func (m *MySQL) oldestByStatus(ctx context.Context, localNumberID int64, status Status) (CreditRequest, error) {
	var r CreditRequest
	err := m.db.QueryRowContext(ctx,
		`SELECT id, local_number_id, status, callback_url, credit, credit_expiration, created_at, status_updated_at
		 FROM credit_requests
		 WHERE local_number_id = ? AND status = ?
		 ORDER BY created_at LIMIT 1`,
		localNumberID, status).Scan(
		&r.ID, &r.LocalNumberID, &r.Status, &r.CallbackURL,
		&r.Credit, &r.CreditExpiration, &r.CreatedAt, &r.StatusUpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return CreditRequest{}, ErrNotFound
	}
	return r, err
}

// creditPredecessors returns the statuses a request may hold immediately
// before moving to target.
func creditPredecessors(target Status) []Status {
	switch target {
	case StatusCreditRequestSent, StatusTimedOut:
		return []Status{StatusCreated}
	case StatusProcessed:
		return []Status{StatusCreditRequestSent}
	case StatusFailed:
		return []Status{StatusCreated, StatusCreditRequestSent}
	}
	return nil
}

func (m *MySQL) SetCreditRequestStatus(ctx context.Context, id int64, status Status) error {
	preds := creditPredecessors(status)
	if len(preds) == 0 {
		return fmt.Errorf("invalid credit request transition to %s", status)
	}
	query := `UPDATE credit_requests SET status = ?, status_updated_at = ? WHERE id = ? AND status IN (?`
	args := []any{status, time.Now(), id, preds[0]}
	for _, p := range preds[1:] {
		query += ", ?"
		args = append(args, p)
	}
	query += ")"
	_, err := m.db.ExecContext(ctx, query, args...)
	return err
}

func (m *MySQL) ResolveCreditRequest(ctx context.Context, id int64, credit float64, expiration time.Time, status Status) error {
	_, err := m.db.ExecContext(ctx,
		`UPDATE credit_requests
		 SET status = ?, credit = ?, credit_expiration = ?, status_updated_at = ?
		 WHERE id = ? AND status = ?`,
		status, credit, expiration, time.Now(), id, StatusCreditRequestSent)
	return err
}

// ExpireStale times out CREATED requests whose status timestamp is strictly
// before cutoff. A row stamped exactly at the cutoff is left for the next
// cycle.
func (m *MySQL) ExpireStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := m.db.ExecContext(ctx,
		`UPDATE credit_requests SET status = ?, status_updated_at = ?
		 WHERE status = ? AND status_updated_at < ?`,
		StatusTimedOut, time.Now(), StatusCreated, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
