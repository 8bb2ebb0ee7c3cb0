package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/swaplane/swaplane-backend/internal/order"
)

// Postgres is the production Store. Amount columns are stored as text because
// swap amounts are 256-bit integers; they never take part in SQL arithmetic.
type Postgres struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

var _ Store = (*Postgres)(nil)

func NewPostgres(db *sql.DB, logger *zap.SugaredLogger) *Postgres {
	return &Postgres{
		db:     db,
		logger: logger,
	}
}

const orderColumns = `
	order_hash, maker, maker_asset, taker_asset, making_amount, taking_amount,
	receiver, hashlock, salt, src_chain_id, dst_chain_id, src_escrow, dst_escrow,
	status, taker, secret, extension, signature, created_at, updated_at
`

func (p *Postgres) CreateOrder(ctx context.Context, rec *order.Record) error {
	query := `
		INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		ON CONFLICT (order_hash) DO NOTHING
	`

	extension := rec.Extension
	if len(extension) == 0 {
		extension = json.RawMessage("null")
	}

	now := time.Now().UTC()
	res, err := p.db.ExecContext(ctx, query,
		rec.OrderHash,
		rec.Order.Maker,
		rec.Order.MakerAsset,
		rec.Order.TakerAsset,
		bigString(rec.Order.MakingAmount),
		bigString(rec.Order.TakingAmount),
		rec.Order.Receiver,
		rec.Order.Hashlock,
		bigString(rec.Order.Salt),
		rec.Order.SrcChainID,
		rec.Order.DstChainID,
		rec.Order.SrcEscrowAddr,
		rec.Order.DstEscrowAddr,
		rec.Status,
		rec.Taker,
		rec.Secret,
		[]byte(extension),
		rec.Signature,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read insert result: %w", err)
	}
	if affected == 0 {
		return order.ErrDuplicate
	}
	return nil
}

func (p *Postgres) GetOrder(ctx context.Context, orderHash string) (*order.Record, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE order_hash = $1`
	rec, err := scanOrder(p.db.QueryRowContext(ctx, query, orderHash))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return rec, nil
}

func (p *Postgres) ListOrders(ctx context.Context, f OrderFilter) (*Page, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	var conds []string
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(f.Statuses) > 0 {
		placeholders := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			placeholders[i] = arg(string(s))
		}
		conds = append(conds, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ", ")))
	}
	if f.Maker != "" {
		conds = append(conds, fmt.Sprintf("LOWER(maker) = LOWER(%s)", arg(f.Maker)))
	}
	if f.Asset != "" {
		p := arg(f.Asset)
		conds = append(conds, fmt.Sprintf("(LOWER(maker_asset) = LOWER(%s) OR LOWER(taker_asset) = LOWER(%s))", p, p))
	}
	if f.SrcChainID != "" {
		conds = append(conds, fmt.Sprintf("src_chain_id = %s", arg(string(f.SrcChainID))))
	}
	if f.DstChainID != "" {
		conds = append(conds, fmt.Sprintf("dst_chain_id = %s", arg(string(f.DstChainID))))
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	page := &Page{}
	countQuery := `SELECT COUNT(*) FROM orders` + where
	if err := p.db.QueryRowContext(ctx, countQuery, args...).Scan(&page.Total); err != nil {
		return nil, fmt.Errorf("failed to count orders: %w", err)
	}

	query := `SELECT ` + orderColumns + ` FROM orders` + where
	query += fmt.Sprintf(" ORDER BY created_at DESC, order_hash LIMIT %s OFFSET %s", arg(limit), arg(offset))

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		page.Orders = append(page.Orders, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	page.HasMore = offset+len(page.Orders) < page.Total
	return page, nil
}

func (p *Postgres) SetStatus(ctx context.Context, orderHash string, from, to order.Status) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", order.ErrInvalidTransition, from, to)
	}

	query := `
		UPDATE orders SET status = $1, updated_at = NOW()
		WHERE order_hash = $2 AND status = $3
	`
	res, err := p.db.ExecContext(ctx, query, to, orderHash, from)
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		return p.statusConflict(ctx, orderHash)
	}
	return nil
}

func (p *Postgres) SetTaker(ctx context.Context, orderHash, taker string) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE orders SET taker = $1, updated_at = NOW() WHERE order_hash = $2`,
		taker, orderHash,
	)
	if err != nil {
		return fmt.Errorf("failed to set taker: %w", err)
	}
	return requireRow(res)
}

func (p *Postgres) SetEscrows(ctx context.Context, orderHash, srcEscrow, dstEscrow string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE orders SET
			src_escrow = COALESCE(NULLIF($1, ''), src_escrow),
			dst_escrow = COALESCE(NULLIF($2, ''), dst_escrow),
			updated_at = NOW()
		WHERE order_hash = $3
	`, srcEscrow, dstEscrow, orderHash)
	if err != nil {
		return fmt.Errorf("failed to set escrows: %w", err)
	}
	return requireRow(res)
}

func (p *Postgres) CompleteWithSecret(ctx context.Context, orderHash, secret string) error {
	query := `
		UPDATE orders SET status = $1, secret = $2, updated_at = NOW()
		WHERE order_hash = $3 AND status = $4
	`
	res, err := p.db.ExecContext(ctx, query, order.StatusCompleted, secret, orderHash, order.StatusActive)
	if err != nil {
		return fmt.Errorf("failed to complete order: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		return p.statusConflict(ctx, orderHash)
	}
	return nil
}

// statusConflict distinguishes a missing row from a lost CAS race.
func (p *Postgres) statusConflict(ctx context.Context, orderHash string) error {
	var status string
	err := p.db.QueryRowContext(ctx, `SELECT status FROM orders WHERE order_hash = $1`, orderHash).Scan(&status)
	if err == sql.ErrNoRows {
		return order.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read order status: %w", err)
	}
	return fmt.Errorf("%w: order is %s", order.ErrStatusConflict, status)
}

func (p *Postgres) SaveExecution(ctx context.Context, st *ExecutionState) error {
	query := `
		INSERT INTO execution_states (order_hash, lease_id, step, taker, src_escrow, dst_escrow, src_tx_hash, dst_tx_hash, attempts, last_error, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		ON CONFLICT (order_hash) DO UPDATE SET
			lease_id = EXCLUDED.lease_id,
			step = EXCLUDED.step,
			taker = EXCLUDED.taker,
			src_escrow = EXCLUDED.src_escrow,
			dst_escrow = EXCLUDED.dst_escrow,
			src_tx_hash = EXCLUDED.src_tx_hash,
			dst_tx_hash = EXCLUDED.dst_tx_hash,
			attempts = EXCLUDED.attempts,
			last_error = EXCLUDED.last_error,
			updated_at = EXCLUDED.updated_at
	`
	_, err := p.db.ExecContext(ctx, query,
		st.OrderHash,
		st.LeaseID,
		st.Step,
		st.Taker,
		st.SrcEscrow,
		st.DstEscrow,
		st.SrcTxHash,
		st.DstTxHash,
		st.Attempts,
		st.LastError,
	)
	if err != nil {
		return fmt.Errorf("failed to save execution state: %w", err)
	}
	return nil
}

func (p *Postgres) GetExecution(ctx context.Context, orderHash string) (*ExecutionState, error) {
	query := `
		SELECT order_hash, lease_id, step, taker, src_escrow, dst_escrow, src_tx_hash, dst_tx_hash, attempts, last_error, updated_at
		FROM execution_states WHERE order_hash = $1
	`
	st := &ExecutionState{}
	err := p.db.QueryRowContext(ctx, query, orderHash).Scan(
		&st.OrderHash,
		&st.LeaseID,
		&st.Step,
		&st.Taker,
		&st.SrcEscrow,
		&st.DstEscrow,
		&st.SrcTxHash,
		&st.DstTxHash,
		&st.Attempts,
		&st.LastError,
		&st.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, order.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution state: %w", err)
	}
	return st, nil
}

func (p *Postgres) ListUnfinished(ctx context.Context, terminalSteps []string) ([]*ExecutionState, error) {
	var args []interface{}
	query := `
		SELECT order_hash, lease_id, step, taker, src_escrow, dst_escrow, src_tx_hash, dst_tx_hash, attempts, last_error, updated_at
		FROM execution_states
	`
	if len(terminalSteps) > 0 {
		placeholders := make([]string, len(terminalSteps))
		for i, s := range terminalSteps {
			args = append(args, s)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		query += fmt.Sprintf(" WHERE step NOT IN (%s)", strings.Join(placeholders, ", "))
	}
	query += " ORDER BY updated_at"

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query execution states: %w", err)
	}
	defer rows.Close()

	var out []*ExecutionState
	for rows.Next() {
		st := &ExecutionState{}
		err := rows.Scan(
			&st.OrderHash,
			&st.LeaseID,
			&st.Step,
			&st.Taker,
			&st.SrcEscrow,
			&st.DstEscrow,
			&st.SrcTxHash,
			&st.DstTxHash,
			&st.Attempts,
			&st.LastError,
			&st.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution state: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return out, nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*order.Record, error) {
	rec := &order.Record{}
	var making, taking, salt string
	var extension []byte

	err := row.Scan(
		&rec.OrderHash,
		&rec.Order.Maker,
		&rec.Order.MakerAsset,
		&rec.Order.TakerAsset,
		&making,
		&taking,
		&rec.Order.Receiver,
		&rec.Order.Hashlock,
		&salt,
		&rec.Order.SrcChainID,
		&rec.Order.DstChainID,
		&rec.Order.SrcEscrowAddr,
		&rec.Order.DstEscrowAddr,
		&rec.Status,
		&rec.Taker,
		&rec.Secret,
		&extension,
		&rec.Signature,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if rec.Order.MakingAmount, err = parseBig(making); err != nil {
		return nil, fmt.Errorf("bad making_amount: %w", err)
	}
	if rec.Order.TakingAmount, err = parseBig(taking); err != nil {
		return nil, fmt.Errorf("bad taking_amount: %w", err)
	}
	if rec.Order.Salt, err = parseBig(salt); err != nil {
		return nil, fmt.Errorf("bad salt: %w", err)
	}
	if len(extension) > 0 && string(extension) != "null" {
		rec.Extension = json.RawMessage(extension)
	}
	return rec, nil
}

func requireRow(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		return order.ErrNotFound
	}
	return nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseBig(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("not a decimal integer: %q", s)
	}
	return v, nil
}
