package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"orgline/internal/store"
)

// SnapshotMeta describes one archived snapshot.
type SnapshotMeta struct {
	ID        int64  `json:"id"`
	CompanyID string `json:"company_id"`
	Version   string `json:"version"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

func (r Repo) InsertSnapshotTx(ctx context.Context, tx *sql.Tx, companyID, version string, doc []byte, now time.Time) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO snapshots(company_id,version,document_json,created_at) VALUES (?,?,?,?)`,
		companyID, version, string(doc), now.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// LatestSnapshot returns the newest archived document for a company.
func (r Repo) LatestSnapshot(ctx context.Context, companyID string) (SnapshotMeta, []byte, error) {
	var meta SnapshotMeta
	var doc string
	err := r.DB.QueryRowContext(ctx, `SELECT id,company_id,version,created_at,document_json FROM snapshots WHERE company_id=? ORDER BY id DESC LIMIT 1`, companyID).
		Scan(&meta.ID, &meta.CompanyID, &meta.Version, &meta.CreatedAt, &doc)
	if err == sql.ErrNoRows {
		return SnapshotMeta{}, nil, ErrNotFound
	}
	if err != nil {
		return SnapshotMeta{}, nil, err
	}
	return meta, []byte(doc), nil
}

func (r Repo) ListSnapshots(ctx context.Context, companyID string, limit int) ([]SnapshotMeta, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,company_id,version,created_at FROM snapshots WHERE company_id=? ORDER BY id DESC LIMIT ?`, companyID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []SnapshotMeta
	for rows.Next() {
		var m SnapshotMeta
		if err := rows.Scan(&m.ID, &m.CompanyID, &m.Version, &m.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// SnapshotBackend archives store snapshots in the journal database.
type SnapshotBackend struct {
	Repo      Repo
	CompanyID string
	Now       func() time.Time
}

func (b SnapshotBackend) Save(ctx context.Context, data []byte) error {
	now := time.Now
	if b.Now != nil {
		now = b.Now
	}
	tx, err := b.Repo.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := b.Repo.InsertSnapshotTx(ctx, tx, b.CompanyID, store.SnapshotVersion, data, now()); err != nil {
		return fmt.Errorf("archive snapshot: %w", err)
	}
	return tx.Commit()
}

func (b SnapshotBackend) Load(ctx context.Context) ([]byte, error) {
	_, doc, err := b.Repo.LatestSnapshot(ctx, b.CompanyID)
	if err == ErrNotFound {
		return nil, fmt.Errorf("%w: company %s", store.ErrSnapshotNotFound, b.CompanyID)
	}
	return doc, err
}
