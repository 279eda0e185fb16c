package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Abbas-1010/BlockChain-Based-File-Sharing-and-Fine-grained-access-control/internal/domain/model"
	"github.com/Abbas-1010/BlockChain-Based-File-Sharing-and-Fine-grained-access-control/internal/ledger"
)

// GetGrant возвращает грант пары (cid, grantee).
func (t *pgTx) GetGrant(ctx context.Context, cid string, grantee model.Identity) (*model.TimedGrant, error) {
	g := &model.TimedGrant{CID: cid, Grantee: grantee}
	err := t.db.QueryRow(ctx,
		"SELECT expires_at FROM timed_grants WHERE cid = $1 AND grantee = $2",
		cid, string(grantee),
	).Scan(&g.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ledger.ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения гранта %s/%s: %w", cid, grantee, err)
	}
	g.ExpiresAt = g.ExpiresAt.UTC()
	return g, nil
}

// PutGrant создаёт грант или перезаписывает срок существующего.
func (t *pgTx) PutGrant(ctx context.Context, g *model.TimedGrant) error {
	if err := t.writable(); err != nil {
		return err
	}
	_, err := t.db.Exec(ctx,
		`INSERT INTO timed_grants (cid, grantee, expires_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (cid, grantee) DO UPDATE SET expires_at = EXCLUDED.expires_at`,
		g.CID, string(g.Grantee), g.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("ошибка сохранения гранта %s/%s: %w", g.CID, g.Grantee, err)
	}
	return nil
}

// DeleteGrant удаляет грант пары.
func (t *pgTx) DeleteGrant(ctx context.Context, cid string, grantee model.Identity) error {
	if err := t.writable(); err != nil {
		return err
	}
	_, err := t.db.Exec(ctx,
		"DELETE FROM timed_grants WHERE cid = $1 AND grantee = $2",
		cid, string(grantee),
	)
	if err != nil {
		return fmt.Errorf("ошибка удаления гранта %s/%s: %w", cid, grantee, err)
	}
	return nil
}

// ListGrantsFor возвращает все гранты субъекта, упорядоченные по CID.
func (t *pgTx) ListGrantsFor(ctx context.Context, grantee model.Identity) ([]*model.TimedGrant, error) {
	rows, err := t.db.Query(ctx,
		"SELECT cid, expires_at FROM timed_grants WHERE grantee = $1 ORDER BY cid",
		string(grantee),
	)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения грантов %s: %w", grantee, err)
	}
	defer rows.Close()

	var result []*model.TimedGrant
	for rows.Next() {
		g := &model.TimedGrant{Grantee: grantee}
		if err := rows.Scan(&g.CID, &g.ExpiresAt); err != nil {
			return nil, fmt.Errorf("ошибка чтения гранта: %w", err)
		}
		g.ExpiresAt = g.ExpiresAt.UTC()
		result = append(result, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации грантов: %w", err)
	}
	return result, nil
}
