package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Abbas-1010/BlockChain-Based-File-Sharing-and-Fine-grained-access-control/internal/domain/model"
	"github.com/Abbas-1010/BlockChain-Based-File-Sharing-and-Fine-grained-access-control/internal/ledger"
)

// fileColumns — столбцы выборки файла. Статический список доступа
// агрегируется в массив в порядке исходного перечисления.
const fileColumns = `f.cid, f.ordinal, f.owner, f.visibility, f.created_at,
	COALESCE((SELECT array_agg(s.identity ORDER BY s.position)
	          FROM file_shares s WHERE s.cid = f.cid), '{}')`

// GetFile возвращает файл по CID.
func (t *pgTx) GetFile(ctx context.Context, cid string) (*model.FileRecord, error) {
	query := "SELECT " + fileColumns + " FROM files f WHERE f.cid = $1"
	f, err := scanFile(t.db.QueryRow(ctx, query, cid))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ledger.ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения файла %s: %w", cid, err)
	}
	return f, nil
}

// InsertFile сохраняет файл со статическим списком доступа.
func (t *pgTx) InsertFile(ctx context.Context, f *model.FileRecord) error {
	if err := t.writable(); err != nil {
		return err
	}

	ordinal, err := t.nextNumber(ctx, "files", "ordinal", 1)
	if err != nil {
		return err
	}

	tag, err := t.db.Exec(ctx,
		`INSERT INTO files (cid, ordinal, owner, visibility, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (cid) DO NOTHING`,
		f.CID, ordinal, string(f.Owner), string(f.Visibility), f.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("ошибка регистрации файла %s: %w", f.CID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: CID %s уже зарегистрирован", ledger.ErrConflict, f.CID)
	}

	if len(f.SharedWith) > 0 {
		_, err = t.db.Exec(ctx,
			`INSERT INTO file_shares (cid, identity, position)
			 SELECT $1, u.identity, u.pos
			 FROM unnest($2::text[]) WITH ORDINALITY AS u(identity, pos)`,
			f.CID, identityStrings(f.SharedWith),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: повтор в списке доступа %s", ledger.ErrConflict, f.CID)
			}
			return fmt.Errorf("ошибка сохранения списка доступа %s: %w", f.CID, err)
		}
	}

	f.Ordinal = ordinal
	return nil
}

// RemoveSharedWith исключает субъекта из статического списка доступа.
func (t *pgTx) RemoveSharedWith(ctx context.Context, cid string, id model.Identity) error {
	if err := t.writable(); err != nil {
		return err
	}

	var exists bool
	if err := t.db.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM files WHERE cid = $1)", cid).Scan(&exists); err != nil {
		return fmt.Errorf("ошибка проверки файла %s: %w", cid, err)
	}
	if !exists {
		return ledger.ErrNotFound
	}

	_, err := t.db.Exec(ctx,
		"DELETE FROM file_shares WHERE cid = $1 AND identity = $2",
		cid, string(id),
	)
	if err != nil {
		return fmt.Errorf("ошибка удаления из списка доступа %s: %w", cid, err)
	}
	return nil
}

// ListFiles возвращает файлы по фильтру в порядке регистрации.
func (t *pgTx) ListFiles(ctx context.Context, filter ledger.FileFilter) ([]*model.FileRecord, error) {
	where, args := buildFileWhere(filter)
	query := "SELECT " + fileColumns + " FROM files f" + where + " ORDER BY f.ordinal"

	rows, err := t.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка файлов: %w", err)
	}
	defer rows.Close()

	var result []*model.FileRecord
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения файла: %w", err)
		}
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации файлов: %w", err)
	}
	return result, nil
}

// buildFileWhere строит WHERE-условие для фильтрации файлов.
func buildFileWhere(filter ledger.FileFilter) (string, []any) {
	var conditions []string
	var args []any

	if filter.Owner != nil {
		args = append(args, string(*filter.Owner))
		conditions = append(conditions, fmt.Sprintf("f.owner = $%d", len(args)))
	}
	if filter.Visibility != nil {
		args = append(args, string(*filter.Visibility))
		conditions = append(conditions, fmt.Sprintf("f.visibility = $%d", len(args)))
	}
	if filter.SharedWith != nil {
		args = append(args, string(*filter.SharedWith))
		conditions = append(conditions, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM file_shares s WHERE s.cid = f.cid AND s.identity = $%d)", len(args)))
	}
	if filter.CIDs != nil {
		args = append(args, filter.CIDs)
		conditions = append(conditions, fmt.Sprintf("f.cid = ANY($%d::text[])", len(args)))
	}

	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

// scanFile сканирует строку выборки fileColumns.
func scanFile(row pgx.Row) (*model.FileRecord, error) {
	var (
		f          model.FileRecord
		owner      string
		visibility string
		createdAt  time.Time
		shares     []string
	)
	if err := row.Scan(&f.CID, &f.Ordinal, &owner, &visibility, &createdAt, &shares); err != nil {
		return nil, err
	}
	f.Owner = model.Identity(owner)
	f.Visibility = model.Visibility(visibility)
	f.CreatedAt = createdAt.UTC()
	f.SharedWith = make([]model.Identity, len(shares))
	for i, s := range shares {
		f.SharedWith[i] = model.Identity(s)
	}
	return &f, nil
}

func identityStrings(ids []model.Identity) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
