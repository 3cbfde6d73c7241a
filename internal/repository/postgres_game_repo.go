package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/gamefinder/internal/model"
)

const gameColumns = `id, name, genre, platform, year, rating`

// PostgresGameRepo はPostgreSQLを使用したゲームカタログリポジトリ。
// 読み出した行と書き込むペイロードはmodel.Validatorで形を検証する。
type PostgresGameRepo struct {
	db *sql.DB
}

// NewPostgresGameRepo はPostgresGameRepoを生成する。
func NewPostgresGameRepo(db *sql.DB) *PostgresGameRepo {
	return &PostgresGameRepo{db: db}
}

// List は全件をID昇順で返す。
func (r *PostgresGameRepo) List(ctx context.Context) ([]model.Game, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+gameColumns+` FROM games ORDER BY id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("ゲーム一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	games := make([]model.Game, 0)
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, err
		}
		games = append(games, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ゲーム一覧の走査に失敗しました: %w", err)
	}

	return games, nil
}

// FindByID は指定IDのゲームを取得する。見つからない場合はnilを返す。
func (r *PostgresGameRepo) FindByID(ctx context.Context, id int64) (*model.Game, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+gameColumns+` FROM games WHERE id = $1`,
		id,
	)
	g, err := scanGame(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// Create はゲームを作成する。IDはデータベースが採番する。
func (r *PostgresGameRepo) Create(ctx context.Context, in model.GameInput) (*model.Game, error) {
	if err := model.ValidateGameInput(in); err != nil {
		return nil, err
	}

	row := r.db.QueryRowContext(ctx,
		`INSERT INTO games (name, genre, platform, year, rating, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, now(), now())
		 RETURNING `+gameColumns,
		in.Name, in.Genre, in.Platform, in.Year, in.Rating,
	)
	g, err := scanGame(row)
	if err != nil {
		return nil, fmt.Errorf("ゲームの作成に失敗しました: %w", err)
	}
	return &g, nil
}

// Update は全フィールドを上書きする。対象が無い場合はnilを返す。
func (r *PostgresGameRepo) Update(ctx context.Context, id int64, in model.GameInput) (*model.Game, error) {
	if err := model.ValidateGameInput(in); err != nil {
		return nil, err
	}

	row := r.db.QueryRowContext(ctx,
		`UPDATE games SET
		    name = $2, genre = $3, platform = $4, year = $5, rating = $6,
		    updated_at = now()
		 WHERE id = $1
		 RETURNING `+gameColumns,
		id, in.Name, in.Genre, in.Platform, in.Year, in.Rating,
	)
	g, err := scanGame(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ゲームの更新に失敗しました: %w", err)
	}
	return &g, nil
}

// Delete は指定IDのゲームを削除する。存在しない場合もエラーにしない。
func (r *PostgresGameRepo) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM games WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("ゲームの削除に失敗しました: %w", err)
	}
	return nil
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

// scanGame は1行を読み出し、形を検証する。
// sql.ErrNoRowsはラップせずにそのまま返す。
func scanGame(s rowScanner) (model.Game, error) {
	var g model.Game
	err := s.Scan(&g.ID, &g.Name, &g.Genre, &g.Platform, &g.Year, &g.Rating)
	if err == sql.ErrNoRows {
		return model.Game{}, err
	}
	if err != nil {
		return model.Game{}, fmt.Errorf("ゲーム行の読み出しに失敗しました: %w", err)
	}
	if err := model.ValidateGame(g); err != nil {
		return model.Game{}, err
	}
	return g, nil
}

// compile-time interface check
var _ GameRepository = (*PostgresGameRepo)(nil)
