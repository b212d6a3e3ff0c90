package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
)

// TokenRepo stores sha-256 hashes of refresh tokens.  Raw tokens never
// reach the database.
type TokenRepo struct{ DB *sql.DB }

func NewTokenRepo(db *sql.DB) *TokenRepo { return &TokenRepo{DB: db} }

var utcNow = goqu.L("UTC_TIMESTAMP()")

func refreshTokens() *goqu.SelectDataset {
	return dialect.From("refresh_tokens").Prepared(true)
}

// StoreRefresh records a newly issued token.
func (r *TokenRepo) StoreRefresh(ctx context.Context, userID uint64, tokenHash string, exp time.Time) error {
	q, args, err := dialect.Insert("refresh_tokens").Prepared(true).Rows(goqu.Record{
		"user_id":    userID,
		"token_hash": tokenHash,
		"expires_at": exp.UTC(),
	}).ToSQL()
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, q, args...)
	return mapError(err)
}

// ValidateRefresh resolves a live token to its user.  Expiry is compared on
// the server clock so every instance agrees.
func (r *TokenRepo) ValidateRefresh(ctx context.Context, tokenHash string) (uint64, error) {
	q, args, err := refreshTokens().Select("user_id").Where(
		goqu.C("token_hash").Eq(tokenHash),
		goqu.C("revoked_at").IsNull(),
		goqu.C("expires_at").Gt(utcNow),
	).Limit(1).ToSQL()
	if err != nil {
		return 0, err
	}
	var userID uint64
	if err := r.DB.QueryRowContext(ctx, q, args...).Scan(&userID); err != nil {
		return 0, mapError(err)
	}
	return userID, nil
}

func (r *TokenRepo) revoke(ctx context.Context, where exp.Expression) error {
	q, args, err := dialect.Update("refresh_tokens").Prepared(true).
		Set(goqu.Record{"revoked_at": utcNow}).
		Where(where, goqu.C("revoked_at").IsNull()).
		ToSQL()
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, q, args...)
	return mapError(err)
}

// RevokeByHash revokes one token.  Unknown or already revoked tokens are
// not an error.
func (r *TokenRepo) RevokeByHash(ctx context.Context, tokenHash string) error {
	return r.revoke(ctx, goqu.C("token_hash").Eq(tokenHash))
}

// RevokeAllForUser revokes every live token of a user, as after a password
// change.
func (r *TokenRepo) RevokeAllForUser(ctx context.Context, userID uint64) error {
	return r.revoke(ctx, goqu.C("user_id").Eq(userID))
}
