package repository

import (
	"context"

	"gorm.io/gorm"
)

// txKey は接続元の *gorm.DB ごとにトランザクションを区別する。
// 別のデータベースを使うリポジトリが他方のトランザクションに乗ることはない。
type txKey struct {
	db *gorm.DB
}

// TxManager は context にトランザクションを載せて各リポジトリに共有させる。
type TxManager struct {
	db *gorm.DB
}

// NewTxManager は新しいTxManagerを生成する。
func NewTxManager(db *gorm.DB) *TxManager {
	return &TxManager{db: db}
}

// WithTx は fn を1つのトランザクション内で実行する。
// fn がエラーを返した場合はロールバックする。既にトランザクション内であればそれを再利用する。
func (m *TxManager) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{m.db}).(*gorm.DB); ok {
		return fn(ctx)
	}
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{m.db}, tx))
	})
}

// conn は context に db のトランザクションがあればそれを、なければ db を返す。
func conn(ctx context.Context, db *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey{db}).(*gorm.DB); ok {
		return tx.WithContext(ctx)
	}
	return db.WithContext(ctx)
}
