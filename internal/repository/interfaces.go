// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/hitoshi/regwatch/internal/model"
)

// UserRepository はユーザーの参照インターフェース。
// ユーザーの作成・削除は外部の認証基盤が行う。
type UserRepository interface {
	Exists(ctx context.Context, id string) (bool, error)
}

// SourceRepository は監視対象Sourceの永続化インターフェース。
type SourceRepository interface {
	// FindByID は指定IDのSourceを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Source, error)

	// ListAll はすべてのSourceをID順で返す。
	ListAll(ctx context.Context) ([]*model.Source, error)

	// SaveScrape は抽出成功時の結果を同一トランザクションで保存する。
	// 生成されたアラートを作成し、マージ済みの事実・フィードGUID・取得状態を更新する。
	SaveScrape(ctx context.Context, src *model.Source, alerts []*model.Alert) error

	// RecordFailure は抽出失敗を記録する。事実は変更しない。
	RecordFailure(ctx context.Context, src *model.Source) error
}

// AlertRepository はアラートの永続化インターフェース。
// アラートは監査のため削除しない。
type AlertRepository interface {
	// Create はアラートを作成する。
	Create(ctx context.Context, alert *model.Alert) error

	// FindByID は指定IDのアラートを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Alert, error)

	// ListForDigest はダイジェスト対象のアラートを返す。
	// since以降に作成されたACTIVEのアラートのうち、Sourceフィルタに一致し、
	// 指定ユーザーが確認済みでないものを、優先度の降順・作成日時の降順で返す。
	ListForDigest(ctx context.Context, userID string, since time.Time, sources model.SourceSet) ([]*model.Alert, error)

	// Archive はアラートをARCHIVEDに遷移させ、更新後のアラートを返す。
	// 見つからない場合はnil、ARCHIVEDからの遷移は*model.APIErrorを返す。
	Archive(ctx context.Context, id string) (*model.Alert, error)
}

// PreferenceRepository はアラート配信設定の永続化インターフェース。
type PreferenceRepository interface {
	// ListWithUsers はすべての配信設定を送信先ユーザーの情報付きで返す。
	ListWithUsers(ctx context.Context) ([]PreferenceWithUser, error)

	// ListDigestSubscribers はdaily_digestが有効な配信設定をユーザー情報付きで返す。
	ListDigestSubscribers(ctx context.Context) ([]PreferenceWithUser, error)

	// FindByUserID は指定ユーザーの配信設定を取得する。見つからない場合はnilを返す。
	FindByUserID(ctx context.Context, userID string) (*model.AlertPreference, error)

	// Upsert は配信設定を作成または上書きする。Sourceフィルタは正規化して保存する。
	Upsert(ctx context.Context, pref *model.AlertPreference) error
}

// NotificationRepository はアプリ内通知の永続化インターフェース。
type NotificationRepository interface {
	// CreateIfAbsent は通知を作成する。(user_id, alert_id) の行が既に存在する場合は何もしない。
	// 作成した場合はtrue、既存のため作成しなかった場合はfalseを返す。
	CreateIfAbsent(ctx context.Context, n *model.Notification) (bool, error)
}

// AcknowledgementRepository はアラート確認記録の永続化インターフェース。
type AcknowledgementRepository interface {
	// Upsert は確認記録を作成または更新する。
	// 既存の記録のread_atは維持し、dismissed_atは指定された場合のみ更新する。
	Upsert(ctx context.Context, ack *model.Acknowledgement) error
}

// DeliveryRepository は即時メールの送信権の管理インターフェース。
type DeliveryRepository interface {
	// Claim は (user_id, alert_id) の送信権を確保する。
	// 既に他の実行が確保済み（または送信済み）の場合はfalseを返す。
	// 未送信のまま staleAfter 以上経過した確保は再取得できる。
	Claim(ctx context.Context, userID, alertID string, staleAfter time.Duration) (bool, error)

	// MarkSent は送信完了を記録する。
	MarkSent(ctx context.Context, userID, alertID string) error

	// MarkOutcomeUnknown は送信がタイムアウトして配送の有無が分からないことを記録する。
	// 記録された確保は解放も取り直しもされず、再送されない。
	MarkOutcomeUnknown(ctx context.Context, userID, alertID string) error

	// Release は未送信の確保を解放し、次回の実行で再送できるようにする。
	Release(ctx context.Context, userID, alertID string) error
}

// PreferenceWithUser は配信設定と送信先ユーザー情報を結合した構造体。
type PreferenceWithUser struct {
	model.AlertPreference
	Email string
	Name  string
}

// execer は*sql.DBと*sql.Txの書き込み操作を抽象化する。
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}
