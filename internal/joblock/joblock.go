// Package joblock はバッチジョブのプロセス間排他を提供する。
// 外部スケジューラの起動が重なった場合に、同じジョブを二重に実行せずスキップする。
package joblock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLocked はジョブが他のプロセスで実行中であることを示す。
var ErrLocked = errors.New("job is already running")

// UnlockFunc はロックを解放する。
type UnlockFunc func(ctx context.Context) error

// Locker はジョブ単位のロックのインターフェース。
type Locker interface {
	// TryLock はロックの取得を1回だけ試みる。取得できない場合はErrLockedを返す。
	TryLock(ctx context.Context, job string) (UnlockFunc, error)
}

// releaseScript はトークンが一致する場合だけキーを削除する。
// TTL切れ後に他のプロセスが取り直したロックを消さないようにする。
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

const keyPrefix = "regwatch:job:"

// RedisLocker はRedisのSET NX PXによるLocker実装。
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLocker はRedisLockerを生成する。ttlはジョブの最大実行時間より長くする。
func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RedisLocker{client: client, ttl: ttl}
}

// NewRedisLockerFromURL はredis://形式のURLからRedisLockerを生成する。
func NewRedisLockerFromURL(rawURL string, ttl time.Duration) (*RedisLocker, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("REDIS_URLの解析に失敗しました: %w", err)
	}
	return NewRedisLocker(redis.NewClient(opts), ttl), nil
}

// TryLock はジョブのロックを取得する。
func (l *RedisLocker) TryLock(ctx context.Context, job string) (UnlockFunc, error) {
	key := keyPrefix + job
	token := uuid.New().String()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("ジョブロックの取得に失敗しました (%s): %w", job, err)
	}
	if !ok {
		return nil, ErrLocked
	}

	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
			return fmt.Errorf("ジョブロックの解放に失敗しました (%s): %w", job, err)
		}
		return nil
	}, nil
}

// Ping はRedisへの疎通を確認する。
func (l *RedisLocker) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Close はRedisクライアントを閉じる。
func (l *RedisLocker) Close() error {
	return l.client.Close()
}

// NoopLocker は常にロックを取得できるLocker。REDIS_URLが未設定の単一プロセス運用で使う。
type NoopLocker struct{}

// TryLock は常に成功する。
func (NoopLocker) TryLock(ctx context.Context, job string) (UnlockFunc, error) {
	return func(context.Context) error { return nil }, nil
}

// Do はロックを取得してfnを実行し、終了後にロックを解放する。
// ロックを取得できない場合はfnを実行せずにErrLockedを返す。
// 解放はfnのctxがキャンセルされていても行い、fnが成功して解放だけが失敗した場合はそのエラーを返す。
func Do(ctx context.Context, l Locker, job string, fn func(ctx context.Context) error) (err error) {
	unlock, err := l.TryLock(ctx, job)
	if err != nil {
		return err
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if unlockErr := unlock(releaseCtx); unlockErr != nil && err == nil {
			err = unlockErr
		}
	}()
	return fn(ctx)
}

var (
	_ Locker = (*RedisLocker)(nil)
	_ Locker = NoopLocker{}
)
