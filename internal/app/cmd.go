package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe は運用APIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker はスクレイプ・ダイジェスト・期限切れスイープを定期実行するワーカーモードを示す。
	CommandWorker Command = "worker"
	// CommandScrape はスクレイプスイープを1回実行することを示す。
	// 2番目の引数でSourceIDを指定すると、そのSourceだけを対象にする。
	CommandScrape Command = "scrape"
	// CommandDigest はダイジェスト集約を1回実行することを示す。
	CommandDigest Command = "digest"
	// CommandLifecycle はアラートの期限切れスイープを1回実行することを示す。
	CommandLifecycle Command = "lifecycle"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch Command(args[0]) {
	case CommandServe, CommandWorker, CommandScrape, CommandDigest,
		CommandLifecycle, CommandMigrate, CommandHealthcheck:
		return Command(args[0])
	default:
		return CommandServe
	}
}

// scrapeSourceID はscrapeサブコマンドの対象SourceIDを返す。未指定の場合は空文字列。
func scrapeSourceID(args []string) string {
	if len(args) < 2 {
		return ""
	}
	return args[1]
}

// isOneShot はコマンドが1回実行して終了するジョブかどうかを返す。
func (c Command) isOneShot() bool {
	return c == CommandScrape || c == CommandDigest || c == CommandLifecycle
}
