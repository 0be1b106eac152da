package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はゲートウェイサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandRefresh はフォロー中チャンネルのフィードを1回集約して表示することを示す。
	CommandRefresh Command = "refresh"
	// CommandFollow はチャンネルをフォロー一覧に追加することを示す。
	CommandFollow Command = "follow"
	// CommandUnfollow はチャンネルをフォロー一覧から削除することを示す。
	CommandUnfollow Command = "unfollow"
	// CommandWatch は動画を視聴済みとして記録することを示す。
	CommandWatch Command = "watch"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand はコマンドライン引数からサブコマンドと残りの引数を解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) (Command, []string) {
	if len(args) == 0 {
		return CommandServe, nil
	}

	switch args[0] {
	case "serve":
		return CommandServe, args[1:]
	case "refresh":
		return CommandRefresh, args[1:]
	case "follow":
		return CommandFollow, args[1:]
	case "unfollow":
		return CommandUnfollow, args[1:]
	case "watch":
		return CommandWatch, args[1:]
	case "migrate":
		return CommandMigrate, args[1:]
	case "healthcheck":
		return CommandHealthcheck, args[1:]
	default:
		return CommandServe, nil
	}
}
