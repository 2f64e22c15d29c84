package process

import (
	"context"
	"time"
)

// KillStale は前回の実行で残った同名のプロセスを強制終了する
// 該当プロセスが無い場合も含め、エラーは無視する
func KillStale(ctx context.Context, spawner Spawner, binaries ...string) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	for _, binary := range binaries {
		p, err := spawner.Spawn(ctx, Command{Name: "pkill", Args: []string{"-9", "-x", binary}})
		if err != nil {
			continue
		}
		p.Wait()
	}
}
