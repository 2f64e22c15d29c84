// Package main はkikimimiサーバーコマンドの実装です
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"
	"github.com/rs/zerolog/log"

	"kikimimi/internal/config"
	"kikimimi/internal/device"
	"kikimimi/internal/logging"
	"kikimimi/internal/process"
	"kikimimi/internal/server"
)

// options はコマンドラインオプション
type options struct {
	Host      string `long:"host" description:"サーバーのホスト (デフォルト: 0.0.0.0)"`
	Port      int    `short:"p" long:"port" description:"サーバーのポート (デフォルト: 8000)"`
	Config    string `short:"c" long:"config" env:"KIKIMIMI_CONFIG" description:"YAML設定ファイルのパス"`
	LogLevel  string `long:"log-level" description:"ログレベル (trace, debug, info, warn, error)"`
	KillStale bool   `long:"kill-stale" description:"起動前に前回の実行で残った子プロセスを終了する"`
}

// staleBinaries は起動時に残っていれば終了させるコマンド
var staleBinaries = []string{"mjpg_streamer", "arecord", "aplay", "espeak", "madplay"}

func main() {
	if err := run(); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	parser.Usage = "[オプション]"
	if _, err := parser.Parse(); err != nil {
		return err
	}

	// 設定を読み込む
	cfg, err := config.LoadFile(opts.Config)
	if err != nil {
		return fmt.Errorf("設定の読み込みに失敗しました: %w", err)
	}

	// コマンドラインオプションで設定を上書き
	if opts.Host != "" {
		cfg.Server.Host = opts.Host
	}
	if opts.Port != 0 {
		cfg.Server.Port = opts.Port
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("設定の検証に失敗しました: %w", err)
	}

	logger, closer, err := logging.New(cfg.Log.Options(), os.Stderr)
	if err != nil {
		return fmt.Errorf("ロガーの作成に失敗しました: %w", err)
	}
	defer closer.Close()
	log.Logger = logger

	ctx := context.Background()

	if opts.KillStale {
		logger.Info().Strs("binaries", staleBinaries).Msg("残っている子プロセスを終了します")
		process.KillStale(ctx, process.NewExecSpawner(), staleBinaries...)
	}

	// サーバーを作成
	srv, err := server.New(cfg, device.Deps{Logger: &logger})
	if err != nil {
		return err
	}

	// サーバーを起動
	logger.Info().Str("addr", cfg.ServerAddress()).Msg("kikimimi サーバーを起動します")
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("サーバーの起動に失敗しました: %w", err)
	}
	return nil
}
