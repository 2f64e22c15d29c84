package main

import (
	"context"
	"os"

	"github.com/rs/zerolog/log"

	"kikimimi/internal/config"
	"kikimimi/internal/device"
	"kikimimi/internal/logging"
	"kikimimi/internal/server"
)

func main() {
	// 設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("設定の読み込みに失敗しました")
	}

	logger, closer, err := logging.New(cfg.Log.Options(), os.Stderr)
	if err != nil {
		log.Fatal().Err(err).Msg("ロガーの作成に失敗しました")
	}
	defer closer.Close()
	log.Logger = logger

	// サーバーを作成
	srv, err := server.New(cfg, device.Deps{Logger: &logger})
	if err != nil {
		logger.Fatal().Err(err).Msg("サーバーの作成に失敗しました")
	}

	// サーバーを起動
	if err := srv.Start(context.Background()); err != nil {
		logger.Error().Err(err).Msg("サーバーの起動に失敗しました")
		closer.Close()
		os.Exit(1)
	}
}
