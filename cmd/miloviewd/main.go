package main

import (
	"flag"

	"go.uber.org/fx"

	"github.com/miloview/miloview/internal/daemon"
)

func main() {
	configFlag := flag.String("config", "", "config file path (default ~/.miloview/config.toml)")
	flag.Parse()

	app := fx.New(
		daemon.Module(daemon.Params{ConfigPath: *configFlag}),
	)

	app.Run()
}
