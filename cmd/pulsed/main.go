package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/matheus3301/pulse/internal/daemon"
	"github.com/matheus3301/pulse/internal/instance"
	"go.uber.org/fx"
)

func main() {
	instanceFlag := flag.String("instance", "", "instance name (overrides config default)")
	configFlag := flag.String("config", "", "config file path (default ~/.pulse/config.toml)")
	flag.Parse()

	name := instance.Resolve(*instanceFlag)
	if err := instance.ValidateName(name); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{Instance: name, ConfigPath: *configFlag}),
	)

	app.Run()
}
