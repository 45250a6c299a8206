package main

import (
	"os"

	"github.com/alecthomas/kong"
	"github.com/sjc5/zoetrope"
)

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("zoetrope"),
		kong.Description("Build and serve single-page animated demos."),
		kong.UsageOnError(),
		kong.Vars{"version": zoetrope.Version},
	)
	if err := ctx.Run(&Global{Verbose: cli.Verbose}); err != nil {
		os.Exit(1)
	}
}
