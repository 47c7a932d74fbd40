package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"

	"github.com/tarpai/connect-sync/internal/app"
	"github.com/tarpai/connect-sync/internal/profile"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	flag.Parse()

	name := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(name); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fxApp := fx.New(
		app.Module(app.Params{Profile: name}),
	)

	fxApp.Run()
}
