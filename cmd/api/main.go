package main

import (
	"go.uber.org/fx"

	"github.com/satguru/tiffin/internal/app"
)

func main() {
	fx.New(app.Module).Run()
}
