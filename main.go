package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"diffusion_backend/cmd"

	"github.com/joho/godotenv"
)

func main() {
	// A .env next to the binary is optional; real environment variables win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: failed to load .env: %v\n", err)
	}
	os.Exit(cmd.Execute())
}
