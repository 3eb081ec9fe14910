package main

import (
	"fmt"
	"os"

	"github.com/solocore/textloom/internal/app"
	"github.com/solocore/textloom/internal/platform/envutil"
)

func main() {
	runServer := envutil.Bool("RUN_SERVER", true)
	runWorker := envutil.Bool("RUN_WORKER", true)

	a, err := app.New(runWorker)
	if err != nil {
		fmt.Printf("Failed to initialize app: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	a.Start()

	if runServer {
		port := envutil.String("PORT", "8080")
		fmt.Printf("Server listening on :%s\n", port)
		if err := a.Run(":" + port); err != nil {
			a.Log.Warn("Server failed", "error", err)
		}
		return
	}

	// Worker-only container: keep the process alive.
	select {}
}
