package main

import (
	"os"

	"tradefeed/cmd"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	_ "golang.org/x/crypto/x509roots/fallback" // We need this to make TLS work in scratch containers
)

func main() {
	// A missing .env file is fine, flags and the environment still apply
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithFields(log.Fields{
			"error": err,
		}).Warn("Could not load .env file")
	}

	if err := cmd.RootApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
