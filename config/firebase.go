package config

import (
	"context"

	firebase "firebase.google.com/go/v4"
	"github.com/rs/zerolog/log"
)

func SetupFirebase() *firebase.App {
	app, err := firebase.NewApp(context.Background(), nil)
	if err != nil {
		log.Fatal().Err(err).Msg("could not initialize firebase app")
	}
	return app
}
