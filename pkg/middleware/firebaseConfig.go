package middleware

import (
	"context"
	"net/http"

	firebase "firebase.google.com/go/v4"
	"github.com/rs/zerolog/log"
)

// FirebaseConfig is HTTP middleware setting the Firebase Auth client on
// the request context for the Authenticator and the ws handshake.
func FirebaseConfig(firebaseApp *firebase.App) func(next http.Handler) http.Handler {
	auth, err := firebaseApp.Auth(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("could not create firebase auth client")
	}

	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), "auth", auth)
			next.ServeHTTP(w, r.WithContext(ctx))
		}
		return http.HandlerFunc(fn)
	}
}
