package main

import (
	"net/http"

	"github.com/bmizerany/pat"
	"github.com/justinas/alice"

	"neighborly/internal/help"
)

func (app *application) routes() (http.Handler, error) {
	standardMiddleware := alice.New(app.recoverPanic, app.logRequest, requestID, secureHeaders, makeResponseJSON)
	publicMiddleware := standardMiddleware.Append(app.rateLimit)
	authMiddleware := standardMiddleware.Append(app.JWTMiddleware, app.rateLimit)

	mux := pat.New()
	mux.Get("/healthz", standardMiddleware.ThenFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok"}`))
	}))

	if err := help.RegisterHelpRoutes(mux, publicMiddleware, authMiddleware, app.helpDeps); err != nil {
		return nil, err
	}
	return mux, nil
}
