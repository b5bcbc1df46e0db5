package handlers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/jwtrefresh/internal/handlers/render"
	"github.com/nkiryanov/jwtrefresh/internal/handlers/userctx"
)

func handleUserMe() http.Handler {
	type response struct {
		ID        uuid.UUID `json:"id"`
		Username  string    `json:"username"`
		CreatedAt time.Time `json:"created_at"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _ := userctx.FromContext(r.Context())
		render.JSON(w, response{ID: user.ID, Username: user.Username, CreatedAt: user.CreatedAt})
	})
}
