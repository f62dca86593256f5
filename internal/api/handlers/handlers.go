package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/baharkarakas/payflow/internal/api/httpx"
	"github.com/baharkarakas/payflow/internal/middleware"
	"github.com/baharkarakas/payflow/internal/services"
)

const (
	defaultLimit = 20
	maxLimit     = 100
	maxBody      = 1 << 20
)

func principal(r *http.Request) services.Principal {
	u, _ := middleware.FromCtx(r.Context())
	return services.Principal{UserID: u.UserID, Role: u.Role}
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// paging reads limit/skip, clamping limit to [1, maxLimit].
func paging(r *http.Request) (limit, skip int) {
	limit = defaultLimit
	q := r.URL.Query()
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		limit = n
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if n, err := strconv.Atoi(q.Get("skip")); err == nil && n >= 0 {
		skip = n
	}
	return limit, skip
}

func badRequest(w http.ResponseWriter, msg string) {
	httpx.WriteError(w, http.StatusBadRequest, "validation", msg, nil)
}
