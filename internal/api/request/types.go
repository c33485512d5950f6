package request

import (
	"net/http"
	"regexp"

	"github.com/gorilla/mux"

	"github.com/mcoot/tilerush/internal/api/apierr"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)

// Username returns the {username} path variable after validating it
func Username(r *http.Request) (string, error) {
	username := mux.Vars(r)["username"]
	if !usernamePattern.MatchString(username) {
		return "", apierr.NewInvalidRequestError("invalid username")
	}
	return username, nil
}
