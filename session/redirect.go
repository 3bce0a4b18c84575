package session

import (
	"net/url"
	"strings"

	autherrors "github.com/jrsteele09/go-auth-client/internal/errors"
)

// Redirector sends the user to target, e.g. by opening a browser.
type Redirector func(target string)

// LoginRedirect builds the login entry point URL, carrying a user message for err.
func LoginRedirect(loginURL string, err error) string {
	if err == nil {
		return loginURL
	}
	sep := "?"
	if strings.Contains(loginURL, "?") {
		sep = "&"
	}
	return loginURL + sep + "error=" + url.QueryEscape(autherrors.UserMessage(err))
}
