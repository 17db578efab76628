package api

import (
	"errors"
	"fmt"
	"html/template"
	"net/http"

	"github.com/georgeantonopoulos/Basecamp-MCP-Server/internal/oauth"
	"github.com/georgeantonopoulos/Basecamp-MCP-Server/internal/token"
)

// The browser-facing consent pages. Minimal HTML: this surface exists so a
// human can complete the OAuth dance once; everything else is JSON.
var pageTmpl = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html>
<head><title>Basecamp MCP Server</title>
<style>
body { font-family: sans-serif; margin: 40px auto; max-width: 640px; }
pre { background: #f5f5f5; padding: 12px; border-radius: 5px; overflow-x: auto; }
.button { display: inline-block; background: #4CAF50; color: white; padding: 10px 20px;
          text-decoration: none; border-radius: 5px; margin-top: 16px; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
{{if .Message}}<p>{{.Message}}</p>{{end}}
{{if .Detail}}<pre>{{.Detail}}</pre>{{end}}
{{if .AuthURL}}<a class="button" href="{{.AuthURL}}">Log in with Basecamp</a>{{end}}
{{if .ShowLogout}}<a class="button" href="/logout">Logout</a>{{end}}
{{if .ShowHome}}<a class="button" href="/">Home</a>{{end}}
</body>
</html>
`))

type page struct {
	Title      string
	Message    string
	Detail     string
	AuthURL    string
	ShowLogout bool
	ShowHome   bool
}

func (a *API) renderPage(w http.ResponseWriter, status int, p page) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := pageTmpl.Execute(w, p); err != nil {
		a.logger.Error("rendering page", "error", err)
	}
}

func (a *API) handleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	cred, err := a.tokens.Store().Load()
	if err == nil {
		a.renderPage(w, http.StatusOK, page{
			Title:   "Basecamp OAuth Status",
			Message: "You are authenticated with Basecamp.",
			Detail: fmt.Sprintf("account_id: %s\naccess_token: %s\nexpires_at: %s",
				cred.AccountID, maskToken(cred.AccessToken), cred.ExpiresAt.Format("2006-01-02 15:04:05 MST")),
			ShowLogout: true,
		})
		return
	}

	authURL, err := a.oauth.AuthorizationURL()
	if err != nil {
		a.logger.Error("building authorization url", "error", err)
		a.renderPage(w, http.StatusInternalServerError, page{
			Title:   "Error",
			Message: "Could not build the Basecamp authorization URL.",
		})
		return
	}
	a.renderPage(w, http.StatusOK, page{
		Title:   "Basecamp MCP Server",
		Message: "Log in with your Basecamp account to let connected tools act on your behalf.",
		AuthURL: authURL,
	})
}

func (a *API) handleAuthCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if errMsg := q.Get("error"); errMsg != "" {
		a.renderPage(w, http.StatusBadRequest, page{
			Title:    "Authentication Error",
			Message:  "Basecamp returned an error: " + errMsg,
			ShowHome: true,
		})
		return
	}
	code := q.Get("code")
	if code == "" {
		a.renderPage(w, http.StatusBadRequest, page{
			Title:    "Error",
			Message:  "No authorization code received.",
			ShowHome: true,
		})
		return
	}

	_, err := a.oauth.Exchange(r.Context(), code, q.Get("state"))
	if err != nil {
		if errors.Is(err, oauth.ErrInvalidState) {
			a.renderPage(w, http.StatusBadRequest, page{
				Title:    "Authentication Error",
				Message:  "The state parameter did not verify. Start the login again from the home page.",
				ShowHome: true,
			})
			return
		}
		a.logger.Error("code exchange failed", "error", err)
		a.renderPage(w, http.StatusBadGateway, page{
			Title:    "Error",
			Message:  "Failed to exchange the authorization code: " + err.Error(),
			ShowHome: true,
		})
		return
	}

	http.Redirect(w, r, "/", http.StatusFound)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := a.tokens.Store().Clear(); err != nil {
		a.logger.Error("clearing credential", "error", err)
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

func (a *API) handleTokenInfo(w http.ResponseWriter, r *http.Request) {
	cred, err := a.tokens.Store().Load()
	if errors.Is(err, token.ErrNoCredential) {
		jsonResp(w, http.StatusNotFound, map[string]string{"message": "no token stored"})
		return
	}
	if err != nil {
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	jsonResp(w, http.StatusOK, map[string]any{
		"access_token":      maskToken(cred.AccessToken),
		"has_refresh_token": cred.RefreshToken != "",
		"account_id":        cred.AccountID,
		"scope":             cred.Scope,
		"expires_at":        cred.ExpiresAt,
		"obtained_at":       cred.ObtainedAt,
	})
}

// maskToken keeps enough of a token to correlate logs without disclosing it.
func maskToken(tok string) string {
	if len(tok) <= 20 {
		return "***"
	}
	return tok[:10] + "..." + tok[len(tok)-10:]
}
