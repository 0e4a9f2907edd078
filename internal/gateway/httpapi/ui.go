package httpapi

import (
	"bytes"
	"errors"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/jkaninda/astro/internal/mission"
	"github.com/jkaninda/astro/internal/storage"
)

// Page text.
const (
	pageTitle       = "Space Agents"
	pageDescription = "Space missions require managing complex operations, often relying on repetitive and time-intensive tasks."
	inputLabel      = "Enter your query related to space missions:"
	submitLabel     = "Submit"
	spinnerText     = "Processing your query..."
	resultHeader    = "Result:"
	failureNotice   = "The crew could not complete your query. Please try again later."
)

const pageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 52rem; margin: 2rem auto; padding: 0 1rem; color: #1b1f24; }
label { display: block; margin: 1.5rem 0 .5rem; font-weight: 600; }
input[type=text] { width: 100%; padding: .6rem; font-size: 1rem; box-sizing: border-box; }
button { margin-top: .75rem; padding: .5rem 1.25rem; font-size: 1rem; }
#spinner { margin-top: 1rem; font-style: italic; }
.warning { margin-top: 1rem; padding: .75rem; background: #fff4ce; border-left: 4px solid #d4a72c; }
.error { margin-top: 1rem; padding: .75rem; background: #ffebe9; border-left: 4px solid #cf222e; }
pre.result { white-space: pre-wrap; word-wrap: break-word; background: #f6f8fa; padding: 1rem; }
</style>
</head>
<body>
<main>
<h1>{{.Title}}</h1>
<p>{{.Description}}</p>
<form id="query-form" method="post" action="/">
<label for="query">{{.InputLabel}}</label>
<input type="text" id="query" name="query" value="{{.Query}}" autocomplete="off">
<button type="submit">{{.SubmitLabel}}</button>
</form>
<div id="spinner" hidden>{{.SpinnerText}}</div>
{{- if .Warning}}
<div class="warning">{{.Warning}}</div>
{{- end}}
{{- if .Error}}
<div class="error">{{.Error}}{{if .RunID}} (run {{.RunID}}){{end}}</div>
{{- end}}
{{- if .Result}}
<h2>{{.ResultHeader}}</h2>
<pre class="result">{{.Result}}</pre>
{{- end}}
</main>
<script>
document.getElementById("query-form").addEventListener("submit", function () {
  document.getElementById("spinner").hidden = false;
});
</script>
</body>
</html>
`

type pageData struct {
	Title        string
	Description  string
	InputLabel   string
	SubmitLabel  string
	SpinnerText  string
	ResultHeader string

	Query   string
	Warning string
	Error   string
	RunID   string
	Result  string
}

type pageRenderer struct {
	tmpl *template.Template
}

func newPageRenderer() *pageRenderer {
	return &pageRenderer{tmpl: template.Must(template.New("page").Parse(pageTemplate))}
}

func (p *pageRenderer) render(w http.ResponseWriter, status int, data pageData) error {
	data.Title = pageTitle
	data.Description = pageDescription
	data.InputLabel = inputLabel
	data.SubmitLabel = submitLabel
	data.SpinnerText = spinnerText
	data.ResultHeader = resultHeader

	var buf bytes.Buffer
	if err := p.tmpl.Execute(&buf, data); err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, err := buf.WriteTo(w)
	return err
}

func (g *Gateway) handlePage(w http.ResponseWriter, _ *http.Request) {
	g.renderPage(w, http.StatusOK, pageData{})
}

// handlePageSubmit runs the crew on the submitted form and renders the
// result in place of the form page.
func (g *Gateway) handlePageSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, g.config.maxRequestSize())
	if err := r.ParseForm(); err != nil {
		g.renderPage(w, http.StatusBadRequest, pageData{Warning: mission.EmptyQueryMessage})
		return
	}
	query := r.PostFormValue("query")
	user := clientIP(r)

	if query == "" {
		g.renderPage(w, http.StatusOK, pageData{Warning: mission.EmptyQueryMessage})
		return
	}
	if err := g.allow(user); err != nil {
		g.renderPage(w, http.StatusTooManyRequests, pageData{Query: query, Warning: "Too many queries. Please wait a moment and try again."})
		return
	}

	run, err := g.missions.Ask(r.Context(), mission.AskRequest{
		Query:  query,
		Source: storage.SourceWeb,
		UserID: user,
	})
	switch {
	case errors.Is(err, mission.ErrEmptyQuery):
		g.renderPage(w, http.StatusOK, pageData{Warning: mission.EmptyQueryMessage})
	case err != nil:
		g.logger.Error("crew run failed", slog.String("error", err.Error()))
		data := pageData{Query: query, Error: failureNotice}
		if run != nil {
			data.RunID = run.ID.String()
		}
		g.renderPage(w, http.StatusInternalServerError, data)
	default:
		g.renderPage(w, http.StatusOK, pageData{Query: query, Result: run.Result})
	}
}

func (g *Gateway) renderPage(w http.ResponseWriter, status int, data pageData) {
	if err := g.page.render(w, status, data); err != nil {
		g.logger.Error("rendering page failed", slog.String("error", err.Error()))
	}
}
