package server

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"github.com/knoguchi/uigen/internal/settings"
)

//go:embed templates/*.html.tmpl
var templateFS embed.FS

const (
	pageTitle      = "Generative UI/UX Designer"
	emptyPromptMsg = "Please enter a prompt first!"
)

// sliderView describes one numeric slider of the settings panel.
type sliderView struct {
	Name  string
	Label string
	Min   string
	Max   string
	Step  string
	Value string
}

// resultView is the generated code as shown in the result tabs.
type resultView struct {
	ID           string
	Framework    settings.Framework
	Language     string
	Filename     string
	Code         string
	CodeHTML     template.HTML
	DownloadURL  string
	Duration     time.Duration
	PromptTokens int
	ModelID      string
}

// errorView is an upstream failure shown in place of a result.
type errorView struct {
	Title   string
	Message string
}

// pageData is everything the page template needs for one render.
type pageData struct {
	Title      string
	CSS        template.CSS
	Frameworks []settings.Framework
	Settings   settings.Settings
	Sliders    []sliderView
	Prompt     string
	Warning    string
	Error      *errorView
	Result     *resultView
}

func newPageData(set settings.Settings, prompt string, css template.CSS) *pageData {
	return &pageData{
		Title:      pageTitle,
		CSS:        css,
		Frameworks: settings.Frameworks(),
		Settings:   set,
		Sliders: []sliderView{
			{
				Name:  settings.FieldMaxTokens,
				Label: "Max Tokens",
				Min:   strconv.Itoa(settings.MinMaxTokens),
				Max:   strconv.Itoa(settings.MaxMaxTokens),
				Step:  strconv.Itoa(settings.MaxTokensStep),
				Value: strconv.Itoa(set.MaxTokens),
			},
			{
				Name:  settings.FieldTemperature,
				Label: "Creativity (Temperature)",
				Min:   formatFloat(settings.MinTemperature),
				Max:   formatFloat(settings.MaxTemperature),
				Step:  formatFloat(settings.TemperatureStep),
				Value: formatFloat(set.Temperature),
			},
		},
		Prompt: prompt,
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// pageRenderer executes the page template.
type pageRenderer struct {
	tmpl *template.Template
}

func newPageRenderer() (*pageRenderer, error) {
	tmpl, err := template.New("page.html.tmpl").Funcs(template.FuncMap{
		"seconds": func(d time.Duration) string {
			return strconv.FormatFloat(d.Seconds(), 'f', 1, 64)
		},
	}).ParseFS(templateFS, "templates/*.html.tmpl")
	if err != nil {
		return nil, err
	}
	return &pageRenderer{tmpl: tmpl}, nil
}

// render writes the page with the given status. The page is rendered into a
// buffer first so a template failure still yields a clean 500.
func (p *pageRenderer) render(w http.ResponseWriter, status int, data *pageData) error {
	var buf bytes.Buffer
	if err := p.tmpl.Execute(&buf, data); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return fmt.Errorf("rendering page: %w", err)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, err := buf.WriteTo(w)
	return err
}
