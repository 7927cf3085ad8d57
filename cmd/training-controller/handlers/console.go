package handlers

import (
	"bytes"
	_ "embed"
	"fmt"
	"html/template"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/HatiCode/iris-mlops/pkg/jobs"
	"github.com/HatiCode/iris-mlops/pkg/models"
)

//go:embed console.html
var consoleHTML string

var consoleTemplate = template.Must(template.New("console").Parse(consoleHTML))

// ConsoleLinks are the external links shown in the console header.
type ConsoleLinks struct {
	MLflowUIURL   string
	ServingAPIURL string
}

// RenderConsole renders the training console once; the page is static for
// the lifetime of the process.
func RenderConsole(links ConsoleLinks) ([]byte, error) {
	var buf bytes.Buffer
	err := consoleTemplate.Execute(&buf, map[string]any{
		"MLflowUIURL":       links.MLflowUIURL,
		"ServingAPIURL":     links.ServingAPIURL,
		"DefaultEstimators": jobs.DefaultEstimators,
		"MinEstimators":     models.MinEstimators,
		"MaxEstimators":     models.MaxEstimators,
		"DefaultDepth":      jobs.DefaultDepth,
		"MinDepth":          models.MinDepth,
		"MaxDepth":          models.MaxDepth,
	})
	if err != nil {
		return nil, fmt.Errorf("render console: %w", err)
	}
	return buf.Bytes(), nil
}

// ConsoleHandler serves the rendered console page.
func ConsoleHandler(page []byte) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.HTMLBlob(http.StatusOK, page)
	}
}
