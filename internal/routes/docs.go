package routes

import (
	"bytes"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/saeid-a/ChambaBack/internal/config"
)

const docsIndexHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>{{ .Title }}</title>
  <style>
    :root { color-scheme: light; --bg: #f5f6f8; --text: #16202c; --muted: #56606c; --accent: #2554a3; --border: #d7dce3; }
    * { box-sizing: border-box; }
    body { margin: 0; font-family: system-ui, sans-serif; color: var(--text); background: var(--bg); }
    main { max-width: 1080px; margin: 0 auto; padding: 40px 20px 56px; }
    .hero, .panel { background: #fff; border: 1px solid var(--border); border-radius: 14px; padding: 24px; margin-bottom: 18px; }
    .hero h1 { margin: 0 0 10px; font-size: 2.2rem; }
    .hero p { margin: 0; color: var(--muted); line-height: 1.6; }
    .button { display: inline-block; margin-top: 16px; padding: 10px 16px; border-radius: 999px; background: var(--accent); color: #fff; text-decoration: none; font-weight: 600; }
    .panel h2 { margin: 0 0 8px; font-size: 0.9rem; text-transform: uppercase; letter-spacing: 0.08em; color: var(--muted); }
    pre { margin: 0; padding: 18px; overflow: auto; border-radius: 10px; background: #0f172a; color: #e2e8f0; font-size: 0.9rem; line-height: 1.5; }
  </style>
</head>
<body>
  <main>
    <section class="hero">
      <h1>{{ .Title }}</h1>
      <p>Conversations between companies and workers, their messages and the realtime socket. The OpenAPI document is served from <code>/docs/openapi.yaml</code>. This surface is only exposed in development.</p>
      <a class="button" href="/docs/openapi.yaml">Open Raw Spec</a>
    </section>
    <section class="panel">
      <h2>Last Loaded</h2>
      <span>{{ .LoadedAt }}</span>
    </section>
    <section class="panel">
      <h2>OpenAPI YAML</h2>
      <pre>{{ .Spec }}</pre>
    </section>
  </main>
</body>
</html>
`

type docsPageData struct {
	Title    string
	LoadedAt string
	Spec     string
}

func registerDocsRoutes(app fiber.Router, cfg *config.Config) error {
	if !cfg.DocsEnabled() {
		return nil
	}

	spec, err := loadOpenAPISpec()
	if err != nil {
		return fmt.Errorf("load openapi spec: %w", err)
	}

	indexTemplate, err := template.New("docs-index").Parse(docsIndexHTML)
	if err != nil {
		return fmt.Errorf("parse docs template: %w", err)
	}

	pageData := docsPageData{
		Title:    "Chamba Messaging API",
		LoadedAt: time.Now().UTC().Format(time.RFC3339),
		Spec:     string(spec),
	}

	indexHandler := func(c *fiber.Ctx) error {
		applyDocsBaseHeaders(c, fiber.MIMETextHTMLCharsetUTF8)
		c.Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'; img-src 'self' data:; base-uri 'none'; form-action 'none'; frame-ancestors 'none'")

		var body bytes.Buffer
		if err := indexTemplate.Execute(&body, pageData); err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to render api docs")
		}

		return c.Status(fiber.StatusOK).Send(body.Bytes())
	}

	app.Get("/docs", indexHandler)
	app.Get("/docs/", indexHandler)
	app.Get("/docs/openapi.yaml", func(c *fiber.Ctx) error {
		applyDocsBaseHeaders(c, "application/yaml; charset=utf-8")
		c.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'; base-uri 'none'; form-action 'none'")
		c.Set(fiber.HeaderContentDisposition, `inline; filename="openapi.yaml"`)
		return c.Status(fiber.StatusOK).Send(spec)
	})

	return nil
}

func loadOpenAPISpec() ([]byte, error) {
	_, currentFile, _, ok := runtime.Caller(0)
	if !ok {
		return nil, fmt.Errorf("resolve source path")
	}

	specPath := filepath.Join(filepath.Dir(currentFile), "..", "..", "docs", "openapi.yaml")
	return os.ReadFile(specPath)
}

func applyDocsBaseHeaders(c *fiber.Ctx, contentType string) {
	c.Set(fiber.HeaderContentType, contentType)
	c.Set(fiber.HeaderCacheControl, "no-store, max-age=0")
	c.Set(fiber.HeaderPragma, "no-cache")
	c.Set(fiber.HeaderExpires, "0")
	c.Set(fiber.HeaderXContentTypeOptions, "nosniff")
	c.Set(fiber.HeaderXFrameOptions, "DENY")
	c.Set("Referrer-Policy", "no-referrer")
	c.Set("Cross-Origin-Resource-Policy", "same-origin")
	c.Set("X-Robots-Tag", "noindex, nofollow")
}
