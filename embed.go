package tutorui

import "embed"

// TemplateFS contains the embedded HTML templates of the web interface: the home page and the partial
// views that are re-rendered and pushed to the browser as the chat state changes.
//
//go:embed templates/*
var TemplateFS embed.FS
