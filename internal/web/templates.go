package web

import (
	"embed"
	"html/template"
)

//go:embed templates/settings.html
var templatesFS embed.FS

var settingsTemplate = template.Must(template.ParseFS(templatesFS, "templates/settings.html"))

type settingsPage struct {
	State      string
	Authorized bool
	HasClient  bool
	FolderPath string
	MaxBackups int
	Flash      *flash
}
