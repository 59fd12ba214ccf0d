// Package formats wires every built-in parser into a loader.Registry.
package formats

import (
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/loader"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/loader/csv"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/loader/doc"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/loader/excel"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/loader/html"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/loader/markdown"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/loader/pdf"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/loader/structured"
)

// NewRegistry returns a registry with parsers for every loader.Formats
// entry. Options are applied after the defaults, so WithParser overrides a
// built-in parser.
func NewRegistry(opts ...loader.RegistryOption) *loader.Registry {
	defaults := []loader.RegistryOption{
		loader.WithParser(loader.FormatPDF, pdf.NewParser()),
		loader.WithParser(loader.FormatDOCX, doc.NewParser()),
		loader.WithParser(loader.FormatSpreadsheet, excel.NewParser()),
		loader.WithParser(loader.FormatCSV, csv.NewParser()),
		loader.WithParser(loader.FormatHTML, html.NewParser()),
		loader.WithParser(loader.FormatJSON, structured.NewJSONParser()),
		loader.WithParser(loader.FormatXML, structured.NewXMLParser()),
		loader.WithParser(loader.FormatMarkdown, markdown.NewParser()),
	}
	return loader.NewRegistry(append(defaults, opts...)...)
}
