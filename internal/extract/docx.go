package extract

import (
	"archive/zip"
	"fmt"
	"regexp"
	"strings"
)

const (
	docxDefaultDocument = "word/document.xml"
	contentTypesPath    = "[Content_Types].xml"
	docxMainContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"
)

var (
	wtTag = regexp.MustCompile(`<w:t[^>]*>([^<]*)</w:t>`)

	// Override attributes may come in either order.
	partNameFirst = regexp.MustCompile(`<Override[^>]+PartName="([^"]+)"[^>]+ContentType="` + regexp.QuoteMeta(docxMainContentType) + `"`)
	typeFirst     = regexp.MustCompile(`<Override[^>]+ContentType="` + regexp.QuoteMeta(docxMainContentType) + `"[^>]+PartName="([^"]+)"`)
)

// docxMainDocument resolves the main document part from [Content_Types].xml.
func docxMainDocument(zr *zip.Reader) string {
	types, err := readZipEntry(zr, contentTypesPath)
	if err != nil || types == nil {
		return docxDefaultDocument
	}
	for _, re := range []*regexp.Regexp{partNameFirst, typeFirst} {
		if m := re.FindSubmatch(types); len(m) > 1 {
			return strings.TrimPrefix(string(m[1]), "/")
		}
	}
	return docxDefaultDocument
}

// extractDOCX joins every <w:t> run of the main document. Paragraphs carrying
// attributes (w:rsidR and friends) are why this does not go through lu4p/cat.
func extractDOCX(content []byte) (string, error) {
	zr, err := openZip("DOCX", content)
	if err != nil {
		return "", err
	}
	docPath := docxMainDocument(zr)
	doc, err := readZipEntry(zr, docPath)
	if err != nil {
		return "", fmt.Errorf("extract DOCX: %w", err)
	}
	if doc == nil {
		return "", fmt.Errorf("extract DOCX: %s not found", docPath)
	}
	var j textJoiner
	j.collect(wtTag, doc)
	return j.String(), nil
}
