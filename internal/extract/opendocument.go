package extract

import (
	"fmt"
	"regexp"
)

const openDocumentContent = "content.xml"

var (
	odfTextP    = regexp.MustCompile(`<text:p[^>]*>([^<]*)</text:p>`)
	odfTextSpan = regexp.MustCompile(`<text:span[^>]*>([^<]*)</text:span>`)
	odfTextH    = regexp.MustCompile(`<text:h[^>]*>([^<]*)</text:h>`)
)

// extractODP reads paragraphs, spans and headings of a presentation.
func extractODP(content []byte) (string, error) {
	return extractOpenDocument("ODP", content, odfTextP, odfTextSpan, odfTextH)
}

// extractODS reads cell paragraphs and spans of a spreadsheet.
func extractODS(content []byte) (string, error) {
	return extractOpenDocument("ODS", content, odfTextP, odfTextSpan)
}

func extractOpenDocument(format string, content []byte, elems ...*regexp.Regexp) (string, error) {
	zr, err := openZip(format, content)
	if err != nil {
		return "", err
	}
	body, err := readZipEntry(zr, openDocumentContent)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", format, err)
	}
	if body == nil {
		return "", fmt.Errorf("extract %s: %s not found", format, openDocumentContent)
	}
	var j textJoiner
	for _, re := range elems {
		j.collect(re, body)
	}
	return j.String(), nil
}
