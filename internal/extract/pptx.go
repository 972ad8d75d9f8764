package extract

import (
	"archive/zip"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

const pptxSlidePrefix = "ppt/slides/slide"

var atTag = regexp.MustCompile(`<a:t[^>]*>([^<]*)</a:t>`)

// extractPPTX collects the <a:t> runs of every slide in slide-number order.
func extractPPTX(content []byte) (string, error) {
	zr, err := openZip("PPTX", content)
	if err != nil {
		return "", err
	}
	var slides []*zip.File
	for _, f := range zr.File {
		if strings.HasPrefix(f.Name, pptxSlidePrefix) && strings.HasSuffix(f.Name, ".xml") {
			slides = append(slides, f)
		}
	}
	sort.SliceStable(slides, func(a, b int) bool {
		return slideNumber(slides[a].Name) < slideNumber(slides[b].Name)
	})
	var j textJoiner
	for _, f := range slides {
		data, err := readZipFile(f)
		if err != nil {
			return "", fmt.Errorf("extract PPTX: %w", err)
		}
		j.collect(atTag, data)
	}
	return j.String(), nil
}

// slideNumber parses N out of ppt/slides/slideN.xml; unparsable names sort last.
func slideNumber(name string) int {
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, pptxSlidePrefix), ".xml"))
	if err != nil {
		return int(^uint(0) >> 1)
	}
	return n
}
