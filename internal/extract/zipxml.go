package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// openZip opens an office package held in memory.
func openZip(format string, content []byte) (*zip.Reader, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("extract %s: not a zip: %w", format, err)
	}
	return zr, nil
}

// readZipEntry returns the bytes of the named member, or nil when absent.
func readZipEntry(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		return readZipFile(f)
	}
	return nil, nil
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Name, err)
	}
	return data, nil
}

// textJoiner collects the inner text of matched XML elements, space separated.
type textJoiner struct {
	b strings.Builder
}

func (j *textJoiner) collect(re *regexp.Regexp, xml []byte) {
	for _, m := range re.FindAllSubmatch(xml, -1) {
		s := strings.TrimSpace(string(m[1]))
		if s == "" {
			continue
		}
		if j.b.Len() > 0 {
			j.b.WriteByte(' ')
		}
		j.b.WriteString(s)
	}
}

func (j *textJoiner) String() string {
	return strings.TrimSpace(j.b.String())
}
