package table

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	xunicode "golang.org/x/text/encoding/unicode"
)

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// LoadCSV reads a delimited text file from disk.
func LoadCSV(path string, opts LoadOptions) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return ParseCSV(filepath.Base(path), data, opts)
}

// ReadCSV reads a delimited text table from r.
func ReadCSV(name string, r io.Reader, opts LoadOptions) (*Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return ParseCSV(name, data, opts)
}

// ParseCSV decodes data (UTF-8, UTF-16 with BOM, or Latin-1), skips a junk
// first line when opts.HeaderHint says so and parses the rest as CSV.
func ParseCSV(name string, data []byte, opts LoadOptions) (*Table, error) {
	decoded, _, err := DetectAndDecode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: encoding detection failed: %w", name, err)
	}
	if len(bytes.TrimSpace(decoded)) == 0 {
		return nil, fmt.Errorf("%s: %w", name, ErrEmpty)
	}

	first, rest := splitLine(decoded)
	second, _ := splitLine(rest)
	if headerOffset(string(first), string(second), opts.HeaderHint) == 1 {
		decoded = rest
		first = second
	}

	reader := csv.NewReader(bytes.NewReader(decoded))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.Comma = opts.Comma
	if reader.Comma == 0 {
		reader.Comma = sniffDelimiter(string(first))
	}

	headers, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%s: %w", name, ErrEmpty)
		}
		return nil, fmt.Errorf("%s: read header row: %w", name, err)
	}

	var records [][]string
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if blank(rec) {
			continue
		}
		records = append(records, rec)
	}

	return New(name, headers, records), nil
}

// DetectAndDecode detects the encoding of data, strips any BOM and returns
// UTF-8 bytes along with the detected encoding name.
func DetectAndDecode(data []byte) ([]byte, string, error) {
	switch {
	case len(data) == 0:
		return data, "utf-8", nil
	case bytes.HasPrefix(data, bomUTF8):
		return data[len(bomUTF8):], "utf-8-bom", nil
	case bytes.HasPrefix(data, bomUTF16LE):
		out, err := xunicode.UTF16(xunicode.LittleEndian, xunicode.ExpectBOM).NewDecoder().Bytes(data)
		if err != nil {
			return nil, "", fmt.Errorf("UTF-16 LE decode failed: %w", err)
		}
		return out, "utf-16le", nil
	case bytes.HasPrefix(data, bomUTF16BE):
		out, err := xunicode.UTF16(xunicode.BigEndian, xunicode.ExpectBOM).NewDecoder().Bytes(data)
		if err != nil {
			return nil, "", fmt.Errorf("UTF-16 BE decode failed: %w", err)
		}
		return out, "utf-16be", nil
	case utf8.Valid(data):
		return data, "utf-8", nil
	}

	out, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		return nil, "", fmt.Errorf("latin-1 decode failed: %w", err)
	}
	return out, "latin-1", nil
}

func splitLine(data []byte) (line, rest []byte) {
	i := bytes.IndexByte(data, '\n')
	if i < 0 {
		return bytes.TrimRight(data, "\r"), nil
	}
	return bytes.TrimRight(data[:i], "\r"), data[i+1:]
}

// sniffDelimiter picks the most frequent of ',', ';' and tab on the header line.
func sniffDelimiter(header string) rune {
	best, bestCount := ',', strings.Count(header, ",")
	for _, c := range []rune{';', '\t'} {
		if n := strings.Count(header, string(c)); n > bestCount {
			best, bestCount = c, n
		}
	}
	return best
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
