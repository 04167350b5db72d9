package vocab

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

const maxDelimiterSampleRecords = 20

// Column order of import files: word, definition, example, pronunciation,
// part of speech, memory aid. Only the first two are required.
const (
	colWord = iota
	colDefinition
	colExample
	colPronunciation
	colPartOfSpeech
	colMemoryAid
)

// ParseFile dispatches on the file extension; anything other than .xlsx is
// read as delimited text.
func ParseFile(name string, data []byte) ([]Word, int, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".xlsm":
		return ParseVocabularyXLSX(data)
	default:
		return ParseVocabularyCSV(data)
	}
}

func ParseVocabularyCSV(data []byte) ([]Word, int, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	delimiter := detectCSVDelimiter(data)

	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = delimiter
	reader.FieldsPerRecord = -1

	var records [][]string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, 0, err
		}
		records = append(records, record)
	}
	words, skipped := parseRecords(records)
	return words, skipped, nil
}

// ParseVocabularyXLSX reads the first worksheet of a workbook.
func ParseVocabularyXLSX(data []byte) ([]Word, int, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, 0, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, 0, errors.New("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, 0, fmt.Errorf("read rows: %w", err)
	}
	words, skipped := parseRecords(rows)
	return words, skipped, nil
}

func parseRecords(records [][]string) ([]Word, int) {
	var words []Word
	skipped := 0
	checkedHeader := false

	for _, record := range records {
		if isEmptyRecord(record) {
			skipped++
			continue
		}
		if !checkedHeader {
			checkedHeader = true
			if isHeaderRecord(record) {
				continue
			}
		}
		word := field(record, colWord)
		definition := field(record, colDefinition)
		if word == "" || definition == "" {
			skipped++
			continue
		}
		words = append(words, Word{
			Word:          word,
			Definition:    definition,
			Example:       field(record, colExample),
			Pronunciation: field(record, colPronunciation),
			PartOfSpeech:  field(record, colPartOfSpeech),
			MemoryAid:     field(record, colMemoryAid),
		})
	}
	return words, skipped
}

func field(record []string, idx int) string {
	if idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}

func detectCSVDelimiter(data []byte) rune {
	candidates := []rune{',', '\t', ';'}
	bestDelimiter := candidates[0]
	bestScore := -1

	for _, delimiter := range candidates {
		score, err := scoreDelimiter(data, delimiter, maxDelimiterSampleRecords)
		if err != nil {
			continue
		}
		if score > bestScore {
			bestScore = score
			bestDelimiter = delimiter
		}
	}

	if bestScore <= 0 {
		return ','
	}
	return bestDelimiter
}

// scoreDelimiter counts the most common multi-field record width, so the
// delimiter that splits rows consistently wins.
func scoreDelimiter(data []byte, delimiter rune, maxRecords int) (int, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = delimiter
	reader.FieldsPerRecord = -1

	counts := make(map[int]int)
	recordsSeen := 0

	for recordsSeen < maxRecords {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, err
		}
		if isEmptyRecord(record) {
			continue
		}
		recordsSeen++

		if len(record) < 2 {
			continue
		}
		counts[len(record)]++
	}

	best := 0
	for _, score := range counts {
		if score > best {
			best = score
		}
	}
	return best, nil
}

func isEmptyRecord(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

func isHeaderRecord(record []string) bool {
	if len(record) < 2 {
		return false
	}
	first := strings.ToLower(strings.TrimSpace(record[0]))
	second := strings.ToLower(strings.TrimSpace(record[1]))
	return (first == "word" || first == "term") && (second == "definition" || second == "meaning")
}

// BuildTemplateXLSX returns an empty workbook with the expected header row.
func BuildTemplateXLSX() ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	header := []any{"word", "definition", "example", "pronunciation", "part_of_speech", "memory_aid"}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return nil, err
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
