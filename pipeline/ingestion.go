package pipeline

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const (
	TextColumn     = "text"
	CategoryColumn = "category"
)

var (
	ErrMissingColumns = errors.New("CSV must have columns: text, category")
	ErrDataNotFound   = errors.New("training data not found")
)

// Row 一条带标签的训练样本
type Row struct {
	Line     int    `json:"line"`
	Text     string `json:"text"`
	Category string `json:"category"`
}

// ReadCSV 读取带表头的 CSV，表头必须包含 text 和 category 两列，
// 其余列忽略。charset 为空时按 UTF-8 处理，文件开头的 BOM 会被去掉。
func ReadCSV(r io.Reader, charset string) ([]Row, error) {
	enc, err := lookupCharset(charset)
	if err != nil {
		return nil, err
	}
	decoded := transform.NewReader(r, unicode.BOMOverride(enc.NewDecoder()))

	reader := csv.NewReader(decoded)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrMissingColumns
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	textIdx, categoryIdx := -1, -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case TextColumn:
			if textIdx < 0 {
				textIdx = i
			}
		case CategoryColumn:
			if categoryIdx < 0 {
				categoryIdx = i
			}
		}
	}
	if textIdx < 0 || categoryIdx < 0 {
		return nil, fmt.Errorf("%w (got %s)", ErrMissingColumns, strings.Join(header, ", "))
	}

	var rows []Row
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		line, _ := reader.FieldPos(0)
		rows = append(rows, Row{
			Line:     line,
			Text:     field(record, textIdx),
			Category: field(record, categoryIdx),
		})
	}
	return rows, nil
}

// LoadCSV 打开并读取 CSV 文件
func LoadCSV(path, charset string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrDataNotFound, path)
		}
		return nil, err
	}
	defer f.Close()

	rows, err := ReadCSV(f, charset)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rows, nil
}

// FindDataFile 查找训练数据：先按原路径（相对当前目录），
// 找不到时再依次尝试可执行文件所在目录及其上一级目录。
func FindDataFile(path string) (string, error) {
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	if filepath.IsAbs(path) {
		return "", fmt.Errorf("%w: %s", ErrDataNotFound, path)
	}

	tried := []string{path}
	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		for _, dir := range []string{exeDir, filepath.Dir(exeDir)} {
			candidate := filepath.Join(dir, path)
			tried = append(tried, candidate)
			if _, err := os.Stat(candidate); err == nil {
				return candidate, nil
			}
		}
	}
	return "", fmt.Errorf("%w: tried %s", ErrDataNotFound, strings.Join(tried, ", "))
}

func lookupCharset(charset string) (encoding.Encoding, error) {
	name := strings.TrimSpace(charset)
	if name == "" {
		return unicode.UTF8, nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("unsupported charset %q: %w", charset, err)
	}
	return enc, nil
}

func field(record []string, idx int) string {
	if idx < len(record) {
		return record[idx]
	}
	return ""
}
