package pipeline

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/text/encoding/simplifiedchinese"
)

func TestReadCSV(t *testing.T) {
	data := "id,text,category,extra\n" +
		"1,street light broken,lighting,x\n" +
		"2,\"pothole, deep\",roads,y\n" +
		"3,short row\n"

	rows, err := ReadCSV(strings.NewReader(data), "")
	if err != nil {
		t.Fatalf("ReadCSV returned error: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if rows[1].Text != "pothole, deep" || rows[1].Category != "roads" {
		t.Errorf("unexpected row %+v", rows[1])
	}
	if rows[2].Category != "" {
		t.Errorf("missing column should read as empty, got %q", rows[2].Category)
	}
	if rows[0].Line != 2 {
		t.Errorf("expected first data row on line 2, got %d", rows[0].Line)
	}
}

func TestReadCSVHeaderVariants(t *testing.T) {
	data := "\ufeff Text , CATEGORY\nhello there,greeting\n"
	rows, err := ReadCSV(strings.NewReader(data), "utf-8")
	if err != nil {
		t.Fatalf("ReadCSV returned error: %v", err)
	}
	if len(rows) != 1 || rows[0].Text != "hello there" {
		t.Fatalf("unexpected rows %+v", rows)
	}
}

func TestReadCSVMissingColumns(t *testing.T) {
	tests := []string{
		"text,label\nhello,greeting\n",
		"category\ngreeting\n",
		"",
	}
	for _, data := range tests {
		_, err := ReadCSV(strings.NewReader(data), "")
		if !errors.Is(err, ErrMissingColumns) {
			t.Errorf("ReadCSV(%q) error = %v, want ErrMissingColumns", data, err)
		}
	}
	if ErrMissingColumns.Error() != "CSV must have columns: text, category" {
		t.Errorf("unexpected message %q", ErrMissingColumns.Error())
	}
}

func TestReadCSVCharset(t *testing.T) {
	var buf bytes.Buffer
	encoded, err := simplifiedchinese.GBK.NewEncoder().String("text,category\n路灯坏了,照明\n")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	buf.WriteString(encoded)

	rows, err := ReadCSV(&buf, "gbk")
	if err != nil {
		t.Fatalf("ReadCSV returned error: %v", err)
	}
	if len(rows) != 1 || rows[0].Text != "路灯坏了" || rows[0].Category != "照明" {
		t.Fatalf("unexpected rows %+v", rows)
	}

	if _, err := ReadCSV(strings.NewReader("text,category\n"), "no-such-charset"); err == nil {
		t.Fatal("expected error for unknown charset")
	}
}

func TestLoadCSVAndFindDataFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "train.csv")
	if err := os.WriteFile(path, []byte("text,category\na b,c\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	found, err := FindDataFile(path)
	if err != nil || found != path {
		t.Fatalf("FindDataFile = %q, %v", found, err)
	}
	rows, err := LoadCSV(found, "")
	if err != nil || len(rows) != 1 {
		t.Fatalf("LoadCSV = %+v, %v", rows, err)
	}

	missing := filepath.Join(dir, "missing.csv")
	if _, err := FindDataFile(missing); !errors.Is(err, ErrDataNotFound) {
		t.Errorf("expected ErrDataNotFound, got %v", err)
	}
	if _, err := LoadCSV(missing, ""); !errors.Is(err, ErrDataNotFound) {
		t.Errorf("expected ErrDataNotFound, got %v", err)
	}
	if _, err := FindDataFile("definitely/not/here.csv"); !errors.Is(err, ErrDataNotFound) {
		t.Errorf("expected ErrDataNotFound for relative path, got %v", err)
	}
}
