package db

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var ErrClassificationNotFound = errors.New("classification not found")

var bytes32Pattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// ReportHash is the bytes32 fingerprint of a stored classification:
// "0x" followed by the hex sha256 of
// id|text|category|model_version|created_at, with created_at in UTC
// RFC 3339 form.
func ReportHash(id int64, text, category, modelVersion string, createdAt time.Time) string {
	payload := strings.Join([]string{
		strconv.FormatInt(id, 10),
		text,
		category,
		modelVersion,
		createdAt.UTC().Format(time.RFC3339Nano),
	}, "|")
	sum := sha256.Sum256([]byte(payload))
	return "0x" + hex.EncodeToString(sum[:])
}

// IsBytes32 reports whether s is "0x" followed by 64 hex digits.
func IsBytes32(s string) bool {
	return bytes32Pattern.MatchString(s)
}

type Verification struct {
	ID       int64  `json:"id"`
	DataHash string `json:"data_hash"`
	Expected string `json:"expected_hash"`
	Valid    bool   `json:"valid"`
}

// VerifyClassification recomputes the hash of a stored row and compares it
// with the one recorded at insert time.
func (s *Store) VerifyClassification(ctx context.Context, id int64) (Verification, error) {
	var c Classification
	err := s.db.QueryRowContext(ctx, `
        SELECT id, text, category, model_version, created_at, data_hash
        FROM classifications
        WHERE id = ?`, id).
		Scan(&c.ID, &c.Text, &c.Category, &c.ModelVersion, &c.CreatedAt, &c.DataHash)
	if errors.Is(err, sql.ErrNoRows) {
		return Verification{}, ErrClassificationNotFound
	}
	if err != nil {
		return Verification{}, err
	}

	expected := ReportHash(c.ID, c.Text, c.Category, c.ModelVersion, c.CreatedAt)
	return Verification{
		ID:       c.ID,
		DataHash: c.DataHash,
		Expected: expected,
		Valid:    IsBytes32(c.DataHash) && c.DataHash == expected,
	}, nil
}
