package ledger

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ProgramIDLen は正規化後のプログラムIDのバイト長
const ProgramIDLen = 32

// ErrInvalidProgramID はプログラムIDが解釈できないときのエラー
var ErrInvalidProgramID = errors.New("invalid program id")

// ParseProgramID は"0x"付きの16進文字列を検証し、32バイトに左詰めした小文字表記を返す
func ParseProgramID(s string) (string, error) {
	raw := strings.TrimSpace(s)
	if !strings.HasPrefix(raw, "0x") && !strings.HasPrefix(raw, "0X") {
		return "", fmt.Errorf("%w: %q: missing 0x prefix", ErrInvalidProgramID, s)
	}
	digits := strings.ToLower(raw[2:])
	if digits == "" || len(digits) > ProgramIDLen*2 {
		return "", fmt.Errorf("%w: %q: want 1 to %d hex digits", ErrInvalidProgramID, s, ProgramIDLen*2)
	}
	padded := strings.Repeat("0", ProgramIDLen*2-len(digits)) + digits
	if _, err := hex.DecodeString(padded); err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidProgramID, s, err)
	}
	return "0x" + padded, nil
}
