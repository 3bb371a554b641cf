package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	// BackupCodeBytes is the entropy per code; codes are twice as many hex characters
	BackupCodeBytes = 4

	// BackupCodeBcryptCost is the bcrypt work factor for stored backup codes
	BackupCodeBcryptCost = 10

	// BackupCodeNotFound is returned by VerifyBackupCode when nothing matches
	BackupCodeNotFound = -1

	// maxBackupCodes bounds a single batch; verify cost grows with every stored hash
	maxBackupCodes = 64
)

// GenerateBackupCodes returns count distinct upper-case hex codes drawn from crypto/rand
func GenerateBackupCodes(count int) ([]string, error) {
	if count <= 0 || count > maxBackupCodes {
		return nil, fmt.Errorf("backup code count must be between 1 and %d, got %d", maxBackupCodes, count)
	}

	codes := make([]string, 0, count)
	seen := make(map[string]struct{}, count)
	buf := make([]byte, BackupCodeBytes)

	for len(codes) < count {
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("failed to generate backup code: %w", err)
		}
		code := strings.ToUpper(hex.EncodeToString(buf))
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
	}
	return codes, nil
}

// HashBackupCodes bcrypt-hashes each code, preserving order
func HashBackupCodes(codes []string) ([]string, error) {
	hashes := make([]string, len(codes))
	for i, code := range codes {
		h, err := bcrypt.GenerateFromPassword([]byte(normalizeBackupCode(code)), BackupCodeBcryptCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash backup code %d: %w", i, err)
		}
		hashes[i] = string(h)
	}
	return hashes, nil
}

// VerifyBackupCode returns the index of the first hash matching candidate, or
// BackupCodeNotFound. Matching is case-insensitive. Callers remove the matched
// hash so each code works once.
//
// Each comparison is constant-time, but the scan stops at the first match.
func VerifyBackupCode(candidate string, hashes []string) int {
	code := normalizeBackupCode(candidate)
	if code == "" {
		return BackupCodeNotFound
	}
	for i, h := range hashes {
		if bcrypt.CompareHashAndPassword([]byte(h), []byte(code)) == nil {
			return i
		}
	}
	return BackupCodeNotFound
}

func normalizeBackupCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
