// Package file holds local file helpers used to verify transfers.
package file

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// MD5 returns the hex MD5 checksum of the file at path.
func MD5(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file %s: %w", path, err)
	}
	defer f.Close()

	hash := md5.New()
	if _, err := io.Copy(hash, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

// ParseMD5Sum extracts the checksum from `md5sum` output ("<hex>  <path>").
func ParseMD5Sum(output string) (string, error) {
	fields := strings.Fields(output)
	if len(fields) == 0 {
		return "", fmt.Errorf("empty md5sum output")
	}
	sum := strings.ToLower(strings.TrimPrefix(fields[0], `\`))
	if len(sum) != md5.Size*2 {
		return "", fmt.Errorf("unexpected md5sum output %q", output)
	}
	if _, err := hex.DecodeString(sum); err != nil {
		return "", fmt.Errorf("unexpected md5sum output %q: %w", output, err)
	}
	return sum, nil
}
