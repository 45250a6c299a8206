package util

import (
	"crypto/md5"
	"fmt"
	"path/filepath"
	"strings"
)

const contentHashLen = 8

// ContentHash returns the first 8 hex characters of the MD5 sum of content.
func ContentHash(content []byte) string {
	return fmt.Sprintf("%x", md5.Sum(content))[:contentHashLen]
}

// GetVersionedFilename turns "styles/demo.scss" plus "1a2b3c4d" into
// "demo-1a2b3c4d.css".
func GetVersionedFilename(sourcePath, version, ext string) string {
	base := filepath.Base(sourcePath)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return fmt.Sprintf("%s-%s%s", base, version, ext)
}
