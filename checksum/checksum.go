// Package checksum computes the line-based CRC32 checksum used to detect
// drift between a migration script on disk and the script that produced a
// history row. The algorithm must match the reference migration tool
// byte-for-byte: it is a compatibility surface, not an implementation detail.
package checksum

import (
	"hash/crc32"
	"strings"
)

// bom is U+FEFF, the byte order mark.
const bom rune = 0xFEFF

// Of returns the checksum of content as a signed 32-bit integer, matching the
// reference tool's algorithm: strip a leading BOM, split on any of CRLF, CR
// or LF with terminators stripped, and feed each line's UTF-8 bytes (no
// terminator bytes) through IEEE CRC32 in order.
func Of(content string) int32 {
	content = strings.TrimPrefix(content, string(bom))
	crc := crc32.NewIEEE()
	for _, line := range splitLines(content) {
		crc.Write([]byte(line))
	}
	return int32(crc.Sum32())
}

// splitLines splits s on \r\n, \r or \n, returning the lines with their
// terminators stripped. A terminator at the very end of s does not produce
// a final empty line (unlike strings.Split); empty lines between two
// terminators are kept.
func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); {
		switch s[i] {
		case '\r':
			lines = append(lines, s[start:i])
			if i+1 < len(s) && s[i+1] == '\n' {
				i += 2
			} else {
				i++
			}
			start = i
		case '\n':
			lines = append(lines, s[start:i])
			i++
			start = i
		default:
			i++
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}
