package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const maxSlugLength = 63

// Slugify は表示名を ASCII 小文字・数字・ハイフンのみからなる文字列に変換する。
// 合成文字は分解してダイアクリティカルマークを除去する（"Crème" -> "creme"）。
func Slugify(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(folded) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		default:
			if b.Len() > 0 && !dash {
				b.WriteByte('-')
				dash = true
			}
		}
		if b.Len() >= maxSlugLength {
			break
		}
	}
	return strings.Trim(b.String(), "-")
}

// KeysetName は (namespace, 表示名) から KeysetStore 上の安定名を導出する。
// ASCII に落とせない表示名（"請求" など）は NFKC 正規化した名前のハッシュで代替する。
func KeysetName(namespaceID int64, displayName string) string {
	slug := Slugify(displayName)
	if slug == "" {
		slug = hashSlug(displayName)
	}
	return "ns-" + strconv.FormatInt(namespaceID, 10) + "-" + slug
}

const hashSlugLength = 16

func hashSlug(s string) string {
	sum := sha256.Sum256([]byte(norm.NFKC.String(strings.TrimSpace(s))))
	return "x-" + hex.EncodeToString(sum[:])[:hashSlugLength]
}

// hasLetterOrDigit は s が文字か数字を1つ以上含むかを返す。
func hasLetterOrDigit(s string) bool {
	return strings.IndexFunc(s, func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsDigit(r)
	}) >= 0
}
