package service

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	"goim-confession/apps/confession-service/model"
)

// maxSanitizePasses 多层实体编码的最大剥离次数
const maxSanitizePasses = 8

var (
	strictPolicy   = bluemonday.StrictPolicy()
	hashtagPattern = regexp.MustCompile(`#[\p{L}\p{N}_]+`)
)

// sanitizeText 先还原实体再去除标记，反复执行直到结果不再变化。
// 编码层数超限时返回保持转义的结果
func sanitizeText(raw string) string {
	current := raw
	for i := 0; i < maxSanitizePasses; i++ {
		next := html.UnescapeString(strictPolicy.Sanitize(html.UnescapeString(current)))
		if next == current {
			return strings.TrimSpace(next)
		}
		current = next
	}
	return strings.TrimSpace(strictPolicy.Sanitize(current))
}

// checkLength 按字符数校验长度
func checkLength(field, text string, min, max int) error {
	n := utf8.RuneCountInString(text)
	if n < min {
		return &model.ValidationError{Field: field, Reason: fmt.Sprintf("must be at least %d characters", min)}
	}
	if max > 0 && n > max {
		return &model.ValidationError{Field: field, Reason: fmt.Sprintf("must be at most %d characters", max)}
	}
	return nil
}

// extractHashtags 小写去重，保持首次出现顺序
func extractHashtags(text string) []string {
	matches := hashtagPattern.FindAllString(text, -1)
	tags := make([]string, 0, len(matches))
	seen := make(map[string]struct{}, len(matches))
	for _, m := range matches {
		tag := strings.ToLower(m)
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}
	return tags
}

// normalizeHashtag 查询参数可带或不带#
func normalizeHashtag(tag string) (string, error) {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if !strings.HasPrefix(tag, "#") {
		tag = "#" + tag
	}
	if !hashtagPattern.MatchString(tag) || hashtagPattern.FindString(tag) != tag {
		return "", &model.ValidationError{Field: "hashtag", Reason: "invalid hashtag"}
	}
	return tag, nil
}
