package dao

import (
	"strconv"
	"strings"

	"goim-confession/apps/confession-service/model"
)

// normalizePage 规范分页参数，返回offset与limit
func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = model.DefaultPage
	}
	if pageSize < 1 {
		pageSize = model.DefaultPageSize
	}
	if pageSize > model.MaxPageSize {
		pageSize = model.MaxPageSize
	}
	return (page - 1) * pageSize, pageSize
}

// escapeLike 转义LIKE通配符
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func formatInt(n int64) string {
	return strconv.FormatInt(n, 10)
}
