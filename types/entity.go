package types

import "strings"

// EntityScheme 实体 URI 的 scheme
const EntityScheme = "telec"

// 已识别的实体类型
const (
	EntityTodo   = "todo"
	EntityWorker = "worker"
)

// EntityURI 构造 telec://{kind}/{id}
func EntityURI(kind, id string) string {
	return EntityScheme + "://" + kind + "/" + id
}

// ParseEntity 解析实体 URI。scheme 不是 telec 或格式不完整时 ok 为 false。
func ParseEntity(uri string) (kind, id string, ok bool) {
	rest, found := strings.CutPrefix(uri, EntityScheme+"://")
	if !found {
		return "", "", false
	}
	kind, id, found = strings.Cut(rest, "/")
	if !found || kind == "" || id == "" {
		return "", "", false
	}
	return kind, id, true
}
