package util

import (
	"net/url"
	"path"
	"path/filepath"
	"strconv"
	"strings"
)

// MustParseUint 将字符串转换为无符号整数，解析失败时返回 0
func MustParseUint(s string) uint {
	id, _ := strconv.ParseUint(s, 10, 32)
	return uint(id)
}

// IsAllowedAudio 根据扩展名判断是否为支持的音频文件
func IsAllowedAudio(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, allowed := range AllowedAudioExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

// IsURLUnder 判断 raw 是否位于 base 之下：scheme 与 host 一致，清理后的路径以 base 路径为前缀
func IsURLUnder(raw, base string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.User != nil {
		return false
	}
	b, err := url.Parse(base)
	if err != nil {
		return false
	}
	if !strings.EqualFold(u.Scheme, b.Scheme) || !strings.EqualFold(u.Host, b.Host) {
		return false
	}
	if strings.Contains(u.Path, "..") {
		return false
	}
	prefix := strings.TrimRight(b.Path, "/") + "/"
	return strings.HasPrefix(path.Clean("/"+u.Path), prefix) || prefix == "/"
}
