package util

import (
	"bytes"
	"io"
	"net/http"
	"strings"
)

// 浏览器录音常见的嗅探结果；无法识别的容器（aac/flac）交给 ffprobe 判定
var allowedAudioMimes = []string{MimeAudio, "video/webm", "video/mp4", "application/ogg", MimeOctetStream}

// SniffAudio 读取前 512 字节检测 MIME 类型，返回可继续完整读取的 reader
func SniffAudio(reader io.Reader) (string, io.Reader, error) {
	buffer := make([]byte, 512)
	n, err := io.ReadFull(reader, buffer)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return "", nil, err
	}
	if n == 0 {
		return "", nil, ErrEmptyAudio
	}

	mimeType := http.DetectContentType(buffer[:n])
	rest := io.MultiReader(bytes.NewReader(buffer[:n]), reader)

	if !IsAudioMime(mimeType) {
		return mimeType, rest, ErrUnsupportedAudio
	}
	return mimeType, rest, nil
}

// IsAudioMime 检测是否为可接受的录音类型
func IsAudioMime(mimeType string) bool {
	for _, allowed := range allowedAudioMimes {
		if strings.HasPrefix(mimeType, allowed) {
			return true
		}
	}
	return false
}

// AudioContentType 按转码格式给出上传时的 Content-Type
func AudioContentType(format string) string {
	switch strings.ToLower(format) {
	case "mp3":
		return MimeMP3
	case "wav":
		return "audio/wav"
	case "ogg":
		return "audio/ogg"
	default:
		return MimeOctetStream
	}
}
