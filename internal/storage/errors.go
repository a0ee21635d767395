package storage

import (
	"errors"
	"strings"

	"github.com/minio/minio-go/v7"
)

type missingKind struct {
	codes    []string
	messages []string
}

var (
	missingObject = missingKind{
		codes:    []string{"nosuchkey", "notfound"},
		messages: []string{"nosuchkey", "specified key does not exist", "not found"},
	}
	missingBucket = missingKind{
		codes:    []string{"nosuchbucket"},
		messages: []string{"nosuchbucket", "specified bucket does not exist"},
	}
)

// match 先比对 S3 错误码，网关改写过的错误再按文本判断。
func (k missingKind) match(err error) bool {
	if err == nil {
		return false
	}
	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		code := strings.ToLower(strings.TrimSpace(resp.Code))
		for _, c := range k.codes {
			if code == c {
				return true
			}
		}
	}
	text := strings.ToLower(err.Error())
	for _, m := range k.messages {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}

// IsNoSuchKey 报告对象是否不存在。
func IsNoSuchKey(err error) bool { return missingObject.match(err) }

// IsNoSuchBucket 报告 Bucket 是否不存在。
func IsNoSuchBucket(err error) bool { return missingBucket.match(err) }
