package api

import (
	"errors"
	"fmt"
	"io"

	"github.com/dutchcoders/go-clamd"
)

var errMaliciousFile = errors.New("malicious file detected")

// FileScanner 在上传前检查文件内容。
type FileScanner interface {
	Scan(r io.Reader) error
}

// ClamdScanner 通过 clamd 的 INSTREAM 命令扫描。
type ClamdScanner struct {
	addr string
}

// NewClamdScanner 返回 clamd 扫描器；addr 为空时返回 nil，调用方跳过扫描。
func NewClamdScanner(addr string) FileScanner {
	if addr == "" {
		return nil
	}
	return &ClamdScanner{addr: addr}
}

// Scan 发现病毒时返回 errMaliciousFile。
func (s *ClamdScanner) Scan(r io.Reader) error {
	abortChan := make(chan bool)
	defer close(abortChan)

	scanChan, err := clamd.NewClamd(s.addr).ScanStream(r, abortChan)
	if err != nil {
		return fmt.Errorf("clamd scan: %w", err)
	}
	infected := false
	for result := range scanChan {
		if result.Status != clamd.RES_OK {
			infected = true
		}
	}
	if infected {
		return errMaliciousFile
	}
	return nil
}
