package storage

import (
	"fmt"
	"mime"
	"strings"

	"github.com/google/uuid"
)

// 对象键前缀。每个用户的对象都位于 <prefix><profileID>/ 之下。
const (
	ProfilePhotoPrefix = "profile-photos/"
	ResumePDFPrefix    = "generated-resumes/"
)

// ProfilePhotoKey 返回头像对象键，ext 不带点。
func ProfilePhotoKey(profileID uuid.UUID, ext string) string {
	return fmt.Sprintf("%s%s/%s.%s", ProfilePhotoPrefix, profileID, uuid.NewString(), strings.TrimPrefix(ext, "."))
}

// ResumePDFKey 返回导出 PDF 的对象键。
func ResumePDFKey(profileID uuid.UUID) string {
	return fmt.Sprintf("%s%s/%s.pdf", ResumePDFPrefix, profileID, uuid.NewString())
}

// ProfilePrefixes 列出一个用户拥有的全部对象前缀。
func ProfilePrefixes(profileID uuid.UUID) []string {
	return []string{
		ProfilePhotoPrefix + profileID.String() + "/",
		ResumePDFPrefix + profileID.String() + "/",
	}
}

// AttachmentDisposition 构造下载用的 Content-Disposition 值。
func AttachmentDisposition(filename string) string {
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": filename}); v != "" {
		return v
	}
	return "attachment"
}

// PDFFilename 将简历标题转换为安全的文件名。
func PDFFilename(title string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ' || r == '.':
			b.WriteRune('_')
		}
	}
	name := strings.Trim(b.String(), "_")
	if name == "" {
		name = "resume"
	}
	return name + ".pdf"
}
