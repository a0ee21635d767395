// Package resume 管理简历以及可在多份简历间复用的条目。
package resume

import (
	"errors"
	"strings"

	"portfolio/internal/database"
)

// ErrUnknownSection 表示路由中的条目类型不存在。
var ErrUnknownSection = errors.New("unknown section")

// Kind 描述一种简历条目类型。
type Kind struct {
	// Name 是路由中使用的单数名称，如 "additional-info"。
	Name string
	// Plural 是 JSON 字段名，如 "additional_infos"。
	Plural string
	// Title 用于打印页的小节标题。
	Title string
	// Assoc 是 Resume 上的多对多字段名。
	Assoc string
	// JoinTable 与 ItemColumn 定位关联表。
	JoinTable  string
	ItemColumn string
	// Order 是列表的排序子句。
	Order string

	newItem  func() database.SectionItem
	newSlice func() any
	collect  func(slice any) []database.SectionItem
}

// New 返回一个空条目。
func (k Kind) New() database.SectionItem { return k.newItem() }

// NewSlice 返回指向空切片的指针，用于查询。
func (k Kind) NewSlice() any { return k.newSlice() }

// Items 将 NewSlice 查询结果转为条目列表。
func (k Kind) Items(slice any) []database.SectionItem { return k.collect(slice) }

func newKind[T any, PT interface {
	*T
	database.SectionItem
}](name, plural, title, assoc, joinTable, itemColumn string, order ...string) Kind {
	return Kind{
		Name:       name,
		Plural:     plural,
		Title:      title,
		Assoc:      assoc,
		JoinTable:  joinTable,
		ItemColumn: itemColumn,
		Order:      strings.Join(order, ", "),
		newItem:    func() database.SectionItem { return PT(new(T)) },
		newSlice:   func() any { return &[]T{} },
		collect: func(slice any) []database.SectionItem {
			values := *(slice.(*[]T))
			items := make([]database.SectionItem, len(values))
			for i := range values {
				items[i] = PT(&values[i])
			}
			return items
		},
	}
}

// Kinds 按打印顺序列出全部条目类型。
var Kinds = []Kind{
	newKind[database.Experience]("experience", "experiences", "Experience", "Experiences",
		"resume_experiences", "experience_id", "position", "is_current DESC", "start_date DESC"),
	newKind[database.Education]("education", "educations", "Education", "Educations",
		"resume_educations", "education_id", "position", "end_date DESC", "start_date DESC"),
	newKind[database.Skill]("skill", "skills", "Skills", "Skills",
		"resume_skills", "skill_id", "position", "name"),
	newKind[database.Project]("project", "projects", "Projects", "Projects",
		"resume_projects", "project_id", "position", "title"),
	newKind[database.Certification]("certification", "certifications", "Certifications", "Certifications",
		"resume_certifications", "certification_id", "position", "name"),
	newKind[database.Award]("award", "awards", "Awards", "Awards",
		"resume_awards", "award_id", "position", "title"),
	newKind[database.Language]("language", "languages", "Languages", "Languages",
		"resume_languages", "language_id", "position", "name"),
	newKind[database.Interest]("interest", "interests", "Interests", "Interests",
		"resume_interests", "interest_id", "position", "name"),
	newKind[database.AdditionalInfo]("additional-info", "additional_infos", "Additional Information", "AdditionalInfos",
		"resume_additional_infos", "additional_info_id", "position", "title"),
}

// LookupKind 按路由名称查找条目类型。
func LookupKind(name string) (Kind, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, k := range Kinds {
		if k.Name == name {
			return k, nil
		}
	}
	return Kind{}, ErrUnknownSection
}
