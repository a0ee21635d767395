package database

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SectionBase 是所有简历条目的公共字段。
type SectionBase struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ProfileID uuid.UUID `gorm:"type:char(36);not null;index" json:"-"`
	Position  int       `gorm:"not null;default:0" json:"position" binding:"min=0"`
	CreatedAt time.Time `json:"created"`
	UpdatedAt time.Time `json:"updated"`
	ResumeIDs []uint    `gorm:"-" json:"resume_ids"`
}

// Base 返回公共字段，供各条目类型统一处理。
func (b *SectionBase) Base() *SectionBase { return b }

// SectionItem 由九种简历条目类型实现。
type SectionItem interface {
	Base() *SectionBase
	Label() string
	Clean() error
}

// ErrEndBeforeStart 表示日期区间的结束早于开始。
var ErrEndBeforeStart = errors.New("end date must not be before start date")

func checkDateOrder(start, end *Date, field string) error {
	if start == nil || end == nil {
		return nil
	}
	if end.Before(*start) {
		return fmt.Errorf("%s: %w", field, ErrEndBeforeStart)
	}
	return nil
}

func orUnnamed(label, fallback string) string {
	if label == "" {
		return fallback
	}
	return label
}

// Experience 是工作经历。
type Experience struct {
	SectionBase
	JobTitle    string   `gorm:"size:100" json:"job_title" binding:"max=100"`
	CompanyName string   `gorm:"size:100" json:"company_name" binding:"max=100"`
	StartDate   *Date    `json:"start_date"`
	EndDate     *Date    `json:"end_date"`
	IsCurrent   bool     `gorm:"not null;default:false" json:"is_current"`
	Description string   `gorm:"type:text" json:"description"`
	Resumes     []Resume `gorm:"many2many:resume_experiences;constraint:OnDelete:CASCADE" json:"-"`
}

func (e *Experience) Label() string {
	if e.JobTitle == "" && e.CompanyName == "" {
		return "Unnamed Experience"
	}
	return e.JobTitle + " - " + e.CompanyName
}

func (e *Experience) Clean() error {
	normalizeDate(&e.StartDate)
	normalizeDate(&e.EndDate)
	if e.IsCurrent {
		e.EndDate = nil
	}
	return checkDateOrder(e.StartDate, e.EndDate, "end_date")
}

// Education 是教育经历。
type Education struct {
	SectionBase
	InstitutionName string   `gorm:"size:100" json:"institution_name" binding:"max=100"`
	Degree          string   `gorm:"size:100" json:"degree" binding:"max=100"`
	FieldOfStudy    string   `gorm:"size:100" json:"field_of_study" binding:"max=100"`
	StartDate       *Date    `json:"start_date"`
	EndDate         *Date    `json:"end_date"`
	Description     string   `gorm:"type:text" json:"description"`
	Resumes         []Resume `gorm:"many2many:resume_educations;constraint:OnDelete:CASCADE" json:"-"`
}

func (e *Education) Label() string {
	if e.Degree == "" && e.InstitutionName == "" {
		return "Unnamed Education"
	}
	return e.Degree + " at " + e.InstitutionName
}

func (e *Education) Clean() error {
	normalizeDate(&e.StartDate)
	normalizeDate(&e.EndDate)
	return checkDateOrder(e.StartDate, e.EndDate, "end_date")
}

// Skill 是技能。
type Skill struct {
	SectionBase
	Name        string   `gorm:"size:100" json:"name" binding:"max=100"`
	Proficiency string   `gorm:"size:50" json:"proficiency" binding:"max=50"`
	Resumes     []Resume `gorm:"many2many:resume_skills;constraint:OnDelete:CASCADE" json:"-"`
}

func (s *Skill) Label() string { return orUnnamed(s.Name, "Unnamed Skill") }
func (s *Skill) Clean() error  { return nil }

// Project 是项目经历。
type Project struct {
	SectionBase
	Title       string   `gorm:"size:100" json:"title" binding:"max=100"`
	Description string   `gorm:"type:text" json:"description"`
	Link        string   `gorm:"size:200" json:"link" binding:"omitempty,url,max=200"`
	Resumes     []Resume `gorm:"many2many:resume_projects;constraint:OnDelete:CASCADE" json:"-"`
}

func (p *Project) Label() string { return orUnnamed(p.Title, "Unnamed Project") }
func (p *Project) Clean() error  { return nil }

// Certification 是证书。
type Certification struct {
	SectionBase
	Name           string   `gorm:"size:100" json:"name" binding:"max=100"`
	Issuer         string   `gorm:"size:100" json:"issuer" binding:"max=100"`
	IssueDate      *Date    `json:"issue_date"`
	ExpirationDate *Date    `json:"expiration_date"`
	CredentialID   string   `gorm:"size:100" json:"credential_id" binding:"max=100"`
	CredentialURL  string   `gorm:"size:200" json:"credential_url" binding:"omitempty,url,max=200"`
	Resumes        []Resume `gorm:"many2many:resume_certifications;constraint:OnDelete:CASCADE" json:"-"`
}

func (c *Certification) Label() string { return orUnnamed(c.Name, "Unnamed Certification") }

func (c *Certification) Clean() error {
	normalizeDate(&c.IssueDate)
	normalizeDate(&c.ExpirationDate)
	return checkDateOrder(c.IssueDate, c.ExpirationDate, "expiration_date")
}

// Award 是获奖经历。
type Award struct {
	SectionBase
	Title        string   `gorm:"size:100" json:"title" binding:"max=100"`
	Issuer       string   `gorm:"size:100" json:"issuer" binding:"max=100"`
	DateReceived *Date    `json:"date_received"`
	Description  string   `gorm:"type:text" json:"description"`
	Resumes      []Resume `gorm:"many2many:resume_awards;constraint:OnDelete:CASCADE" json:"-"`
}

func (a *Award) Label() string { return orUnnamed(a.Title, "Unnamed Award") }

func (a *Award) Clean() error {
	normalizeDate(&a.DateReceived)
	return nil
}

// Language 是语言能力。
type Language struct {
	SectionBase
	Name        string   `gorm:"size:100" json:"name" binding:"max=100"`
	Proficiency string   `gorm:"size:50" json:"proficiency" binding:"max=50"`
	Resumes     []Resume `gorm:"many2many:resume_languages;constraint:OnDelete:CASCADE" json:"-"`
}

func (l *Language) Label() string { return orUnnamed(l.Name, "Unnamed Language") }
func (l *Language) Clean() error  { return nil }

// Interest 是兴趣爱好。
type Interest struct {
	SectionBase
	Name        string   `gorm:"size:100" json:"name" binding:"max=100"`
	Description string   `gorm:"type:text" json:"description"`
	Resumes     []Resume `gorm:"many2many:resume_interests;constraint:OnDelete:CASCADE" json:"-"`
}

func (i *Interest) Label() string { return orUnnamed(i.Name, "Unnamed Interest") }
func (i *Interest) Clean() error  { return nil }

// AdditionalInfo 是补充信息。
type AdditionalInfo struct {
	SectionBase
	Title   string   `gorm:"size:100" json:"title" binding:"max=100"`
	Content string   `gorm:"type:text" json:"content"`
	Resumes []Resume `gorm:"many2many:resume_additional_infos;constraint:OnDelete:CASCADE" json:"-"`
}

func (a *AdditionalInfo) Label() string { return orUnnamed(a.Title, "Unnamed Additional Info") }
func (a *AdditionalInfo) Clean() error  { return nil }
