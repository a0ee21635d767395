package database

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"portfolio/internal/auth"
)

// VerificationTokenLength 是邮箱验证令牌的长度。
const VerificationTokenLength = 50

// 联系方式偏好取值。
const (
	PreferenceNone   = ""
	PreferenceHome   = "home"
	PreferenceMobile = "mobile"
	PreferenceWork   = "work"
	PreferenceText   = "text"
	PreferenceEmail  = "email"
)

// User 表示系统中的登录账号。
type User struct {
	gorm.Model
	Username           string     `gorm:"uniqueIndex;size:30;not null"`
	Email              string     `gorm:"uniqueIndex;size:200;not null"`
	FirstName          string     `gorm:"size:50"`
	LastName           string     `gorm:"size:50"`
	PasswordHash       string     `gorm:"size:255"`
	IsActive           bool       `gorm:"not null;default:true"`
	MustChangePassword bool       `gorm:"not null;default:false"`
	LastLogin          *time.Time
	Profile            *Profile    `gorm:"constraint:OnDelete:CASCADE"`
	IPAddresses        []IPAddress `gorm:"constraint:OnDelete:CASCADE"`
}

// Profile 扩展 User，保存联系方式、验证状态与角色标记。
type Profile struct {
	ID                uuid.UUID  `gorm:"type:char(36);primaryKey" json:"id"`
	UserID            uint       `gorm:"uniqueIndex;not null" json:"-"`
	Username          string     `gorm:"size:30;uniqueIndex;not null" json:"username"`
	FName             string     `gorm:"column:fname;size:50" json:"fname"`
	MName             string     `gorm:"column:mname;size:50" json:"mname"`
	LName             string     `gorm:"column:lname;size:50" json:"lname"`
	Street1           string     `gorm:"size:100" json:"street1"`
	Street2           string     `gorm:"size:100" json:"street2"`
	City              string     `gorm:"size:50" json:"city"`
	State             string     `gorm:"size:2" json:"state"`
	Zipcode           string     `gorm:"size:5" json:"zipcode"`
	HomePhone         string     `gorm:"size:10" json:"home_phone"`
	MobilePhone       string     `gorm:"size:10" json:"mobile_phone"`
	WorkPhone         string     `gorm:"size:10" json:"work_phone"`
	Email             string     `gorm:"size:200;uniqueIndex;not null" json:"email"`
	Preference        string     `gorm:"size:6;default:home" json:"preference"`
	VerificationToken string     `gorm:"size:50" json:"-"`
	TokenCreatedAt    *time.Time `json:"-"`
	IsStaff           bool       `gorm:"not null;default:false" json:"is_staff"`
	IsSuperuser       bool       `gorm:"not null;default:false" json:"is_superuser"`
	IsApproved        bool       `gorm:"not null;default:false" json:"is_approved"`
	EmailValid        bool       `gorm:"not null;default:false" json:"email_valid"`
	ActiveResumeID    *uint      `json:"active_resume_id"`
	PhotoKey          string     `gorm:"size:255" json:"-"`
	CreatedAt         time.Time  `json:"created"`
	UpdatedAt         time.Time  `json:"updated"`

	Resumes         []Resume         `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Experiences     []Experience     `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Educations      []Education      `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Skills          []Skill          `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Projects        []Project        `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Certifications  []Certification  `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Awards          []Award          `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Languages       []Language       `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Interests       []Interest       `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	AdditionalInfos []AdditionalInfo `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Posts           []Post           `gorm:"constraint:OnDelete:SET NULL" json:"-"`
	Comments        []Comment        `gorm:"constraint:OnDelete:SET NULL" json:"-"`
}

// BeforeCreate 分配 UUID 主键。
func (p *Profile) BeforeCreate(_ *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// BeforeSave 在缺少验证令牌时生成一个新令牌并记录时间。
func (p *Profile) BeforeSave(_ *gorm.DB) error {
	if p.VerificationToken != "" {
		return nil
	}
	return p.RotateVerificationToken()
}

// RotateVerificationToken 生成新的验证令牌，旧链接随之失效。
func (p *Profile) RotateVerificationToken() error {
	token, err := auth.RandomToken(VerificationTokenLength)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	p.VerificationToken = token
	p.TokenCreatedAt = &now
	return nil
}

// DisplayName 返回“名 姓”，缺失时回落到用户名。
func (p *Profile) DisplayName() string {
	name := p.FName
	if p.LName != "" {
		if name != "" {
			name += " "
		}
		name += p.LName
	}
	if name == "" {
		return p.Username
	}
	return name
}

// IsAdmin 报告是否具备后台管理权限。
func (p *Profile) IsAdmin() bool { return p.IsStaff || p.IsSuperuser }

// PreferredPhone 按偏好返回联系电话。
func (p *Profile) PreferredPhone() string {
	switch p.Preference {
	case PreferenceMobile, PreferenceText:
		return p.MobilePhone
	case PreferenceWork:
		return p.WorkPhone
	case PreferenceHome:
		return p.HomePhone
	}
	for _, phone := range []string{p.MobilePhone, p.HomePhone, p.WorkPhone} {
		if phone != "" {
			return phone
		}
	}
	return ""
}

// IPAddress 记录用户使用过的客户端 IP。
type IPAddress struct {
	ID        uuid.UUID `gorm:"type:char(36);primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_user_ip" json:"-"`
	IP        string    `gorm:"size:45;not null;uniqueIndex:idx_user_ip" json:"ip"`
	CreatedAt time.Time `json:"created"`
}

func (a *IPAddress) BeforeCreate(_ *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

// Blacklist 是被拒绝访问的 IP。
type Blacklist struct {
	ID        uuid.UUID `gorm:"type:char(36);primaryKey" json:"id"`
	IP        string    `gorm:"size:45;not null;uniqueIndex" json:"ip"`
	Reason    string    `gorm:"size:255" json:"reason"`
	CreatedAt time.Time `json:"created"`
}

func (b *Blacklist) BeforeCreate(_ *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

// Post 是论坛主题，作者姓名在保存时冗余存储。
type Post struct {
	ID        uuid.UUID  `gorm:"type:char(36);primaryKey" json:"id"`
	ProfileID *uuid.UUID `gorm:"type:char(36);index" json:"profile_id"`
	Username  string     `gorm:"size:30" json:"username"`
	FName     string     `gorm:"column:fname;size:50" json:"fname"`
	LName     string     `gorm:"column:lname;size:50" json:"lname"`
	Subject   string     `gorm:"size:100;not null" json:"subject"`
	Message   string     `gorm:"type:text;not null" json:"message"`
	CreatedAt time.Time  `json:"created"`
	UpdatedAt time.Time  `json:"updated"`
	Comments  []Comment  `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

func (p *Post) BeforeCreate(_ *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// SetAuthor 冗余作者的用户名与姓名。
func (p *Post) SetAuthor(author *Profile) {
	id := author.ID
	p.ProfileID = &id
	p.Username = author.Username
	p.FName = author.FName
	p.LName = author.LName
}

// Comment 是帖子下的评论，ParentID 非空时为回复。
type Comment struct {
	ID        uuid.UUID  `gorm:"type:char(36);primaryKey" json:"id"`
	PostID    uuid.UUID  `gorm:"type:char(36);not null;index" json:"post_id"`
	ProfileID *uuid.UUID `gorm:"type:char(36);index" json:"profile_id"`
	ParentID  *uuid.UUID `gorm:"type:char(36);index" json:"parent_id"`
	Username  string     `gorm:"size:30" json:"username"`
	FName     string     `gorm:"column:fname;size:50" json:"fname"`
	LName     string     `gorm:"column:lname;size:50" json:"lname"`
	Text      string     `gorm:"type:text;not null" json:"text"`
	CreatedAt time.Time  `json:"created"`
	UpdatedAt time.Time  `json:"updated"`
	Replies   []Comment  `gorm:"foreignKey:ParentID;constraint:OnDelete:CASCADE" json:"-"`
}

func (c *Comment) BeforeCreate(_ *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// SetAuthor 冗余作者的用户名与姓名。
func (c *Comment) SetAuthor(author *Profile) {
	id := author.ID
	c.ProfileID = &id
	c.Username = author.Username
	c.FName = author.FName
	c.LName = author.LName
}

// Resume 由 Profile 拥有，通过多对多关联组合各类条目。
type Resume struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ProfileID uuid.UUID `gorm:"type:char(36);not null;index" json:"-"`
	Title     string    `gorm:"size:100;not null" json:"title"`
	Summary   string    `gorm:"type:text" json:"summary"`
	PdfKey    string    `gorm:"size:512" json:"-"`
	CreatedAt time.Time `json:"created"`
	UpdatedAt time.Time `json:"updated"`

	Experiences     []Experience     `gorm:"many2many:resume_experiences;constraint:OnDelete:CASCADE" json:"-"`
	Educations      []Education      `gorm:"many2many:resume_educations;constraint:OnDelete:CASCADE" json:"-"`
	Skills          []Skill          `gorm:"many2many:resume_skills;constraint:OnDelete:CASCADE" json:"-"`
	Projects        []Project        `gorm:"many2many:resume_projects;constraint:OnDelete:CASCADE" json:"-"`
	Certifications  []Certification  `gorm:"many2many:resume_certifications;constraint:OnDelete:CASCADE" json:"-"`
	Awards          []Award          `gorm:"many2many:resume_awards;constraint:OnDelete:CASCADE" json:"-"`
	Languages       []Language       `gorm:"many2many:resume_languages;constraint:OnDelete:CASCADE" json:"-"`
	Interests       []Interest       `gorm:"many2many:resume_interests;constraint:OnDelete:CASCADE" json:"-"`
	AdditionalInfos []AdditionalInfo `gorm:"many2many:resume_additional_infos;constraint:OnDelete:CASCADE" json:"-"`
}
