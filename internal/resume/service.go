package resume

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"portfolio/internal/database"
)

var (
	ErrResumeNotFound     = errors.New("resume not found")
	ErrItemNotFound       = errors.New("section item not found")
	ErrInvalidResumeLinks = errors.New("resume_ids contains a resume you do not own")
	ErrInvalidPosition    = errors.New("position must not be negative")
	ErrTitleRequired      = errors.New("title is required")
)

// Service 封装简历与条目的持久化规则。
type Service struct {
	db *gorm.DB
}

// NewService 构造简历服务。
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// ListResumes 按标题列出 Profile 的简历。
func (s *Service) ListResumes(ctx context.Context, profileID uuid.UUID) ([]database.Resume, error) {
	var resumes []database.Resume
	if err := s.db.WithContext(ctx).
		Where("profile_id = ?", profileID).
		Order("title").
		Find(&resumes).Error; err != nil {
		return nil, err
	}
	return resumes, nil
}

// GetResume 返回属于 profileID 的简历。
func (s *Service) GetResume(ctx context.Context, profileID uuid.UUID, id uint) (*database.Resume, error) {
	return findResume(s.db.WithContext(ctx), profileID, id)
}

func findResume(db *gorm.DB, profileID uuid.UUID, id uint) (*database.Resume, error) {
	var resume database.Resume
	if err := db.Where("id = ? AND profile_id = ?", id, profileID).First(&resume).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrResumeNotFound
		}
		return nil, err
	}
	return &resume, nil
}

// CreateResume 创建简历并设为当前简历。
func (s *Service) CreateResume(ctx context.Context, profile *database.Profile, title, summary string) (*database.Resume, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, ErrTitleRequired
	}
	resume := database.Resume{ProfileID: profile.ID, Title: title, Summary: summary}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&resume).Error; err != nil {
			return fmt.Errorf("create resume: %w", err)
		}
		return setActiveResumeID(tx, profile.ID, &resume.ID)
	})
	if err != nil {
		return nil, err
	}
	profile.ActiveResumeID = &resume.ID
	return &resume, nil
}

// UpdateResume 修改标题与摘要并设为当前简历。
func (s *Service) UpdateResume(ctx context.Context, profile *database.Profile, id uint, title, summary string) (*database.Resume, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, ErrTitleRequired
	}
	var resume *database.Resume
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		resume, err = findResume(tx, profile.ID, id)
		if err != nil {
			return err
		}
		if err := tx.Model(resume).Updates(map[string]any{"title": title, "summary": summary}).Error; err != nil {
			return fmt.Errorf("update resume: %w", err)
		}
		return setActiveResumeID(tx, profile.ID, &resume.ID)
	})
	if err != nil {
		return nil, err
	}
	resume.Title = title
	resume.Summary = summary
	profile.ActiveResumeID = &resume.ID
	return resume, nil
}

// MarkActive 将简历设为 Profile 的当前简历。
func (s *Service) MarkActive(ctx context.Context, profile *database.Profile, resumeID uint) error {
	if err := setActiveResumeID(s.db.WithContext(ctx), profile.ID, &resumeID); err != nil {
		return err
	}
	profile.ActiveResumeID = &resumeID
	return nil
}

// DeleteResume 删除简历与其关联关系，条目本身保留；当前简历回落到最近更新的一份。
// 返回被删除的简历，调用方据此清理已生成的 PDF。
func (s *Service) DeleteResume(ctx context.Context, profile *database.Profile, id uint) (*database.Resume, error) {
	var deleted *database.Resume
	var nextActive *uint
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		resume, err := findResume(tx, profile.ID, id)
		if err != nil {
			return err
		}
		for _, k := range Kinds {
			if err := tx.Exec("DELETE FROM "+k.JoinTable+" WHERE resume_id = ?", resume.ID).Error; err != nil {
				return fmt.Errorf("unlink %s: %w", k.Plural, err)
			}
		}
		if err := tx.Delete(resume).Error; err != nil {
			return fmt.Errorf("delete resume: %w", err)
		}

		var latest database.Resume
		err = tx.Where("profile_id = ?", profile.ID).Order("updated_at DESC").First(&latest).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			nextActive = nil
		case err != nil:
			return err
		default:
			nextActive = &latest.ID
		}
		deleted = resume
		return setActiveResumeID(tx, profile.ID, nextActive)
	})
	if err != nil {
		return nil, err
	}
	profile.ActiveResumeID = nextActive
	return deleted, nil
}

// SetPdfKey 记录最新生成的 PDF 对象键，返回旧键。
func (s *Service) SetPdfKey(ctx context.Context, resumeID uint, key string) (string, error) {
	var previous string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var resume database.Resume
		if err := tx.Select("id", "pdf_key").First(&resume, resumeID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrResumeNotFound
			}
			return err
		}
		previous = resume.PdfKey
		return tx.Model(&database.Resume{}).Where("id = ?", resumeID).UpdateColumn("pdf_key", key).Error
	})
	return previous, err
}

func setActiveResumeID(db *gorm.DB, profileID uuid.UUID, resumeID *uint) error {
	var value any
	if resumeID != nil {
		value = *resumeID
	}
	return db.Model(&database.Profile{}).
		Where("id = ?", profileID).
		UpdateColumn("active_resume_id", value).Error
}

// currentResumeID 返回 Profile 当前简历的 ID，简历已不存在时返回 nil。
func currentResumeID(db *gorm.DB, profile *database.Profile) (*uint, error) {
	if profile.ActiveResumeID == nil {
		return nil, nil
	}
	if _, err := findResume(db, profile.ID, *profile.ActiveResumeID); err != nil {
		if errors.Is(err, ErrResumeNotFound) {
			return nil, nil
		}
		return nil, err
	}
	id := *profile.ActiveResumeID
	return &id, nil
}

// ListItems 返回 Profile 某类型的全部条目。
func (s *Service) ListItems(ctx context.Context, profileID uuid.UUID, kind Kind) ([]database.SectionItem, error) {
	db := s.db.WithContext(ctx)
	slice := kind.NewSlice()
	if err := db.Where("profile_id = ?", profileID).Order(kind.Order).Find(slice).Error; err != nil {
		return nil, fmt.Errorf("list %s: %w", kind.Plural, err)
	}
	items := kind.Items(slice)
	if err := fillResumeIDs(db, kind, items); err != nil {
		return nil, err
	}
	return items, nil
}

// LinkedItems 返回某份简历关联的某类型条目。
func (s *Service) LinkedItems(ctx context.Context, resume *database.Resume, kind Kind) ([]database.SectionItem, error) {
	return linkedItems(s.db.WithContext(ctx), resume, kind)
}

func linkedItems(db *gorm.DB, resume *database.Resume, kind Kind) ([]database.SectionItem, error) {
	slice := kind.NewSlice()
	if err := db.Model(resume).Order(kind.Order).Association(kind.Assoc).Find(slice); err != nil {
		return nil, fmt.Errorf("load %s: %w", kind.Plural, err)
	}
	return kind.Items(slice), nil
}

// Sections 按类型返回简历关联的全部条目。
func (s *Service) Sections(ctx context.Context, resume *database.Resume) (map[string][]database.SectionItem, error) {
	db := s.db.WithContext(ctx)
	out := make(map[string][]database.SectionItem, len(Kinds))
	for _, k := range Kinds {
		items, err := linkedItems(db, resume, k)
		if err != nil {
			return nil, err
		}
		out[k.Plural] = items
	}
	return out, nil
}

// Dashboard 是用户的简历与全部条目。
type Dashboard struct {
	Resumes  []database.Resume
	Sections map[string][]database.SectionItem
}

// Dashboard 汇总 Profile 的简历与各类型条目。
func (s *Service) Dashboard(ctx context.Context, profileID uuid.UUID) (*Dashboard, error) {
	resumes, err := s.ListResumes(ctx, profileID)
	if err != nil {
		return nil, err
	}
	dash := &Dashboard{Resumes: resumes, Sections: make(map[string][]database.SectionItem, len(Kinds))}
	for _, k := range Kinds {
		items, err := s.ListItems(ctx, profileID, k)
		if err != nil {
			return nil, err
		}
		dash.Sections[k.Plural] = items
	}
	return dash, nil
}

// GetItem 返回属于 profileID 的条目并填充 ResumeIDs。
func (s *Service) GetItem(ctx context.Context, profileID uuid.UUID, kind Kind, id uint) (database.SectionItem, error) {
	db := s.db.WithContext(ctx)
	item, err := findItem(db, profileID, kind, id)
	if err != nil {
		return nil, err
	}
	if err := fillResumeIDs(db, kind, []database.SectionItem{item}); err != nil {
		return nil, err
	}
	return item, nil
}

func findItem(db *gorm.DB, profileID uuid.UUID, kind Kind, id uint) (database.SectionItem, error) {
	item := kind.New()
	if err := db.Where("id = ? AND profile_id = ?", id, profileID).First(item).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrItemNotFound
		}
		return nil, err
	}
	return item, nil
}

// AddItem 保存新条目并建立简历关联：
// 显式的 resume_ids 优先；否则关联路由中的简历；再否则关联当前简历。
func (s *Service) AddItem(ctx context.Context, profile *database.Profile, kind Kind, item database.SectionItem, routeResumeID *uint) error {
	base := item.Base()
	base.ID = 0
	base.ProfileID = profile.ID
	if err := item.Clean(); err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var links []uint
		switch {
		case len(base.ResumeIDs) > 0:
			ids, err := ownedResumeIDs(tx, profile.ID, base.ResumeIDs)
			if err != nil {
				return err
			}
			links = ids
		case routeResumeID != nil:
			resume, err := findResume(tx, profile.ID, *routeResumeID)
			if err != nil {
				return err
			}
			links = []uint{resume.ID}
		default:
			current, err := currentResumeID(tx, profile)
			if err != nil {
				return err
			}
			if current != nil {
				links = []uint{*current}
			}
		}

		if err := tx.Omit("Resumes").Create(item).Error; err != nil {
			return fmt.Errorf("create %s: %w", kind.Name, err)
		}
		if err := replaceLinks(tx, kind, base.ID, links); err != nil {
			return err
		}
		base.ResumeIDs = links
		return nil
	})
}

// UpdateItem 保存已加载并修改过的条目；ResumeIDs 非 nil 时整体替换关联。
func (s *Service) UpdateItem(ctx context.Context, profile *database.Profile, kind Kind, item database.SectionItem) error {
	base := item.Base()
	base.ProfileID = profile.ID
	if err := item.Clean(); err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := findItem(tx, profile.ID, kind, base.ID); err != nil {
			return err
		}
		if err := tx.Omit("Resumes", "CreatedAt").Save(item).Error; err != nil {
			return fmt.Errorf("update %s: %w", kind.Name, err)
		}
		if base.ResumeIDs != nil {
			ids, err := ownedResumeIDs(tx, profile.ID, base.ResumeIDs)
			if err != nil {
				return err
			}
			if err := replaceLinks(tx, kind, base.ID, ids); err != nil {
				return err
			}
		}
		return fillResumeIDs(tx, kind, []database.SectionItem{item})
	})
}

// DeleteItem 删除条目，返回按标题排序的第一份关联简历 ID 供客户端跳转。
func (s *Service) DeleteItem(ctx context.Context, profileID uuid.UUID, kind Kind, id uint) (*uint, error) {
	var redirect *uint
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		item, err := findItem(tx, profileID, kind, id)
		if err != nil {
			return err
		}

		var ids []uint
		if err := tx.Table("resumes").
			Joins("JOIN "+kind.JoinTable+" ON "+kind.JoinTable+".resume_id = resumes.id").
			Where(kind.JoinTable+"."+kind.ItemColumn+" = ?", id).
			Order("resumes.title").
			Limit(1).
			Pluck("resumes.id", &ids).Error; err != nil {
			return fmt.Errorf("find linked resume: %w", err)
		}
		if len(ids) > 0 {
			redirect = &ids[0]
		}

		if err := replaceLinks(tx, kind, id, nil); err != nil {
			return err
		}
		if err := tx.Delete(item).Error; err != nil {
			return fmt.Errorf("delete %s: %w", kind.Name, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return redirect, nil
}

// OrderEntry 是一次排序请求中的单项。
type OrderEntry struct {
	ID       uint `json:"id"`
	Position int  `json:"position"`
}

// Reorder 在一个事务内更新位置；任一条目不属于用户或位置非法时整体回滚。
func (s *Service) Reorder(ctx context.Context, profileID uuid.UUID, kind Kind, entries []OrderEntry) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, e := range entries {
			if e.Position < 0 {
				return fmt.Errorf("%s %d: %w", kind.Name, e.ID, ErrInvalidPosition)
			}
			res := tx.Model(kind.New()).
				Where("id = ? AND profile_id = ?", e.ID, profileID).
				Update("position", e.Position)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("no %s matches id %d: %w", kind.Title, e.ID, ErrItemNotFound)
			}
		}
		return nil
	})
}

// ownedResumeIDs 校验全部 ID 都属于 profileID，返回去重后的列表。
func ownedResumeIDs(db *gorm.DB, profileID uuid.UUID, ids []uint) ([]uint, error) {
	unique := make([]uint, 0, len(ids))
	seen := make(map[uint]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	if len(unique) == 0 {
		return unique, nil
	}

	var count int64
	if err := db.Model(&database.Resume{}).
		Where("profile_id = ? AND id IN ?", profileID, unique).
		Count(&count).Error; err != nil {
		return nil, err
	}
	if count != int64(len(unique)) {
		return nil, ErrInvalidResumeLinks
	}
	sort.Slice(unique, func(i, j int) bool { return unique[i] < unique[j] })
	return unique, nil
}

func replaceLinks(db *gorm.DB, kind Kind, itemID uint, resumeIDs []uint) error {
	if err := db.Exec("DELETE FROM "+kind.JoinTable+" WHERE "+kind.ItemColumn+" = ?", itemID).Error; err != nil {
		return fmt.Errorf("clear %s links: %w", kind.Name, err)
	}
	if len(resumeIDs) == 0 {
		return nil
	}
	rows := make([]map[string]any, 0, len(resumeIDs))
	for _, rid := range resumeIDs {
		rows = append(rows, map[string]any{"resume_id": rid, kind.ItemColumn: itemID})
	}
	if err := db.Table(kind.JoinTable).Create(&rows).Error; err != nil {
		return fmt.Errorf("link %s: %w", kind.Name, err)
	}
	return nil
}

func fillResumeIDs(db *gorm.DB, kind Kind, items []database.SectionItem) error {
	if len(items) == 0 {
		return nil
	}
	ids := make([]uint, 0, len(items))
	byID := make(map[uint]*database.SectionBase, len(items))
	for _, item := range items {
		base := item.Base()
		base.ResumeIDs = []uint{}
		ids = append(ids, base.ID)
		byID[base.ID] = base
	}

	var rows []struct {
		ItemID   uint
		ResumeID uint
	}
	if err := db.Table(kind.JoinTable).
		Select(kind.ItemColumn+" AS item_id, resume_id").
		Where(kind.ItemColumn+" IN ?", ids).
		Order("resume_id").
		Scan(&rows).Error; err != nil {
		return fmt.Errorf("load %s links: %w", kind.Name, err)
	}
	for _, r := range rows {
		if base, ok := byID[r.ItemID]; ok {
			base.ResumeIDs = append(base.ResumeIDs, r.ResumeID)
		}
	}
	return nil
}
