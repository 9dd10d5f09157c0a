package directory

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserModel is the users table row.
type UserModel struct {
	ID          string `gorm:"primaryKey;size:64"`
	DisplayName string `gorm:"size:128"`
	Role        string `gorm:"size:32;index"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (UserModel) TableName() string { return "users" }

func (m *UserModel) toDomain() *User {
	return &User{
		ID:          m.ID,
		DisplayName: m.DisplayName,
		Role:        m.Role,
		UpdatedAt:   m.UpdatedAt,
	}
}

// GormDirectory implements Directory using GORM.
type GormDirectory struct {
	db *gorm.DB
}

func NewGormDirectory(db *gorm.DB) *GormDirectory {
	return &GormDirectory{db: db}
}

// Migrate creates or updates the users table.
func (d *GormDirectory) Migrate() error {
	return d.db.AutoMigrate(&UserModel{})
}

func (d *GormDirectory) Get(ctx context.Context, userID string) (*User, error) {
	var model UserModel
	if err := d.db.WithContext(ctx).First(&model, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return model.toDomain(), nil
}

func (d *GormDirectory) Upsert(ctx context.Context, user *User) error {
	model := UserModel{
		ID:          user.ID,
		DisplayName: user.DisplayName,
		Role:        user.Role,
	}
	err := d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"display_name", "role", "updated_at"}),
	}).Create(&model).Error
	if err != nil {
		return err
	}
	user.UpdatedAt = model.UpdatedAt
	return nil
}

func (d *GormDirectory) Lookup(ctx context.Context, userID string) (string, string, error) {
	return lookup(ctx, d, userID)
}
