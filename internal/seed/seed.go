package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	virtuallabdomain "github.com/vlabcloud/vlab/internal/virtuallab/domain"
	"gorm.io/gorm"
)

const (
	defaultLabName = "Main"
	defaultLabSlug = "main"
)

// EnsureDefaultLab seeds the default virtual lab for startup bootstrap.
func EnsureDefaultLab(db *gorm.DB) error {
	return ensureLab(db, 0)
}

// EnsureDefaultLabWithID seeds the default virtual lab under a fixed id so
// self-hosted deployments can pin it from configuration.
func EnsureDefaultLabWithID(db *gorm.DB, id int64) error {
	return ensureLab(db, snowflake.ID(id))
}

func ensureLab(db *gorm.DB, id snowflake.ID) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var lab virtuallabdomain.VirtualLab
		err := tx.WithContext(ctx).
			Where("slug = ?", defaultLabSlug).
			First(&lab).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		if id == 0 {
			id = node.Generate()
		}
		now := time.Now().UTC()
		lab = virtuallabdomain.VirtualLab{
			ID:        id,
			Name:      defaultLabName,
			Slug:      defaultLabSlug,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return tx.WithContext(ctx).Create(&lab).Error
	})
}
