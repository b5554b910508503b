package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/vlabcloud/vlab/internal/clock"
	"github.com/vlabcloud/vlab/internal/virtuallab/domain"
	"github.com/vlabcloud/vlab/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type service struct {
	db    *gorm.DB
	log   *zap.Logger
	repo  domain.Repository
	genID *snowflake.Node
	clock clock.Clock
}

func NewService(db *gorm.DB, log *zap.Logger, repo domain.Repository, genID *snowflake.Node, clk clock.Clock) domain.Service {
	return &service{
		db:    db,
		log:   log.Named("virtuallab.service"),
		repo:  repo,
		genID: genID,
		clock: clk,
	}
}

func (s *service) Create(ctx context.Context, userID snowflake.ID, req domain.CreateLabRequest) (*domain.LabResponse, error) {
	if userID == 0 {
		return nil, domain.ErrInvalidUser
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}

	now := s.clock.Now()
	lab := domain.VirtualLab{
		ID:        s.genID.Generate(),
		Name:      name,
		Slug:      slug.Make(name) + "-" + lab4(s.genID.Generate()),
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.CreateLab(ctx, lab); err != nil {
			return err
		}
		return repo.AddMember(ctx, domain.LabMember{
			ID:           s.genID.Generate(),
			VirtualLabID: lab.ID,
			UserID:       userID,
			Role:         domain.RoleOwner,
			CreatedAt:    now,
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("virtual lab created", zap.String("lab_id", lab.ID.String()), zap.String("slug", lab.Slug))
	return &domain.LabResponse{
		ID:   lab.ID.String(),
		Name: lab.Name,
		Slug: lab.Slug,
	}, nil
}

func (s *service) GetByID(ctx context.Context, id string) (*domain.LabResponse, error) {
	labID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || labID == 0 {
		return nil, domain.ErrInvalidVirtualLab
	}
	lab, err := s.repo.GetLab(ctx, labID)
	if err != nil {
		return nil, err
	}
	return &domain.LabResponse{
		ID:   lab.ID.String(),
		Name: lab.Name,
		Slug: lab.Slug,
	}, nil
}

func (s *service) ListLabsByUser(ctx context.Context, userID snowflake.ID) ([]domain.LabListResponseItem, error) {
	if userID == 0 {
		return nil, domain.ErrInvalidUser
	}
	items, err := s.repo.ListLabsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.LabListResponseItem, 0, len(items))
	for _, item := range items {
		out = append(out, domain.LabListResponseItem{
			ID:        item.ID.String(),
			Name:      item.Name,
			Role:      item.Role,
			CreatedAt: item.CreatedAt,
		})
	}
	return out, nil
}

func (s *service) AddMember(ctx context.Context, labID string, userID snowflake.ID, role string) error {
	parsedLabID, err := snowflake.ParseString(strings.TrimSpace(labID))
	if err != nil || parsedLabID == 0 {
		return domain.ErrInvalidVirtualLab
	}
	if userID == 0 {
		return domain.ErrInvalidUser
	}
	role = strings.ToUpper(strings.TrimSpace(role))
	switch role {
	case domain.RoleOwner, domain.RoleAdmin, domain.RoleMember:
	default:
		return domain.ErrInvalidRole
	}

	err = s.repo.AddMember(ctx, domain.LabMember{
		ID:           s.genID.Generate(),
		VirtualLabID: parsedLabID,
		UserID:       userID,
		Role:         role,
		CreatedAt:    s.clock.Now(),
	})
	if db.IsDuplicateKeyErr(err) {
		return domain.ErrAlreadyMember
	}
	return err
}

// RemoveMember drops a user from the lab. The last owner cannot be
// removed; a lab without owners would be unmanageable.
func (s *service) RemoveMember(ctx context.Context, labID string, userID snowflake.ID) error {
	parsedLabID, err := snowflake.ParseString(strings.TrimSpace(labID))
	if err != nil || parsedLabID == 0 {
		return domain.ErrInvalidVirtualLab
	}
	if userID == 0 {
		return domain.ErrInvalidUser
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		member, err := repo.GetMember(ctx, parsedLabID, userID)
		if err != nil {
			return err
		}
		if member.Role == domain.RoleOwner {
			owners, err := repo.CountMembersByRole(ctx, parsedLabID, domain.RoleOwner)
			if err != nil {
				return err
			}
			if owners <= 1 {
				return domain.ErrLastOwner
			}
		}
		return repo.RemoveMember(ctx, parsedLabID, userID)
	})
}

func (s *service) IsMember(ctx context.Context, labID snowflake.ID, userID snowflake.ID) (bool, error) {
	return s.repo.IsMember(ctx, labID, userID)
}

func lab4(id snowflake.ID) string {
	raw := id.String()
	if len(raw) <= 4 {
		return raw
	}
	return raw[len(raw)-4:]
}
