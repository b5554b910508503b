package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/vlabcloud/vlab/internal/clock"
	"github.com/vlabcloud/vlab/internal/promocode/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func NewService(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("promocode.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreatePromotionCodeRequest) (*domain.PromotionCode, error) {
	code := domain.NormalizeCode(req.Code)
	if code == "" {
		return nil, domain.ErrInvalidCode
	}
	if req.CreditsAmount <= 0 {
		return nil, domain.ErrInvalidCredits
	}
	if !req.ValidUntil.After(req.ValidFrom) {
		return nil, domain.ErrInvalidWindow
	}
	if req.MaxUsesPerUser < 1 {
		req.MaxUsesPerUser = 1
	}
	if req.MaxTotalUses != nil && *req.MaxTotalUses < 1 {
		return nil, domain.ErrInvalidLimit
	}
	validityDays := req.ValidityPeriodDays
	if validityDays <= 0 {
		validityDays = int(req.ValidUntil.Sub(req.ValidFrom).Hours() / 24)
		if validityDays < 1 {
			validityDays = 1
		}
	}

	now := s.clock.Now()
	row := &domain.PromotionCode{
		ID:                 s.genID.Generate(),
		Code:               code,
		Description:        req.Description,
		CreditsAmount:      req.CreditsAmount,
		ValidityPeriodDays: validityDays,
		MaxUsesPerUser:     req.MaxUsesPerUser,
		MaxTotalUses:       req.MaxTotalUses,
		Active:             true,
		ValidFrom:          req.ValidFrom.UTC(),
		ValidUntil:         req.ValidUntil.UTC(),
		CreatedBy:          req.CreatedBy,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := s.repo.Create(ctx, s.db, row); err != nil {
		s.log.Error("failed to create promotion code", zap.String("code", code), zap.Error(err))
		return nil, err
	}
	s.log.Info("promotion code created",
		zap.String("code", code),
		zap.Int64("credits_amount", row.CreditsAmount),
		zap.Time("valid_until", row.ValidUntil),
	)
	return row, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.PromotionCode, error) {
	return s.repo.GetByID(ctx, s.db, id)
}

func (s *Service) List(ctx context.Context, filter domain.ListFilter) ([]*domain.PromotionCode, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 250 {
		filter.Limit = 250
	}
	return s.repo.List(ctx, s.db, filter)
}

func (s *Service) Update(ctx context.Context, id snowflake.ID, req domain.UpdatePromotionCodeRequest) (*domain.PromotionCode, error) {
	existing, err := s.repo.GetByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}

	if req.ValidUntil != nil && !req.ValidUntil.After(existing.ValidFrom) {
		return nil, domain.ErrInvalidWindow
	}
	// The ceiling may move, but never below what has already been spent.
	if req.MaxTotalUses != nil && *req.MaxTotalUses < existing.CurrentTotalUses {
		return nil, domain.ErrInvalidLimit
	}

	update := domain.SafeFieldUpdate{
		Description:  req.Description,
		Active:       req.Active,
		ValidUntil:   req.ValidUntil,
		MaxTotalUses: req.MaxTotalUses,
		ClearMaxUses: req.ClearMaxUses,
	}
	if err := s.repo.UpdateSafeFields(ctx, s.db, id, update); err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, s.db, id)
}

func (s *Service) Deactivate(ctx context.Context, id snowflake.ID) error {
	if err := s.repo.Deactivate(ctx, s.db, id); err != nil {
		return err
	}
	s.log.Info("promotion code deactivated", zap.String("id", id.String()))
	return nil
}
