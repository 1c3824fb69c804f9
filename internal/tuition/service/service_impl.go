package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/classbridge/schoolops/internal/clock"
	"github.com/classbridge/schoolops/internal/schoolerr"
	storedomain "github.com/classbridge/schoolops/internal/store/domain"
	"github.com/classbridge/schoolops/internal/tenantctx"
	"github.com/classbridge/schoolops/internal/tuition/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type ServiceParam struct {
	fx.In

	Store storedomain.EntityStore
	Log   *zap.Logger
	Clock clock.Clock
}

type Service struct {
	store storedomain.EntityStore
	log   *zap.Logger
	clock clock.Clock
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		store: p.Store,
		log:   p.Log.Named("tuition.service"),
		clock: p.Clock,
	}
}

func (s *Service) CreateConfiguration(ctx context.Context, cfg domain.TuitionConfiguration) (*domain.TuitionConfiguration, error) {
	tenantID, ok := tenantctx.TenantID(ctx)
	if !ok {
		return nil, schoolerr.New(schoolerr.CodeTenantMissing, "no tenant in context")
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	rec, err := storedomain.NewRecord(
		tenantID,
		domain.Key(cfg.SchoolID, cfg.AcademicYear),
		domain.EntityType,
		cfg,
		storedomain.IndexKeys{},
		tenantctx.Actor(ctx),
		s.clock.Now(),
	)
	if err != nil {
		return nil, err
	}

	if err := s.store.PutIfAbsent(ctx, rec); err != nil {
		if errors.Is(err, storedomain.ErrAlreadyExists) {
			return nil, schoolerr.New(schoolerr.CodeConfigurationExists, "tuition configuration already exists").
				WithEntity("school", cfg.SchoolID).
				WithEntity("academicYear", cfg.AcademicYear)
		}
		return nil, err
	}

	s.log.Info("tuition configuration created",
		zap.String("tenant_id", tenantID),
		zap.String("school_id", cfg.SchoolID),
		zap.String("academic_year", cfg.AcademicYear),
		zap.Int("grades", len(cfg.GradeRates)),
	)
	return &cfg, nil
}

func (s *Service) GetConfiguration(ctx context.Context, schoolID, academicYear string) (*domain.TuitionConfiguration, error) {
	tenantID, ok := tenantctx.TenantID(ctx)
	if !ok {
		return nil, schoolerr.New(schoolerr.CodeTenantMissing, "no tenant in context")
	}

	rec, err := s.store.Get(ctx, tenantID, domain.Key(schoolID, academicYear))
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, schoolerr.New(schoolerr.CodeConfigurationMissing, "tuition configuration not found").
			WithEntity("school", schoolID).
			WithEntity("academicYear", academicYear)
	}

	var cfg domain.TuitionConfiguration
	if err := rec.Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validate(cfg domain.TuitionConfiguration) error {
	switch {
	case strings.TrimSpace(cfg.SchoolID) == "":
		return schoolerr.New(schoolerr.CodeValidationFailed, "schoolId is required")
	case strings.TrimSpace(cfg.AcademicYear) == "":
		return schoolerr.New(schoolerr.CodeValidationFailed, "academicYear is required")
	case strings.TrimSpace(cfg.Currency) == "":
		return schoolerr.New(schoolerr.CodeValidationFailed, "currency is required")
	case len(cfg.GradeRates) == 0:
		return schoolerr.New(schoolerr.CodeValidationFailed, "gradeRates must not be empty")
	}
	for grade, rate := range cfg.GradeRates {
		if rate < 0 {
			return schoolerr.New(schoolerr.CodeValidationFailed,
				fmt.Sprintf("negative rate for grade %q", grade))
		}
	}
	for _, d := range cfg.Discounts {
		if d.Percent < 0 || d.Percent > 100 {
			return schoolerr.New(schoolerr.CodeValidationFailed,
				fmt.Sprintf("discount %q percent out of range", d.Name))
		}
		if d.Percent > 0 && d.FlatAmount > 0 {
			return schoolerr.New(schoolerr.CodeValidationFailed,
				fmt.Sprintf("discount %q sets both percent and flat amount", d.Name))
		}
	}
	return nil
}
