package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/mail"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/expert-match/internal/core/domain"
	"github.com/kirillkom/expert-match/internal/core/ports"
)

const maxCVBytes = 20 << 20

type IngestExpertUseCase struct {
	repo      ports.ExpertRepository
	storage   ports.ObjectStorage
	queue     ports.MessageQueue
	extractor ports.TextExtractor
	roster    ports.RosterReader
	now       func() time.Time
}

func NewIngestExpertUseCase(
	repo ports.ExpertRepository,
	storage ports.ObjectStorage,
	queue ports.MessageQueue,
	extractor ports.TextExtractor,
	roster ports.RosterReader,
) *IngestExpertUseCase {
	return &IngestExpertUseCase{
		repo:      repo,
		storage:   storage,
		queue:     queue,
		extractor: extractor,
		roster:    roster,
		now:       time.Now,
	}
}

// Register stores a new expert profile and schedules it for indexing.
func (uc *IngestExpertUseCase) Register(ctx context.Context, profile domain.ExpertProfile) (*domain.ExpertProfile, error) {
	if err := validateProfile(profile); err != nil {
		return nil, err
	}

	now := uc.now().UTC()
	if strings.TrimSpace(profile.ID) == "" {
		profile.ID = uuid.NewString()
	}
	profile.Name = strings.TrimSpace(profile.Name)
	profile.Email = strings.TrimSpace(profile.Email)
	profile.Skills = domain.NormalizeTerms(profile.Skills)
	profile.Technologies = domain.NormalizeTerms(profile.Technologies)
	profile.Domains = domain.NormalizeTerms(profile.Domains)
	profile.Status = domain.ExpertStatusRegistered
	profile.Error = ""
	profile.CreatedAt = now
	profile.UpdatedAt = now

	if err := uc.repo.Create(ctx, &profile); err != nil {
		return nil, fmt.Errorf("create expert profile: %w", err)
	}
	if err := uc.queue.PublishExpertIngested(ctx, profile.ID); err != nil {
		return nil, fmt.Errorf("publish ingestion event: %w", err)
	}
	return &profile, nil
}

// ImportRoster registers every row of a spreadsheet roster. Rows registered before a failure stay registered.
func (uc *IngestExpertUseCase) ImportRoster(ctx context.Context, body io.Reader) ([]domain.ExpertProfile, error) {
	if uc.roster == nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "import roster", errors.New("roster import is not configured"))
	}
	profiles, err := uc.roster.ReadProfiles(ctx, body)
	if err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}
	if len(profiles) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "import roster", errors.New("roster has no expert rows"))
	}

	out := make([]domain.ExpertProfile, 0, len(profiles))
	for idx, profile := range profiles {
		registered, err := uc.Register(ctx, profile)
		if err != nil {
			return out, fmt.Errorf("roster row %d: %w", idx+1, err)
		}
		out = append(out, *registered)
	}
	return out, nil
}

// AttachCV stores a CV file, folds its text into the profile and re-indexes the expert.
func (uc *IngestExpertUseCase) AttachCV(ctx context.Context, expertID, filename string, body io.Reader) (*domain.ExpertProfile, error) {
	profile, err := uc.repo.GetByID(ctx, expertID)
	if err != nil {
		return nil, fmt.Errorf("fetch expert: %w", err)
	}

	data, err := io.ReadAll(io.LimitReader(body, maxCVBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read cv: %w", err)
	}
	if len(data) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "attach cv", errors.New("empty cv file"))
	}
	if len(data) > maxCVBytes {
		return nil, domain.WrapError(domain.ErrInvalidInput, "attach cv", errors.New("cv file is too large"))
	}

	text, err := uc.extractor.Extract(ctx, filename, data)
	if err != nil {
		return nil, fmt.Errorf("extract cv text: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "attach cv", errors.New("empty extracted text"))
	}

	key := fmt.Sprintf("%s_%s", profile.ID, sanitizeFilename(filename))
	if err := uc.storage.Save(ctx, key, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("save cv to storage: %w", err)
	}

	profile.CVPath = key
	profile.Bio = strings.TrimSpace(text)
	profile.Status = domain.ExpertStatusRegistered
	profile.Error = ""
	profile.UpdatedAt = uc.now().UTC()
	if err := uc.repo.Update(ctx, profile); err != nil {
		return nil, fmt.Errorf("update expert profile: %w", err)
	}
	if err := uc.queue.PublishExpertIngested(ctx, profile.ID); err != nil {
		return nil, fmt.Errorf("publish ingestion event: %w", err)
	}
	return profile, nil
}

func (uc *IngestExpertUseCase) GetByID(ctx context.Context, id string) (*domain.ExpertProfile, error) {
	return uc.repo.GetByID(ctx, id)
}

func validateProfile(profile domain.ExpertProfile) error {
	if strings.TrimSpace(profile.Name) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "validate expert", errors.New("name is required"))
	}
	if email := strings.TrimSpace(profile.Email); email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			return domain.WrapError(domain.ErrInvalidInput, "validate expert", fmt.Errorf("invalid email %q", email))
		}
	}
	if len(domain.NormalizeTerms(profile.Skills)) == 0 && len(domain.NormalizeTerms(profile.Technologies)) == 0 {
		return domain.WrapError(domain.ErrInvalidInput, "validate expert", errors.New("at least one skill or technology is required"))
	}
	return nil
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." {
		return "cv.bin"
	}
	return base
}
